package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/golineage"
	"github.com/brunobiangulo/golineage/evidence"
)

var (
	traceDataset string
	traceSession string
	traceFull    bool
	traceTree    bool
)

var traceCmd = &cobra.Command{
	Use:   "trace <variable | endpoint | display | cell spec>",
	Short: "Build the lineage graph for one target",
	Long: `Build the lineage graph for one target and print it as JSON.

Without --dataset the target text is classified: "ADSL.AGE" is a variable,
"T14.2.1" a display, "T14.2.1 | Week 4 | mean" a cell, and endpoint or
objective wording an endpoint.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVarP(&traceDataset, "dataset", "d", "", `Dataset, or "endpoint" / "table"`)
	traceCmd.Flags().StringVarP(&traceSession, "session", "s", "", "Session id (default: latest session)")
	traceCmd.Flags().BoolVar(&traceFull, "full", false, "Print the run record (route, model, tokens, trace) around the graph")
	traceCmd.Flags().BoolVar(&traceTree, "tree", false, "Print the target's ancestry as an indented tree instead of JSON")
	traceCmd.MarkFlagsMutuallyExclusive("full", "tree")
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := golineage.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	text := strings.Join(args, " ")
	req := golineage.Request{Dataset: traceDataset, Variable: text}
	if traceDataset == "" {
		req = eng.ClassifyText(cmd.Context(), text)
	}

	var sess evidence.Session
	if traceSession != "" {
		sess, err = evidence.OpenSession(cfg.OutputDir, traceSession)
	} else {
		sess, err = eng.LatestSession()
	}
	if err != nil {
		return err
	}

	res, err := eng.Trace(cmd.Context(), sess, req)
	if err != nil {
		return err
	}
	if traceTree {
		return printTree(cmd.OutOrStdout(), res.Graph, res.TargetID)
	}
	if traceFull {
		return printJSON(cmd.OutOrStdout(), res)
	}
	return printJSON(cmd.OutOrStdout(), res.Graph)
}
