package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/golineage"
	"github.com/brunobiangulo/golineage/store"
)

var (
	runsSession string
	runsLimit   int
	runsJSON    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List logged lineage runs, or show one run with its graph",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVarP(&runsSession, "session", "s", "", "Only runs of this session")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Persist {
		return golineage.ErrPersistenceDisabled
	}
	eng, err := golineage.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if len(args) == 1 {
		run, err := eng.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), run)
	}

	runs, err := eng.Runs(cmd.Context(), store.RunFilter{SessionID: runsSession, Limit: runsLimit})
	if err != nil {
		return err
	}
	if runsJSON {
		if runs == nil {
			runs = []store.Run{}
		}
		return printJSON(cmd.OutOrStdout(), runs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tKIND\tTARGET\tNODES\tEDGES\tGAPS\tDEGRADED\tMODEL")
	for _, r := range runs {
		kind := r.Kind
		if r.DisplayMode != "" {
			kind += "/" + r.DisplayMode
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%t\t%s\n",
			r.RunID, r.CreatedAt, kind, r.TargetID, r.NodeCount, r.EdgeCount, r.GapCount, r.Degraded, r.ModelUsed)
	}
	return tw.Flush()
}
