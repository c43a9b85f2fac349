package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/golineage/evidence"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List upload sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sessions, err := evidence.ListSessions(cfg.OutputDir)
	if err != nil {
		return err
	}
	if sessionsJSON {
		if sessions == nil {
			sessions = []evidence.Session{}
		}
		return printJSON(cmd.OutOrStdout(), sessions)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMODIFIED\tENTITIES")
	for _, s := range sessions {
		entities := "-"
		if cat, err := evidence.LoadCatalog(s); err == nil {
			n := 0
			for std := range cat.Standards {
				n += len(cat.EntityNames(std))
			}
			entities = fmt.Sprint(n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.ModTime.Format(time.DateTime), entities)
	}
	return tw.Flush()
}
