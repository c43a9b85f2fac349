// Command golineage traces clinical-trial lineage from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/golineage"
)

var (
	configPath string
	logLevel   string
	outputDir  string
)

var rootCmd = &cobra.Command{
	Use:   "golineage",
	Short: "Trace Protocol → CRF → SDTM → ADaM → TLF lineage",
	Long: `golineage builds lineage graphs for ADaM variables, endpoints and TLF
displays or cells from the evidence of an upload session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "Session output directory (overrides config)")

	rootCmd.AddCommand(traceCmd, sessionsCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies defaults, the config file, the environment and then
// command-line overrides.
func loadConfig() (golineage.Config, error) {
	cfg := golineage.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = golineage.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
