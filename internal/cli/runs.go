package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ppiankov/mdspull/internal/config"
	"github.com/ppiankov/mdspull/internal/report"
	"github.com/ppiankov/mdspull/internal/store"
)

var (
	runsSince    string
	runsFormat   string
	runsProvider string
	runsKind     string
	runsStatus   string
	noColor      bool
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"stats"},
	Short:   "Show recorded ingestion runs",
	RunE:    runsAction,
}

func init() {
	runsCmd.Flags().StringVar(&runsSince, "since", "7d", "time window (e.g. 7d, 48h)")
	runsCmd.Flags().StringVar(&runsFormat, "format", "terminal", "output format: terminal, json, markdown")
	runsCmd.Flags().StringVar(&runsProvider, "provider", "", "only runs of this provider")
	runsCmd.Flags().StringVar(&runsKind, "kind", "", "only runs of this kind")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "only runs with this status: running, ok, error")
	runsCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(runsCmd)
}

func runsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	formatter, err := report.New(runsFormat, !noColor && isTerminal(os.Stdout))
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(runsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	sinceTime := now().Add(-sinceDur)

	ctx := cmd.Context()

	runs, err := db.ListRuns(ctx, sinceTime, store.RunFilter{
		Provider: runsProvider,
		Kind:     runsKind,
		Status:   runsStatus,
	})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	stats, err := db.GetProviderStats(ctx, sinceTime)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	return formatter.Format(os.Stdout, report.Input{
		Runs:  runs,
		Stats: filterStats(stats, runsProvider, runsKind),
		Since: sinceDur,
		Now:   now(),
	})
}

func filterStats(stats []store.ProviderStats, providerName, kind string) []store.ProviderStats {
	if providerName == "" && kind == "" {
		return stats
	}
	var out []store.ProviderStats
	for _, ps := range stats {
		if providerName != "" && ps.Provider != providerName {
			continue
		}
		if kind != "" && ps.Kind != kind {
			continue
		}
		out = append(out, ps)
	}
	return out
}

// parseDuration extends time.ParseDuration with a day suffix ("7d").
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
