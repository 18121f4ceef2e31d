package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/mdspull/internal/config"
	"github.com/ppiankov/mdspull/internal/provider"
	"github.com/ppiankov/mdspull/internal/store"
)

const staleDays = 2

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage, and provider settings",
	RunE:  doctorAction,
}

func doctorAction(_ *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%d providers)", len(cfg.Providers))

	// Database
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "database %s", cfg.Storage.Path)
	}

	// Output and audit directories
	for _, dir := range []string{cfg.Output.Dir, cfg.Audit.Dir} {
		if err := checkWritable(dir); err != nil {
			printCheck(false, "directory %s: %v", dir, err)
			ok = false
		} else {
			printCheck(true, "directory %s writable", dir)
		}
	}

	// Providers
	window := provider.Window{Start: 0, Stop: 1}
	for _, p := range cfg.Providers {
		desc := p.Descriptor()
		for _, kind := range provider.Kinds {
			if desc.Endpoint(kind) == "" {
				continue
			}
			if _, err := provider.BuildRequest(desc, kind, window); err != nil {
				printCheck(false, "%s/%s: %v", p.Name, kind, err)
				ok = false
				continue
			}
			printCheck(true, "%s/%s %s (version %s)", p.Name, kind, desc.Endpoint(kind), versionLabel(p.Version))
		}
		if p.Token == "" {
			if p.TokenEnv != "" {
				printInfo("%s: %s is not set, requests carry an empty Authorization header", p.Name, p.TokenEnv)
			} else {
				printInfo("%s: no token configured", p.Name)
			}
		}
	}

	// Ledger health (info-level, non-fatal)
	if db != nil {
		checkRunHealth(db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkRunHealth(db *store.Store) {
	ctx := context.Background()

	stats, err := db.GetProviderStats(ctx, now().AddDate(0, 0, -30))
	if err != nil || len(stats) == 0 {
		return
	}

	staleThreshold := now().AddDate(0, 0, -staleDays)
	fmt.Println()
	for _, ps := range stats {
		switch {
		case ps.LastSuccess.IsZero():
			printInfo("never succeeded: %s/%s, %d runs in 30 days", ps.Provider, ps.Kind, ps.Runs)
		case ps.LastSuccess.Before(staleThreshold):
			printInfo("stale: %s/%s last succeeded %s", ps.Provider, ps.Kind, humanize.RelTime(ps.LastSuccess, now(), "ago", "from now"))
		}
		if ps.Failed > 0 {
			printInfo("failing: %s/%s %d of %d runs failed in 30 days", ps.Provider, ps.Kind, ps.Failed, ps.Runs)
		}
	}
}

// checkWritable creates dir if needed and writes a probe file into it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, fmt.Sprintf(".doctor-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func versionLabel(v string) string {
	if v == "" {
		return "0.2 default"
	}
	return v
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
