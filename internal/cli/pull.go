package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/mdspull/internal/audit"
	"github.com/ppiankov/mdspull/internal/config"
	"github.com/ppiankov/mdspull/internal/ingest"
	"github.com/ppiankov/mdspull/internal/metrics"
	"github.com/ppiankov/mdspull/internal/privacy"
	"github.com/ppiankov/mdspull/internal/provider"
	"github.com/ppiankov/mdspull/internal/scan"
	"github.com/ppiankov/mdspull/internal/store"
)

const dayLayout = "2006-01-02"

var (
	pullDay       string
	pullStart     int64
	pullStop      int64
	pullProviders []string
	pullKinds     []string
	pullSkipSeen  bool
	pullStdout    bool
)

// now is replaced in tests.
var now = time.Now

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch trips and status changes from configured providers",
	RunE:  pullAction,
}

func init() {
	registerPullFlags(pullCmd)
}

func registerPullFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&pullDay, "day", "", "UTC day to pull (YYYY-MM-DD, default yesterday)")
	cmd.Flags().Int64Var(&pullStart, "start", 0, "window start in seconds since the epoch (with --stop)")
	cmd.Flags().Int64Var(&pullStop, "stop", 0, "window stop in seconds since the epoch (with --start)")
	cmd.Flags().StringSliceVar(&pullProviders, "provider", nil, "only pull these providers")
	cmd.Flags().StringSliceVar(&pullKinds, "kind", nil, "only pull these kinds: trips, status_changes")
	cmd.Flags().BoolVar(&pullSkipSeen, "skip-seen", false, "skip records already signed in the audit log")
	cmd.Flags().BoolVar(&pullStdout, "stdout", false, "write NDJSON to stdout instead of output files")
}

// pullTarget is one provider and kind to ingest.
type pullTarget struct {
	provider config.ProviderConfig
	kind     provider.Kind
}

func pullAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	window, day, err := resolveWindow(pullDay, pullStart, pullStop, now())
	if err != nil {
		return err
	}

	targets, err := selectTargets(cfg, pullProviders, pullKinds)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	redact, err := privacy.CompileWithDefaults(cfg.Privacy.Redact)
	if err != nil {
		return fmt.Errorf("compile redact patterns: %w", err)
	}

	collector := metrics.New()
	scanner := scan.New(
		scan.WithTimeout(cfg.HTTP.Timeout.Duration),
		scan.WithLogger(slog.Default()),
		scan.WithRedaction(redact),
	)
	ing := ingest.New(scanner,
		ingest.WithMetrics(collector),
		ingest.WithLogger(slog.Default()),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var failures []error
	var totalAccepted int
	for _, tgt := range targets {
		res, err := pullOne(ctx, cfg, db, ing, tgt, window, day)
		if err != nil {
			failures = append(failures, err)
			fmt.Fprintf(os.Stderr, "warning: %s/%s: %v\n", tgt.provider.Name, tgt.kind, privacy.Apply(err.Error(), redact))
			continue
		}
		totalAccepted += res.Accepted
		if !pullStdout {
			fmt.Printf("%s/%s: %s pages, %s records, %s accepted, %s rejected, %s skipped in %s\n",
				tgt.provider.Name, tgt.kind,
				humanize.Comma(int64(res.Pages)),
				humanize.Comma(int64(res.Records)),
				humanize.Comma(int64(res.Accepted)),
				humanize.Comma(int64(res.Rejected)),
				humanize.Comma(int64(res.Skipped)),
				res.Duration.Round(time.Millisecond),
			)
		}
	}

	pruned, err := db.PruneOld(ctx, cfg.Storage.RetainDays)
	if err != nil {
		return fmt.Errorf("prune old: %w", err)
	}

	if cfg.Metrics.Textfile != "" {
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			slog.Warn("write metrics textfile failed", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	if !pullStdout {
		fmt.Printf("Pulled %s records for %s from %d targets", humanize.Comma(int64(totalAccepted)), day.Format(dayLayout), len(targets))
		if pruned > 0 {
			fmt.Printf(" (%d old runs pruned)", pruned)
		}
		fmt.Println()
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d targets failed: %w", len(failures), len(targets), errors.Join(failures...))
	}
	return nil
}

// pullOne runs a single ingestion and records it in the ledger. The run is
// marked failed in the ledger even when the output file cannot be opened.
func pullOne(ctx context.Context, cfg *config.Config, db *store.Store, ing *ingest.Ingester, tgt pullTarget, window provider.Window, day time.Time) (ingest.Result, error) {
	name, kind := tgt.provider.Name, tgt.kind.String()
	auditPath := audit.PathFor(cfg.Audit.Dir, day, name, kind)

	outputPath := ""
	if !pullStdout {
		outputPath = outputPathFor(cfg.Output.Dir, day, name, kind)
	}

	run, err := db.StartRun(ctx, store.RunInput{
		Provider:    name,
		Kind:        kind,
		WindowStart: window.Start,
		WindowStop:  window.Stop,
		AuditPath:   auditPath,
		OutputPath:  outputPath,
		StartedAt:   now(),
	})
	if err != nil {
		return ingest.Result{}, fmt.Errorf("start run: %w", err)
	}

	res, runErr := ingestTarget(ctx, cfg, ing, tgt, window, run.ID, auditPath, outputPath)

	if err := db.FinishRun(ctx, run.ID, store.RunResult{
		Pages:      res.Pages,
		Records:    res.Records,
		Accepted:   res.Accepted,
		Rejected:   res.Rejected,
		Skipped:    res.Skipped,
		Err:        runErr,
		FinishedAt: now(),
	}); err != nil {
		return res, errors.Join(runErr, fmt.Errorf("finish run: %w", err))
	}
	return res, runErr
}

func ingestTarget(ctx context.Context, cfg *config.Config, ing *ingest.Ingester, tgt pullTarget, window provider.Window, runID, auditPath, outputPath string) (ingest.Result, error) {
	var seen audit.Set
	if pullSkipSeen {
		var err error
		seen, err = audit.Load(auditPath)
		if err != nil {
			return ingest.Result{RunID: runID}, fmt.Errorf("load audit log: %w", err)
		}
	}

	var stream io.Writer = os.Stdout
	if outputPath != "" {
		f, err := openOutput(outputPath)
		if err != nil {
			return ingest.Result{RunID: runID}, err
		}
		defer func() { _ = f.Close() }()
		stream = f
	}

	return ing.Run(ctx, ingest.Job{
		RunID:     runID,
		Provider:  tgt.provider.Descriptor(),
		Kind:      tgt.kind,
		Window:    window,
		Stream:    stream,
		AuditPath: auditPath,
		Version:   cfg.SigningVersion(tgt.provider),
		Config:    cfg.Matcher.For(tgt.provider.Name),
		Seen:      seen,
	})
}

func openOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return f, nil
}

// outputPathFor returns <dir>/<YYYY-MM-DD>/<provider>-<kind>.ndjson.
func outputPathFor(dir string, day time.Time, providerName, kind string) string {
	return filepath.Join(dir, day.UTC().Format(dayLayout), providerName+"-"+kind+".ndjson")
}

// resolveWindow turns --day or --start/--stop into a query window and the
// UTC day that names output and audit files.
func resolveWindow(day string, start, stop int64, ref time.Time) (provider.Window, time.Time, error) {
	if start != 0 || stop != 0 {
		if day != "" {
			return provider.Window{}, time.Time{}, errors.New("--day cannot be combined with --start/--stop")
		}
		if start == 0 || stop == 0 {
			return provider.Window{}, time.Time{}, errors.New("--start and --stop must be given together")
		}
		if stop <= start {
			return provider.Window{}, time.Time{}, fmt.Errorf("--stop %d must be after --start %d", stop, start)
		}
		d := time.Unix(start, 0).UTC().Truncate(24 * time.Hour)
		return provider.Window{Start: start, Stop: stop}, d, nil
	}

	var d time.Time
	if day == "" {
		d = ref.UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	} else {
		parsed, err := time.Parse(dayLayout, day)
		if err != nil {
			return provider.Window{}, time.Time{}, fmt.Errorf("parse --day: %w", err)
		}
		d = parsed
	}
	return provider.Window{Start: d.Unix(), Stop: d.AddDate(0, 0, 1).Unix()}, d, nil
}

// selectTargets expands the provider and kind filters into targets. Kinds a
// provider has no endpoint for are left out unless asked for by name.
func selectTargets(cfg *config.Config, providers, kinds []string) ([]pullTarget, error) {
	for _, name := range providers {
		if _, ok := cfg.Provider(name); !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}

	wantKinds := provider.Kinds
	if len(kinds) > 0 {
		wantKinds = nil
		for _, k := range kinds {
			kind, err := provider.ParseKind(k)
			if err != nil {
				return nil, err
			}
			wantKinds = append(wantKinds, kind)
		}
	}

	var targets []pullTarget
	for _, p := range cfg.Providers {
		if len(providers) > 0 && !slices.Contains(providers, p.Name) {
			continue
		}
		desc := p.Descriptor()
		for _, kind := range wantKinds {
			if desc.Endpoint(kind) == "" && len(kinds) == 0 {
				continue
			}
			targets = append(targets, pullTarget{provider: p, kind: kind})
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("nothing to pull: no provider matches the filters")
	}
	return targets, nil
}
