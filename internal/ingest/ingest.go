// Package ingest pulls one provider's trips or status changes for a time
// window, signs every accepted record into the audit log, and streams it
// as NDJSON.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/mdspull/internal/audit"
	"github.com/ppiankov/mdspull/internal/match"
	"github.com/ppiankov/mdspull/internal/metrics"
	"github.com/ppiankov/mdspull/internal/provider"
	"github.com/ppiankov/mdspull/internal/scan"
)

// Job is one ingestion call. Concurrent jobs must not share Stream or
// AuditPath.
type Job struct {
	RunID     string // generated when empty
	Provider  provider.Descriptor
	Kind      provider.Kind
	Window    provider.Window
	Stream    io.Writer
	AuditPath string
	Version   string // HMAC key for signatures
	Config    match.Config
	Graph     match.Graph

	// Seen, when non-nil, holds signatures from earlier runs; matching
	// records are skipped instead of emitted.
	Seen audit.Set
}

// Result summarizes a run. It is filled in as far as the run got, even when
// an error is returned.
type Result struct {
	RunID    string
	Pages    int
	Records  int
	Accepted int
	Rejected int
	Skipped  int
	Duration time.Duration
}

// Ingester drives the scanner and processor for a job.
type Ingester struct {
	scanner  *scan.Scanner
	matchers match.Set
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithMatchers replaces the default matchers.
func WithMatchers(s match.Set) Option {
	return func(in *Ingester) {
		in.matchers = s
	}
}

// WithMetrics records page and record counts on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(in *Ingester) {
		in.metrics = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingester) {
		in.logger = l
	}
}

// New creates an Ingester. A nil scanner gets the default one.
func New(scanner *scan.Scanner, opts ...Option) *Ingester {
	if scanner == nil {
		scanner = scan.New()
	}
	in := &Ingester{
		scanner:  scanner,
		matchers: match.Defaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Trips ingests job as a trips query.
func (in *Ingester) Trips(ctx context.Context, job Job) (Result, error) {
	job.Kind = provider.Trips
	return in.Run(ctx, job)
}

// Changes ingests job as a status-changes query.
func (in *Ingester) Changes(ctx context.Context, job Job) (Result, error) {
	job.Kind = provider.StatusChanges
	return in.Run(ctx, job)
}

// Run scans every page for job and processes its records in order. The
// first error stops the run; whatever was already logged and emitted stays.
func (in *Ingester) Run(ctx context.Context, job Job) (Result, error) {
	res := Result{RunID: job.RunID}
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}

	req, err := provider.BuildRequest(job.Provider, job.Kind, job.Window)
	if err != nil {
		return res, err
	}

	m, err := in.matchers.For(job.Kind)
	if err != nil {
		return res, err
	}

	proc, err := NewProcessor(job, m)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", job.Provider.Name, job.Kind, err)
	}

	name, kind := job.Provider.Name, job.Kind.String()
	logger := in.logger.With("run_id", res.RunID, "provider", name, "kind", kind)
	logger.Info("ingestion started", "start", job.Window.Start, "stop", job.Window.Stop)

	started := time.Now()
	stats, err := in.scanner.Scan(ctx, req, job.Kind.Field(), func(ctx context.Context, page scan.Page) error {
		in.metrics.Page(name, kind)
		for i, raw := range page.Records {
			outcome, err := proc.Process(ctx, raw)
			if err != nil {
				return fmt.Errorf("page %d record %d: %w", page.Number, i, err)
			}
			in.metrics.Record(name, kind, string(outcome))
			switch outcome {
			case Accepted:
				res.Accepted++
			case Rejected:
				res.Rejected++
			case Skipped:
				res.Skipped++
			}
		}
		return nil
	})
	res.Pages = stats.Pages
	res.Records = stats.Records
	res.Duration = time.Since(started)
	in.metrics.Run(name, kind, res.Duration, err)

	if err != nil {
		logger.Error("ingestion failed", "pages", res.Pages, "accepted", res.Accepted, "error", err)
		return res, fmt.Errorf("%s %s: %w", name, kind, err)
	}

	logger.Info("ingestion complete",
		"pages", res.Pages,
		"records", res.Records,
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"skipped", res.Skipped,
		"duration", res.Duration,
	)
	return res, nil
}
