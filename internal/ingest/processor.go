package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/mdspull/internal/audit"
	"github.com/ppiankov/mdspull/internal/match"
	"github.com/ppiankov/mdspull/internal/metrics"
)

var (
	// ErrMatcher wraps failures reported by the matcher or an unserializable
	// matcher result.
	ErrMatcher = errors.New("matcher failed")

	// ErrLogWrite wraps audit log append failures.
	ErrLogWrite = errors.New("audit log write failed")

	// ErrStreamWrite wraps output stream failures.
	ErrStreamWrite = errors.New("output stream write failed")
)

// Outcome is what happened to one raw record.
type Outcome string

const (
	Accepted Outcome = metrics.OutcomeAccepted
	Rejected Outcome = metrics.OutcomeRejected
	Skipped  Outcome = metrics.OutcomeSkipped
)

// Processor runs one raw record through the matcher and, on acceptance,
// appends its signature to the audit log before writing it to the stream.
type Processor struct {
	matcher match.Matcher
	cfg     match.Config
	graph   match.Graph
	version string
	log     *audit.Log
	stream  io.Writer
	seen    audit.Set
}

// NewProcessor builds the processor for job using m.
func NewProcessor(job Job, m match.Matcher) (*Processor, error) {
	if m == nil {
		return nil, errors.New("matcher is required")
	}
	if job.Stream == nil {
		return nil, errors.New("output stream is required")
	}
	if job.Version == "" {
		return nil, errors.New("signing version is required")
	}
	log, err := audit.Open(job.AuditPath)
	if err != nil {
		return nil, err
	}

	return &Processor{
		matcher: m,
		cfg:     job.Config,
		graph:   job.Graph,
		version: job.Version,
		log:     log,
		stream:  job.Stream,
		seen:    job.Seen,
	}, nil
}

// Process handles one record. Errors are fatal for the ingestion.
func (p *Processor) Process(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	rec, ok, err := p.matcher.Match(ctx, raw, p.cfg, p.graph)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMatcher, err)
	}
	if !ok {
		return Rejected, nil
	}

	data, err := Canonical(rec)
	if err != nil {
		return "", fmt.Errorf("%w: serialize record: %w", ErrMatcher, err)
	}

	sig := audit.Sign(p.version, data)
	if p.seen != nil {
		if p.seen.Has(sig) {
			return Skipped, nil
		}
		p.seen.Add(sig)
	}

	if err := p.log.Append(sig); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLogWrite, err)
	}

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := p.stream.Write(line); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamWrite, err)
	}

	return Accepted, nil
}

// Canonical serializes rec as compact JSON without HTML escaping. Map keys
// come out sorted, so equal content always yields equal bytes.
func Canonical(rec any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
