// Package report renders the run ledger for the runs command.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/mdspull/internal/store"
)

// Input is the full input for a report formatter.
type Input struct {
	Runs  []store.Run
	Stats []store.ProviderStats
	Since time.Duration // lookback window
	Now   time.Time     // reference for relative times, time.Now when zero
}

func (in Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// Formatter writes a formatted report to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// New returns the formatter for format: terminal, json or markdown.
func New(format string, color bool) (Formatter, error) {
	switch format {
	case "", "terminal":
		return NewTerminal(color), nil
	case "json":
		return NewJSON(), nil
	case "markdown":
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal, json, or markdown)", format)
	}
}

func failedRuns(runs []store.Run) []store.Run {
	var failed []store.Run
	for _, r := range runs {
		if r.Status == store.StatusError {
			failed = append(failed, r)
		}
	}
	return failed
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}

func formatWindow(start, stop int64) string {
	return time.Unix(start, 0).UTC().Format("2006-01-02 15:04") + " .. " +
		time.Unix(stop, 0).UTC().Format("2006-01-02 15:04")
}
