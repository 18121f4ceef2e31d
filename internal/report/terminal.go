package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/mdspull/internal/store"
)

// TerminalFormatter formats a report for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes per-provider totals, then failures, then individual runs.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	now := input.now()

	header := fmt.Sprintf("mdspull: %d runs since %s", len(input.Runs), formatDuration(input.Since))
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(input.Runs) == 0 && len(input.Stats) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	if len(input.Stats) > 0 {
		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Providers (%d) ---", len(input.Stats))))
		fmt.Fprintln(w)
		for _, ps := range input.Stats {
			f.writeStats(w, ps, now)
		}
		fmt.Fprintln(w)
	}

	failed := failedRuns(input.Runs)
	if len(failed) > 0 {
		fmt.Fprintln(w, f.red(f.bold(fmt.Sprintf("--- Failed (%d) ---", len(failed)))))
		fmt.Fprintln(w)
		for _, r := range failed {
			fmt.Fprintf(w, "  %s %s/%s %s\n", f.dim(shortID(r.ID)), r.Provider, r.Kind, humanize.RelTime(r.StartedAt, now, "ago", "from now"))
			fmt.Fprintf(w, "      %s\n", r.Error)
		}
		fmt.Fprintln(w)
	}

	if len(input.Runs) > 0 {
		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Runs (%d) ---", len(input.Runs))))
		fmt.Fprintln(w)
		for _, r := range input.Runs {
			f.writeRun(w, r, now)
		}
	}

	return nil
}

func (f *TerminalFormatter) writeStats(w io.Writer, ps store.ProviderStats, now time.Time) {
	last := "never"
	if !ps.LastSuccess.IsZero() {
		last = humanize.RelTime(ps.LastSuccess, now, "ago", "from now")
	}
	line := fmt.Sprintf("  %-20s %s runs, %s accepted, %s rejected, last ok %s",
		ps.Provider+"/"+ps.Kind,
		humanize.Comma(int64(ps.Runs)),
		humanize.Comma(int64(ps.Accepted)),
		humanize.Comma(int64(ps.Rejected)),
		last,
	)
	if ps.Failed > 0 {
		line += " " + f.red(fmt.Sprintf("(%d failed)", ps.Failed))
	}
	fmt.Fprintln(w, line)
}

func (f *TerminalFormatter) writeRun(w io.Writer, r store.Run, now time.Time) {
	status := r.Status
	switch r.Status {
	case store.StatusOK:
		status = f.green(status)
	case store.StatusError:
		status = f.red(status)
	default:
		status = f.yellow(status)
	}

	fmt.Fprintf(w, "  [%s] %s/%s %s pages, %s records (%s accepted, %s rejected, %s skipped) %s\n",
		status,
		r.Provider,
		r.Kind,
		humanize.Comma(int64(r.Pages)),
		humanize.Comma(int64(r.Records)),
		humanize.Comma(int64(r.Accepted)),
		humanize.Comma(int64(r.Rejected)),
		humanize.Comma(int64(r.Skipped)),
		f.dim(humanize.RelTime(r.StartedAt, now, "ago", "from now")),
	)
	fmt.Fprintf(w, "      %s\n", f.dim(formatWindow(r.WindowStart, r.WindowStop)))
	if r.OutputPath != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(r.OutputPath))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) red(s string) string {
	if !f.color {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
