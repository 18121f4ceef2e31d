package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// MarkdownFormatter formats a report as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the report as Markdown tables to w.
func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	now := input.now()

	fmt.Fprintf(w, "# mdspull runs\n\n")
	fmt.Fprintf(w, "%d runs since %s\n\n", len(input.Runs), formatDuration(input.Since))

	if len(input.Runs) == 0 && len(input.Stats) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	if len(input.Stats) > 0 {
		fmt.Fprintf(w, "## Providers\n\n")
		fmt.Fprintln(w, "| Provider | Kind | Runs | Failed | Accepted | Rejected | Last success |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
		for _, ps := range input.Stats {
			last := "never"
			if !ps.LastSuccess.IsZero() {
				last = humanize.RelTime(ps.LastSuccess, now, "ago", "from now")
			}
			fmt.Fprintf(w, "| %s | %s | %d | %d | %s | %s | %s |\n",
				ps.Provider, ps.Kind, ps.Runs, ps.Failed,
				humanize.Comma(int64(ps.Accepted)), humanize.Comma(int64(ps.Rejected)), last)
		}
		fmt.Fprintln(w)
	}

	if failed := failedRuns(input.Runs); len(failed) > 0 {
		fmt.Fprintf(w, "## Failed (%d)\n\n", len(failed))
		for _, r := range failed {
			fmt.Fprintf(w, "- `%s` %s/%s: %s\n", shortID(r.ID), r.Provider, r.Kind, escapeMarkdown(r.Error))
		}
		fmt.Fprintln(w)
	}

	if len(input.Runs) > 0 {
		fmt.Fprintf(w, "## Runs (%d)\n\n", len(input.Runs))
		fmt.Fprintln(w, "| Run | Provider | Kind | Status | Window | Pages | Accepted | Rejected | Skipped |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|")
		for _, r := range input.Runs {
			fmt.Fprintf(w, "| `%s` | %s | %s | %s | %s | %d | %d | %d | %d |\n",
				shortID(r.ID), r.Provider, r.Kind, r.Status, formatWindow(r.WindowStart, r.WindowStop),
				r.Pages, r.Accepted, r.Rejected, r.Skipped)
		}
	}

	return nil
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
