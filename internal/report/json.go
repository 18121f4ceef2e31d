package report

import (
	"encoding/json"
	"io"
	"time"
)

type jsonReport struct {
	Meta      jsonMeta       `json:"meta"`
	Providers []jsonProvider `json:"providers"`
	Runs      []jsonRun      `json:"runs"`
}

type jsonMeta struct {
	Runs   int    `json:"runs"`
	Failed int    `json:"failed"`
	Since  string `json:"since"`
}

type jsonProvider struct {
	Provider    string `json:"provider"`
	Kind        string `json:"kind"`
	Runs        int    `json:"runs"`
	Failed      int    `json:"failed"`
	Accepted    int    `json:"accepted"`
	Rejected    int    `json:"rejected"`
	LastSuccess string `json:"last_success,omitempty"`
}

type jsonRun struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	WindowStart int64  `json:"window_start"`
	WindowStop  int64  `json:"window_stop"`
	Pages       int    `json:"pages"`
	Records     int    `json:"records"`
	Accepted    int    `json:"accepted"`
	Rejected    int    `json:"rejected"`
	Skipped     int    `json:"skipped"`
	Error       string `json:"error,omitempty"`
	AuditPath   string `json:"audit_path"`
	OutputPath  string `json:"output_path,omitempty"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// JSONFormatter formats a report as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the report as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	out := jsonReport{
		Meta: jsonMeta{
			Runs:   len(input.Runs),
			Failed: len(failedRuns(input.Runs)),
			Since:  formatDuration(input.Since),
		},
		Providers: make([]jsonProvider, 0, len(input.Stats)),
		Runs:      make([]jsonRun, 0, len(input.Runs)),
	}

	for _, ps := range input.Stats {
		out.Providers = append(out.Providers, jsonProvider{
			Provider:    ps.Provider,
			Kind:        ps.Kind,
			Runs:        ps.Runs,
			Failed:      ps.Failed,
			Accepted:    ps.Accepted,
			Rejected:    ps.Rejected,
			LastSuccess: formatTimestamp(ps.LastSuccess),
		})
	}

	for _, r := range input.Runs {
		out.Runs = append(out.Runs, jsonRun{
			ID:          r.ID,
			Provider:    r.Provider,
			Kind:        r.Kind,
			Status:      r.Status,
			WindowStart: r.WindowStart,
			WindowStop:  r.WindowStop,
			Pages:       r.Pages,
			Records:     r.Records,
			Accepted:    r.Accepted,
			Rejected:    r.Rejected,
			Skipped:     r.Skipped,
			Error:       r.Error,
			AuditPath:   r.AuditPath,
			OutputPath:  r.OutputPath,
			StartedAt:   formatTimestamp(r.StartedAt),
			FinishedAt:  formatTimestamp(r.FinishedAt),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
