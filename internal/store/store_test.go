package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mdspull.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func startTestRun(t *testing.T, st *Store, provider, kind string, startedAt time.Time) Run {
	t.Helper()
	run, err := st.StartRun(context.Background(), RunInput{
		Provider:    provider,
		Kind:        kind,
		WindowStart: 1000,
		WindowStop:  2000,
		AuditPath:   "/audit/" + provider + "-" + kind + ".log",
		OutputPath:  "/out/" + provider + "-" + kind + ".ndjson",
		StartedAt:   startedAt,
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	return run
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	startTestRun(t, st, "lime", "trips", time.Now())
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()

	runs, err := again.ListRuns(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStartAndFinishRun(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 17, 1, 0, 0, 0, time.UTC)
	run := startTestRun(t, st, "lime", "trips", started)

	if run.ID == "" {
		t.Fatal("expected run id")
	}
	if run.Status != StatusRunning {
		t.Fatalf("status = %q, want running", run.Status)
	}
	if !run.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", run.StartedAt, started)
	}
	if !run.FinishedAt.IsZero() {
		t.Fatalf("finished_at = %v, want zero", run.FinishedAt)
	}

	finished := started.Add(90 * time.Second)
	if err := st.FinishRun(ctx, run.ID, RunResult{
		Pages:      3,
		Records:    120,
		Accepted:   110,
		Rejected:   10,
		FinishedAt: finished,
	}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusOK || got.Pages != 3 || got.Records != 120 || got.Accepted != 110 || got.Rejected != 10 {
		t.Fatalf("run = %+v", got)
	}
	if got.Error != "" {
		t.Fatalf("error = %q, want empty", got.Error)
	}
	if !got.FinishedAt.Equal(finished) {
		t.Fatalf("finished_at = %v", got.FinishedAt)
	}
	if got.OutputPath != "/out/lime-trips.ndjson" {
		t.Fatalf("output_path = %q", got.OutputPath)
	}
}

func TestFinishRun_Error(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	run := startTestRun(t, st, "bird", "status_changes", time.Now())
	if err := st.FinishRun(ctx, run.ID, RunResult{
		Pages:      1,
		Err:        errors.New("provider request failed: HTTP 502"),
		FinishedAt: time.Now(),
	}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ := st.GetRun(ctx, run.ID)
	if got.Status != StatusError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	if got.Error != "provider request failed: HTTP 502" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	st, _ := openTestStore(t)
	err := st.FinishRun(context.Background(), "missing", RunResult{FinishedAt: time.Now()})
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestGetRun_Unknown(t *testing.T) {
	st, _ := openTestStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestStartRun_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RunInput
	}{
		{"no provider", RunInput{Kind: "trips", AuditPath: "a", StartedAt: time.Now()}},
		{"no kind", RunInput{Provider: "p", AuditPath: "a", StartedAt: time.Now()}},
		{"no audit path", RunInput{Provider: "p", Kind: "trips", StartedAt: time.Now()}},
		{"no started_at", RunInput{Provider: "p", Kind: "trips", AuditPath: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.StartRun(ctx, tt.in); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestListRuns_OrderAndFilters(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	startTestRun(t, st, "lime", "trips", base)
	startTestRun(t, st, "lime", "status_changes", base.Add(time.Hour))
	bird := startTestRun(t, st, "bird", "trips", base.Add(2*time.Hour))
	_ = st.FinishRun(ctx, bird.ID, RunResult{Err: errors.New("boom"), FinishedAt: base.Add(3 * time.Hour)})

	runs, err := st.ListRuns(ctx, base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].Provider != "bird" || runs[2].Kind != "trips" || runs[2].Provider != "lime" {
		t.Fatalf("unexpected order: %s/%s first, %s/%s last", runs[0].Provider, runs[0].Kind, runs[2].Provider, runs[2].Kind)
	}

	runs, _ = st.ListRuns(ctx, base, RunFilter{Provider: "lime"})
	if len(runs) != 2 {
		t.Fatalf("lime runs = %d, want 2", len(runs))
	}

	runs, _ = st.ListRuns(ctx, base, RunFilter{Kind: "trips"})
	if len(runs) != 2 {
		t.Fatalf("trips runs = %d, want 2", len(runs))
	}

	runs, _ = st.ListRuns(ctx, base, RunFilter{Status: StatusError})
	if len(runs) != 1 || runs[0].ID != bird.ID {
		t.Fatalf("error runs = %+v", runs)
	}

	runs, _ = st.ListRuns(ctx, base.Add(90*time.Minute))
	if len(runs) != 1 {
		t.Fatalf("runs since +90m = %d, want 1", len(runs))
	}
}

func TestGetProviderStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	a := startTestRun(t, st, "lime", "trips", base)
	b := startTestRun(t, st, "lime", "trips", base.Add(time.Hour))
	c := startTestRun(t, st, "lime", "trips", base.Add(2*time.Hour))
	_ = st.FinishRun(ctx, a.ID, RunResult{Accepted: 10, Rejected: 1, FinishedAt: base.Add(10 * time.Minute)})
	_ = st.FinishRun(ctx, b.ID, RunResult{Accepted: 5, Rejected: 2, FinishedAt: base.Add(70 * time.Minute)})
	_ = st.FinishRun(ctx, c.ID, RunResult{Err: errors.New("x"), FinishedAt: base.Add(130 * time.Minute)})

	stats, err := st.GetProviderStats(ctx, base)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats rows = %d, want 1", len(stats))
	}
	ps := stats[0]
	if ps.Runs != 3 || ps.Failed != 1 || ps.Accepted != 15 || ps.Rejected != 3 {
		t.Fatalf("stats = %+v", ps)
	}
	if !ps.LastSuccess.Equal(base.Add(70 * time.Minute)) {
		t.Fatalf("last success = %v", ps.LastSuccess)
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	old := startTestRun(t, st, "lime", "trips", time.Now().AddDate(0, 0, -60))
	_ = st.FinishRun(ctx, old.ID, RunResult{FinishedAt: time.Now().AddDate(0, 0, -60)})
	startTestRun(t, st, "lime", "trips", time.Now().AddDate(0, 0, -45)) // still running
	startTestRun(t, st, "lime", "trips", time.Now())

	pruned, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	var count int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("runs remaining = %d, want 2", count)
	}
}

func TestPruneOld_ZeroDays(t *testing.T) {
	st, _ := openTestStore(t)

	pruned, err := st.PruneOld(context.Background(), 0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 0 {
		t.Errorf("pruned = %d, want 0", pruned)
	}
}
