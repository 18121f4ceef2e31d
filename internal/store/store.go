package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// Run is one ingestion call recorded in the ledger.
type Run struct {
	ID          string
	Provider    string
	Kind        string
	WindowStart int64
	WindowStop  int64
	AuditPath   string
	OutputPath  string
	Status      string
	Pages       int
	Records     int
	Accepted    int
	Rejected    int
	Skipped     int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

type RunInput struct {
	Provider    string
	Kind        string
	WindowStart int64
	WindowStop  int64
	AuditPath   string
	OutputPath  string
	StartedAt   time.Time
}

// RunResult is what FinishRun records. Err == nil marks the run ok.
type RunResult struct {
	Pages      int
	Records    int
	Accepted   int
	Rejected   int
	Skipped    int
	Err        error
	FinishedAt time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun inserts a run in the running state and returns it with a new id.
func (s *Store) StartRun(ctx context.Context, in RunInput) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, errors.New("store is not initialized")
	}
	if strings.TrimSpace(in.Provider) == "" {
		return Run{}, errors.New("provider is required")
	}
	if strings.TrimSpace(in.Kind) == "" {
		return Run{}, errors.New("kind is required")
	}
	if strings.TrimSpace(in.AuditPath) == "" {
		return Run{}, errors.New("audit_path is required")
	}
	if in.StartedAt.IsZero() {
		return Run{}, errors.New("started_at is required")
	}

	id := uuid.NewString()

	var outputVal sql.NullString
	if strings.TrimSpace(in.OutputPath) != "" {
		outputVal = sql.NullString{String: in.OutputPath, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, provider, kind, window_start, window_stop, audit_path, output_path, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		in.Provider,
		in.Kind,
		in.WindowStart,
		in.WindowStop,
		in.AuditPath,
		outputVal,
		StatusRunning,
		formatTime(in.StartedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	return s.GetRun(ctx, id)
}

// FinishRun stores the counts and final status of run id.
func (s *Store) FinishRun(ctx context.Context, id string, res RunResult) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if res.FinishedAt.IsZero() {
		return errors.New("finished_at is required")
	}

	status := StatusOK
	var errVal sql.NullString
	if res.Err != nil {
		status = StatusError
		errVal = sql.NullString{String: res.Err.Error(), Valid: true}
	}

	out, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, pages = ?, records = ?, accepted = ?, rejected = ?, skipped = ?,
			error = ?, finished_at = ?
		WHERE id = ?
	`,
		status,
		res.Pages,
		res.Records,
		res.Accepted,
		res.Rejected,
		res.Skipped,
		errVal,
		formatTime(res.FinishedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, errors.New("store is not initialized")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// RunFilter holds optional filters for ListRuns.
type RunFilter struct {
	Provider string
	Kind     string
	Status   string
}

// ListRuns returns runs started at or after since, newest first.
func (s *Store) ListRuns(ctx context.Context, since time.Time, filters ...RunFilter) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE started_at >= ?`
	args := []any{formatTime(since)}

	var filter RunFilter
	if len(filters) > 0 {
		filter = filters[0]
	}
	if filter.Provider != "" {
		query += " AND provider = ?"
		args = append(args, filter.Provider)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY started_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// ProviderStats holds aggregated run counts for one provider and kind.
type ProviderStats struct {
	Provider    string
	Kind        string
	Runs        int
	Failed      int
	Accepted    int
	Rejected    int
	LastSuccess time.Time
}

// GetProviderStats aggregates runs started since the given time.
func (s *Store) GetProviderStats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, kind,
			COUNT(*) AS runs,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS failed,
			SUM(accepted) AS accepted,
			SUM(rejected) AS rejected,
			MAX(CASE WHEN status = 'ok' THEN finished_at END) AS last_success
		FROM runs
		WHERE started_at >= ?
		GROUP BY provider, kind
		ORDER BY provider, kind
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get provider stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []ProviderStats
	for rows.Next() {
		var ps ProviderStats
		var lastSuccess sql.NullString
		if err := rows.Scan(&ps.Provider, &ps.Kind, &ps.Runs, &ps.Failed, &ps.Accepted, &ps.Rejected, &lastSuccess); err != nil {
			return nil, fmt.Errorf("scan provider stats: %w", err)
		}
		ps.LastSuccess, err = parseTime(lastSuccess.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_success: %w", err)
		}
		stats = append(stats, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider stats: %w", err)
	}

	return stats, nil
}

// PruneOld deletes finished runs started more than retainDays ago.
// Returns the number of runs removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE started_at < ? AND status != ?", cutoff, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

const runColumns = `id, provider, kind, window_start, window_stop, audit_path, output_path, status,
	pages, records, accepted, rejected, skipped, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (Run, error) {
	var (
		run               Run
		outputVal, errVal sql.NullString
		startedAt         string
		finishedAt        sql.NullString
	)

	if err := scanner.Scan(
		&run.ID,
		&run.Provider,
		&run.Kind,
		&run.WindowStart,
		&run.WindowStop,
		&run.AuditPath,
		&outputVal,
		&run.Status,
		&run.Pages,
		&run.Records,
		&run.Accepted,
		&run.Rejected,
		&run.Skipped,
		&errVal,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.OutputPath = outputVal.String
	run.Error = errVal.String

	var err error
	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	run.FinishedAt, err = parseTime(finishedAt.String)
	if err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}

	return run, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
