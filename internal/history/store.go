package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mkv-converter/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// FileName is the ledger's name inside log_root.
const FileName = "history.db"

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrSchemaMismatch indicates the database was written by an incompatible
// version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store records every outcome of every run in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one recorded outcome.
type Entry struct {
	RunID       string
	Seq         int
	RelPath     string
	OutputPath  string
	Success     bool
	Skipped     bool
	Category    models.ErrorCategory
	Message     string
	InputBytes  int64
	OutputBytes int64
	Elapsed     time.Duration
	RecordedAt  time.Time
}

// Run is the summary row of one recorded run.
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Totals     models.Totals
	Duration   time.Duration
}

// Open creates or opens <logRoot>/history.db.
func Open(logRoot string) (*Store, error) {
	if err := os.MkdirAll(logRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create log root: %w", err)
	}

	dbPath := filepath.Join(logRoot, FileName)
	// Connection pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// RecordRun stores the run summary and all of its outcomes in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, r models.RunReport, started, finished time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	t := r.Totals
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (
            run_id, started_at, finished_at, jobs, succeeded, skipped, failed,
            input_bytes, output_bytes, cumulative_ms, run_duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		started.UTC().Format(timeLayout),
		finished.UTC().Format(timeLayout),
		t.Jobs, t.Succeeded, t.Skipped, t.Failed,
		t.InputBytes, t.OutputBytes,
		t.CumulativeElapsed.Milliseconds(),
		r.RunDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (
            run_id, seq, rel_path, output_path, success, skipped, category, message,
            input_bytes, output_bytes, elapsed_ms, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	recorded := finished.UTC().Format(timeLayout)
	for _, o := range r.Outcomes {
		_, err := stmt.ExecContext(ctx,
			r.RunID,
			o.Job.Seq,
			o.Job.Input.RelPath,
			nullableString(o.Job.OutputPath),
			boolToInt(o.Success),
			boolToInt(o.Skipped),
			nullableString(string(o.Category)),
			nullableString(entryMessage(o)),
			o.InputSize,
			o.OutputSize,
			o.Elapsed.Milliseconds(),
			recorded,
		)
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Job.Input.RelPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first. Skipped outcomes are
// left out unless includeSkipped is set.
func (s *Store) Recent(ctx context.Context, limit int, includeSkipped bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, rel_path, output_path, success, skipped, category, message,
                input_bytes, output_bytes, elapsed_ms, recorded_at
         FROM outcomes
         WHERE ? OR skipped = 0
         ORDER BY recorded_at DESC, id DESC
         LIMIT ?`,
		boolToInt(includeSkipped), limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                    Entry
			outputPath, cat, msg sql.NullString
			success, skipped     int
			elapsedMS            int64
			recordedAt           string
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &e.RelPath, &outputPath, &success, &skipped, &cat, &msg,
			&e.InputBytes, &e.OutputBytes, &elapsedMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.OutputPath = outputPath.String
		e.Success = success != 0
		e.Skipped = skipped != 0
		e.Category = models.ErrorCategory(cat.String)
		e.Message = msg.String
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		e.RecordedAt = parseTime(recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Runs returns up to limit run summaries, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, jobs, succeeded, skipped, failed,
                input_bytes, output_bytes, cumulative_ms, run_duration_ms
         FROM runs
         ORDER BY started_at DESC
         LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                     Run
			started, finished     string
			cumulativeMS, totalMS int64
		)
		if err := rows.Scan(&r.RunID, &started, &finished,
			&r.Totals.Jobs, &r.Totals.Succeeded, &r.Totals.Skipped, &r.Totals.Failed,
			&r.Totals.InputBytes, &r.Totals.OutputBytes, &cumulativeMS, &totalMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Totals.CumulativeElapsed = time.Duration(cumulativeMS) * time.Millisecond
		r.Duration = time.Duration(totalMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// entryMessage is the failure message, or the skip reason for skipped files.
func entryMessage(o models.Outcome) string {
	if o.Skipped {
		return o.Job.SkipReason
	}
	return o.Message
}
