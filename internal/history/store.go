// Package history persists pipeline run results to a SQLite database
// under the slipway home.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/slipway-ci/slipway/internal/models"
)

// ErrNotFound is returned when no run with the requested ID exists.
var ErrNotFound = errors.New("run not found")

// RunRecord is one stored pipeline run.
type RunRecord struct {
	RunID         string
	Pipeline      string
	EventKind     string
	EventAction   string
	Tag           string
	Status        string
	Published     bool
	ArtifactCount int
	StartedAt     time.Time
	Duration      time.Duration
	Steps         []StepRecord
}

// StepRecord is one stored step result within a run.
type StepRecord struct {
	RunID    string
	JobID    string
	StepID   string
	StepName string
	Status   string
	Duration time.Duration
	Error    string
}

// Store manages the SQLite database holding run history.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// A pooled second connection would get a separate empty database.
		db.SetMaxOpenConns(1)
	}

	// Configure SQLite for concurrent access with retry logic.
	// busy_timeout goes first so the later pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}

	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores a completed run and all of its step results.
func (s *Store) RecordRun(ctx context.Context, result *models.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	var eventKind, eventAction, tag string
	if result.Event != nil {
		eventKind = result.Event.Kind
		eventAction = result.Event.Action
		tag = result.Event.Tag
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs
			(run_id, pipeline, event_kind, event_action, tag, status, published, artifact_count, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Pipeline,
		eventKind,
		eventAction,
		tag,
		result.Status,
		result.Published,
		result.ArtifactCount,
		result.StartedAt,
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, step := range result.Steps {
		var stepErr string
		if step.Error != nil {
			stepErr = step.Error.Error()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_results
				(run_id, job_id, step_id, step_name, status, duration_ms, error)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.RunID,
			step.JobID,
			step.StepID,
			step.StepName,
			step.Status,
			step.Duration.Milliseconds(),
			stepErr,
		)
		if err != nil {
			return fmt.Errorf("insert step result %s/%s: %w", step.JobID, step.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun retrieves one run with its step results.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, pipeline, event_kind, event_action, tag, status, published, artifact_count, started_at, duration_ms
			FROM runs WHERE run_id = ?`, runID)

	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, step_id, step_name, status, duration_ms, error
			FROM step_results WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step StepRecord
		var stepName, stepErr sql.NullString
		var durationMS sql.NullInt64
		if err := rows.Scan(&step.RunID, &step.JobID, &step.StepID, &stepName, &step.Status, &durationMS, &stepErr); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		if stepName.Valid {
			step.StepName = stepName.String
		}
		if stepErr.Valid {
			step.Error = stepErr.String
		}
		if durationMS.Valid {
			step.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		}
		record.Steps = append(record.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step results: %w", err)
	}

	return record, nil
}

// ListRuns returns the most recent runs, newest first, without step
// results. limit <= 0 means the default of 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	return s.listRuns(ctx, "", limit)
}

// ListRunsForPipeline returns the most recent runs of one pipeline.
func (s *Store) ListRunsForPipeline(ctx context.Context, pipeline string, limit int) ([]*RunRecord, error) {
	return s.listRuns(ctx, pipeline, limit)
}

func (s *Store) listRuns(ctx context.Context, pipeline string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT run_id, pipeline, event_kind, event_action, tag, status, published, artifact_count, started_at, duration_ms
		FROM runs`
	args := []any{}
	if pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, pipeline)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return records, nil
}

// Prune deletes all but the most recent keep runs along with their
// step results, returning the number of runs removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SQLite reads LIMIT -1 OFFSET n as "everything after the first n".
	const victims = `SELECT run_id FROM runs ORDER BY started_at DESC, id DESC LIMIT -1 OFFSET ?`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM step_results WHERE run_id IN (`+victims+`)`, keep); err != nil {
		return 0, fmt.Errorf("prune step results: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE run_id IN (`+victims+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return int(removed), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	record := &RunRecord{}
	var eventKind, eventAction, tag sql.NullString
	var durationMS sql.NullInt64

	err := row.Scan(
		&record.RunID,
		&record.Pipeline,
		&eventKind,
		&eventAction,
		&tag,
		&record.Status,
		&record.Published,
		&record.ArtifactCount,
		&record.StartedAt,
		&durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}

	if eventKind.Valid {
		record.EventKind = eventKind.String
	}
	if eventAction.Valid {
		record.EventAction = eventAction.String
	}
	if tag.Valid {
		record.Tag = tag.String
	}
	if durationMS.Valid {
		record.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return record, nil
}
