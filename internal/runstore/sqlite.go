package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/harrison/codeflow/internal/models"
)

// listPageSize is how many summaries List fetches per query.
const listPageSize = 50

// SQLiteStore keeps runs in a SQLite database. Saves are transactional, so
// concurrent processes sharing the file never observe a partial record.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		// Connection parameters apply to every pooled connection, not just the first
		dsn = "file:" + dbPath + "?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	// busy_timeout goes first so the remaining pragmas wait on locks
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
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
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Save inserts the run and its attempts and decisions in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, record *models.RunRecord) error {
	if record == nil {
		return fmt.Errorf("save: nil record")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	retryCounts, err := json.Marshal(record.RetryCounts)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	var failStage, failKind, failMsg sql.NullString
	var failAttempts sql.NullInt64
	if f := record.Failure; f != nil {
		failStage = sql.NullString{String: string(f.Stage), Valid: true}
		failKind = sql.NullString{String: string(f.Kind), Valid: true}
		failMsg = sql.NullString{String: f.Message, Valid: true}
		failAttempts = sql.NullInt64{Int64: int64(f.Attempts), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (run_id, task_id, mode, status, started_at, finished_at, retry_counts,
                  failure_stage, failure_kind, failure_message, failure_attempts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID, record.TaskID, string(record.Mode), string(record.Status),
		record.StartedAt.UTC(), record.FinishedAt.UTC(), string(retryCounts),
		failStage, failKind, failMsg, failAttempts,
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("save %s: %w", record.RunID, ErrDuplicateRun)
		}
		return fmt.Errorf("insert run %s: %w", record.RunID, err)
	}

	for i, a := range record.StageResults {
		var payload sql.NullString
		if len(a.Payload) > 0 {
			payload = sql.NullString{String: string(a.Payload), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO stage_attempts (id, run_id, seq, stage, attempt, outcome, kind, detail,
                            payload_summary, payload, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), record.RunID, i, string(a.Stage), a.Attempt, string(a.Outcome),
			string(a.Kind), a.Detail, a.PayloadSummary, payload,
			a.StartedAt.UTC(), a.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert attempt %d of run %s: %w", i, record.RunID, err)
		}
	}

	for i, d := range record.GuardrailDecisions {
		_, err := tx.ExecContext(ctx, `
INSERT INTO guardrail_decisions (id, run_id, seq, stage, requested, granted, source, description, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), record.RunID, i, string(d.Stage), d.Requested, d.Granted,
			string(d.Source), d.Description, d.DecidedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert guardrail decision %d of run %s: %w", i, record.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", record.RunID, err)
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Get rebuilds a record from its rows.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	var (
		record                       models.RunRecord
		mode, status, retryCounts    string
		failStage, failKind, failMsg sql.NullString
		failAttempts                 sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT run_id, task_id, mode, status, started_at, finished_at, retry_counts,
       failure_stage, failure_kind, failure_message, failure_attempts
FROM runs WHERE run_id = ?`, runID).Scan(
		&record.RunID, &record.TaskID, &mode, &status, &record.StartedAt, &record.FinishedAt,
		&retryCounts, &failStage, &failKind, &failMsg, &failAttempts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}

	record.Mode = models.Mode(mode)
	record.Status = models.RunStatus(status)
	record.RetryCounts = make(map[models.StageName]int)
	if retryCounts != "" {
		if err := json.Unmarshal([]byte(retryCounts), &record.RetryCounts); err != nil {
			return nil, fmt.Errorf("decode retry counts of run %s: %w", runID, err)
		}
	}
	if failKind.Valid {
		record.Failure = &models.Failure{
			Stage:    models.StageName(failStage.String),
			Kind:     models.FailureKind(failKind.String),
			Message:  failMsg.String,
			Attempts: int(failAttempts.Int64),
		}
	}

	if record.StageResults, err = s.attempts(ctx, runID); err != nil {
		return nil, err
	}
	if record.GuardrailDecisions, err = s.decisions(ctx, runID); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *SQLiteStore) attempts(ctx context.Context, runID string) ([]models.StageAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT stage, attempt, outcome, kind, detail, payload_summary, payload, started_at, finished_at
FROM stage_attempts WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts of run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []models.StageAttempt{}
	for rows.Next() {
		var (
			a                            models.StageAttempt
			stage, outcome               string
			kind, detail, summary, payload sql.NullString
		)
		if err := rows.Scan(&stage, &a.Attempt, &outcome, &kind, &detail, &summary, &payload, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Stage = models.StageName(stage)
		a.Outcome = models.AttemptOutcome(outcome)
		a.Kind = models.FailureKind(kind.String)
		a.Detail = detail.String
		a.PayloadSummary = summary.String
		if payload.Valid && payload.String != "" {
			a.Payload = json.RawMessage(payload.String)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) decisions(ctx context.Context, runID string) ([]models.GuardrailDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT stage, requested, granted, source, description, decided_at
FROM guardrail_decisions WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query guardrail decisions of run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []models.GuardrailDecision{}
	for rows.Next() {
		var (
			d             models.GuardrailDecision
			stage, source string
			description   sql.NullString
		)
		if err := rows.Scan(&stage, &d.Requested, &d.Granted, &source, &description, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan guardrail decision: %w", err)
		}
		d.Stage = models.StageName(stage)
		d.Source = models.GuardrailSource(source)
		d.Description = description.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guardrail decisions: %w", err)
	}
	return out, nil
}

// List yields summaries newest-first, fetching one page per query. No cursor is
// held open while the caller processes a summary.
func (s *SQLiteStore) List(ctx context.Context) iter.Seq2[models.RunSummary, error] {
	return func(yield func(models.RunSummary, error) bool) {
		var afterStart time.Time
		var afterID string
		first := true
		for {
			page, err := s.page(ctx, first, afterStart, afterID)
			if err != nil {
				yield(models.RunSummary{}, err)
				return
			}
			for _, summary := range page {
				if !yield(summary, nil) {
					return
				}
			}
			if len(page) < listPageSize {
				return
			}
			last := page[len(page)-1]
			afterStart, afterID, first = last.StartedAt, last.RunID, false
		}
	}
}

func (s *SQLiteStore) page(ctx context.Context, first bool, afterStart time.Time, afterID string) ([]models.RunSummary, error) {
	query := `
SELECT r.run_id, r.task_id, r.mode, r.status, r.started_at, r.finished_at,
       r.failure_stage, r.failure_kind,
       (SELECT COUNT(*) FROM stage_attempts a WHERE a.run_id = r.run_id)
FROM runs r`
	args := []any{}
	if !first {
		query += ` WHERE r.started_at < ? OR (r.started_at = ? AND r.run_id < ?)`
		args = append(args, afterStart.UTC(), afterStart.UTC(), afterID)
	}
	query += ` ORDER BY r.started_at DESC, r.run_id DESC LIMIT ?`
	args = append(args, listPageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunSummary
	for rows.Next() {
		var (
			sum                 models.RunSummary
			mode, status        string
			failStage, failKind sql.NullString
		)
		if err := rows.Scan(&sum.RunID, &sum.TaskID, &mode, &status, &sum.StartedAt, &sum.FinishedAt,
			&failStage, &failKind, &sum.Attempts); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		sum.Mode = models.Mode(mode)
		sum.Status = models.RunStatus(status)
		sum.FailureStage = models.StageName(failStage.String)
		sum.FailureKind = models.FailureKind(failKind.String)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summaries: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
