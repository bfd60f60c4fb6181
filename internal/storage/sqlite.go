package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bmadloop/internal/domain"
)

// maxOutputLines caps persisted output per step so the database does not
// grow without bound. The tail is kept; that is where failures show.
const maxOutputLines = 1000

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// NewInMemoryStore creates an in-memory store, for tests.
func NewInMemoryStore() (*SQLiteStore, error) {
	return NewSQLiteStore(":memory:")
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS story_runs (
    id TEXT PRIMARY KEY,
    story_id TEXT NOT NULL,
    story_key TEXT NOT NULL,
    state TEXT NOT NULL,
    start_time TEXT NOT NULL,
    end_time TEXT,
    duration_ms INTEGER DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    fatal BOOLEAN DEFAULT FALSE,
    error TEXT,
    duration_ms INTEGER DEFAULT 0,
    verdict_mode TEXT,
    verdict_passed BOOLEAN DEFAULT FALSE,
    remediation TEXT,
    code_implemented BOOLEAN,
    summary TEXT,
    FOREIGN KEY (run_id) REFERENCES story_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS checks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL,
    name TEXT NOT NULL,
    passed BOOLEAN NOT NULL,
    detail TEXT,
    FOREIGN KEY (attempt_id) REFERENCES attempts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS attempt_steps (
    id TEXT PRIMARY KEY,
    attempt_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    step_name TEXT NOT NULL,
    status TEXT NOT NULL,
    duration_ms INTEGER DEFAULT 0,
    error TEXT,
    output_size INTEGER DEFAULT 0,
    FOREIGN KEY (attempt_id) REFERENCES attempts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS step_outputs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    step_id TEXT NOT NULL,
    line_number INTEGER NOT NULL,
    content TEXT NOT NULL,
    FOREIGN KEY (step_id) REFERENCES attempt_steps(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_story_id ON story_runs(story_id);
CREATE INDEX IF NOT EXISTS idx_runs_state ON story_runs(state);
CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_steps_attempt_id ON attempt_steps(attempt_id);
CREATE INDEX IF NOT EXISTS idx_outputs_step_id ON step_outputs(step_id);
`

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun persists a completed story run and returns its id.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.StoryRun) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO story_runs (id, story_id, story_key, state, start_time, end_time, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		run.Story.ID.String(),
		run.Story.Key,
		string(run.State),
		run.StartTime.Format(time.RFC3339),
		nullableTime(run.EndTime),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, attempt := range run.Attempts {
		attemptID := uuid.New().String()
		var mode, remediation, summary string
		var passed bool
		var codeImplemented any
		if v := attempt.Verdict; v != nil {
			mode = string(v.Mode)
			remediation = string(v.Remediation)
			summary = v.Summary
			passed = v.Passed
			if v.CodeImplemented != nil {
				codeImplemented = *v.CodeImplemented
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO attempts (id, run_id, idx, fatal, error, duration_ms, verdict_mode, verdict_passed, remediation, code_implemented, summary)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			attemptID, runID, attempt.Index, attempt.Fatal,
			nullableString(attempt.Error), attempt.Duration.Milliseconds(),
			nullableString(mode), passed, nullableString(remediation),
			codeImplemented, nullableString(summary),
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert attempt: %w", err)
		}

		if attempt.Verdict != nil {
			for _, check := range attempt.Verdict.Checks {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO checks (attempt_id, name, passed, detail) VALUES (?, ?, ?, ?)
				`, attemptID, check.Name, check.Passed, nullableString(check.Detail))
				if err != nil {
					return "", fmt.Errorf("failed to insert check: %w", err)
				}
			}
		}

		for i, step := range attempt.Steps {
			stepID := uuid.New().String()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO attempt_steps (id, attempt_id, idx, step_name, status, duration_ms, error, output_size)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`,
				stepID, attemptID, i, string(step.Name), string(step.Status),
				step.Duration.Milliseconds(), nullableString(step.Error), len(step.Output),
			)
			if err != nil {
				return "", fmt.Errorf("failed to insert step: %w", err)
			}

			lines := step.Output
			if len(lines) > maxOutputLines {
				lines = lines[len(lines)-maxOutputLines:]
			}
			if err := bulkInsertOutputs(ctx, tx, stepID, lines); err != nil {
				return "", fmt.Errorf("failed to insert output lines: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return runID, nil
}

// GetRun retrieves a run by id, without step output.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, story_id, story_key, state, start_time, end_time, duration_ms, created_at
		FROM story_runs WHERE id = ?
	`, id)

	rec, err := scanRun(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	if err := s.loadAttempts(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRunWithOutput retrieves a run with full step output.
func (s *SQLiteStore) GetRunWithOutput(ctx context.Context, id string) (*RunRecord, error) {
	rec, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, attempt := range rec.Attempts {
		for _, step := range attempt.Steps {
			output, err := s.stepOutput(ctx, step.ID)
			if err != nil {
				return nil, err
			}
			step.Output = output
		}
	}
	return rec, nil
}

// ListRuns retrieves runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter *RunFilter) ([]*RunRecord, error) {
	query := `
		SELECT id, story_id, story_key, state, start_time, end_time, duration_ms, created_at
		FROM story_runs
	`
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY start_time DESC"
	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if err := s.loadAttempts(ctx, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// CountRuns counts runs matching the filter.
func (s *SQLiteStore) CountRuns(ctx context.Context, filter *RunFilter) (int, error) {
	query := "SELECT COUNT(*) FROM story_runs"
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// DeleteRun removes a run and its attempts.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM story_runs WHERE id = ?", id)
	return err
}

// GetStats aggregates run history.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var avgMS float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN state = 'succeeded' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = 'abandoned' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM story_runs
	`).Scan(&stats.TotalRuns, &stats.Succeeded, &stats.Abandoned, &avgMS)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate runs: %w", err)
	}
	stats.AvgDuration = time.Duration(avgMS) * time.Millisecond

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attempts").Scan(&stats.TotalAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	if stats.TotalRuns > 0 {
		stats.AvgAttempts = float64(stats.TotalAttempts) / float64(stats.TotalRuns)
	}
	return stats, nil
}

func (s *SQLiteStore) loadAttempts(ctx context.Context, rec *RunRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, idx, fatal, error, duration_ms, verdict_mode, verdict_passed, remediation, code_implemented, summary
		FROM attempts WHERE run_id = ? ORDER BY idx
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a := &AttemptRecord{}
		var errText, mode, remediation, summary sql.NullString
		var durationMS int64
		var codeImplemented sql.NullBool
		if err := rows.Scan(&a.ID, &a.RunID, &a.Index, &a.Fatal, &errText, &durationMS,
			&mode, &a.VerdictPassed, &remediation, &codeImplemented, &summary); err != nil {
			return err
		}
		a.Error = errText.String
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.VerdictMode = domain.VerifyMode(mode.String)
		a.Remediation = domain.Remediation(remediation.String)
		a.Summary = summary.String
		if codeImplemented.Valid {
			v := codeImplemented.Bool
			a.CodeImplemented = &v
		}
		rec.Attempts = append(rec.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range rec.Attempts {
		if err := s.loadChecks(ctx, a); err != nil {
			return err
		}
		if err := s.loadSteps(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) loadChecks(ctx context.Context, a *AttemptRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, passed, detail FROM checks WHERE attempt_id = ? ORDER BY id
	`, a.ID)
	if err != nil {
		return fmt.Errorf("failed to load checks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c CheckRecord
		var detail sql.NullString
		if err := rows.Scan(&c.Name, &c.Passed, &detail); err != nil {
			return err
		}
		c.Detail = detail.String
		a.Checks = append(a.Checks, c)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSteps(ctx context.Context, a *AttemptRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_name, status, duration_ms, error, output_size
		FROM attempt_steps WHERE attempt_id = ? ORDER BY idx
	`, a.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st := &StepRecord{}
		var errText sql.NullString
		var durationMS int64
		var name, status string
		if err := rows.Scan(&st.ID, &name, &status, &durationMS, &errText, &st.OutputSize); err != nil {
			return err
		}
		st.StepName = domain.StepName(name)
		st.Status = domain.StepStatus(status)
		st.Duration = time.Duration(durationMS) * time.Millisecond
		st.Error = errText.String
		a.Steps = append(a.Steps, st)
	}
	return rows.Err()
}

func (s *SQLiteStore) stepOutput(ctx context.Context, stepID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM step_outputs WHERE step_id = ? ORDER BY line_number
	`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step output: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type scanFunc func(dest ...any) error

func scanRun(scan scanFunc) (*RunRecord, error) {
	rec := &RunRecord{}
	var state, startTime, createdAt string
	var endTime sql.NullString
	var durationMS int64
	if err := scan(&rec.ID, &rec.StoryID, &rec.StoryKey, &state, &startTime, &endTime, &durationMS, &createdAt); err != nil {
		return nil, err
	}
	rec.State = domain.RunState(state)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.StartTime, _ = time.Parse(time.RFC3339, startTime)
	if endTime.Valid {
		rec.EndTime, _ = time.Parse(time.RFC3339, endTime.String)
	}
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	return rec, nil
}

func buildWhereClause(filter *RunFilter) (string, []any) {
	if filter == nil {
		return "", nil
	}

	var conditions []string
	var args []any
	if filter.StoryID != "" {
		conditions = append(conditions, "story_id = ?")
		args = append(args, filter.StoryID)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(filter.State))
	}
	return strings.Join(conditions, " AND "), args
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// bulkInsertOutputs inserts output lines in batches. SQLite caps bound
// variables, so inserts are chunked.
func bulkInsertOutputs(ctx context.Context, tx *sql.Tx, stepID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	const batchSize = 300
	for start := 0; start < len(lines); start += batchSize {
		end := start + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		batch := lines[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*3)
		for i, line := range batch {
			placeholders = append(placeholders, "(?, ?, ?)")
			args = append(args, stepID, start+i, line)
		}
		query := "INSERT INTO step_outputs (step_id, line_number, content) VALUES " +
			strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}
