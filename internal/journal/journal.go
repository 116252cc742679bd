// Package journal records classification runs in a local SQLite database so a
// batch can be audited after the fact: which rows were sent, what the model
// answered on each attempt, and why an answer was rejected.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tybalt/worklog-classifier/internal/classify"
	"github.com/tybalt/worklog-classifier/internal/pipeline"
	"github.com/tybalt/worklog-classifier/internal/redact"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	input_path TEXT NOT NULL,
	output_path TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	kept INTEGER NOT NULL DEFAULT 0,
	defaulted INTEGER NOT NULL DEFAULT 0,
	classified INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	unsampled INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
	run_id TEXT NOT NULL REFERENCES runs(id),
	row_num INTEGER NOT NULL,
	status TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, row_num)
);

CREATE TABLE IF NOT EXISTS attempts (
	run_id TEXT NOT NULL REFERENCES runs(id),
	row_num INTEGER NOT NULL,
	attempt INTEGER NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	problem_kind TEXT NOT NULL DEFAULT '',
	problem_detail TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, row_num, attempt)
);
`

var ErrRunNotFound = errors.New("run not found")

type Journal struct {
	db *sql.DB
}

// Run describes one batch invocation.
type Run struct {
	ID         string
	InputPath  string
	OutputPath string
	Provider   string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    pipeline.Summary
}

// AttemptRecord is one stored model call.
type AttemptRecord struct {
	Row           int
	Attempt       int
	Response      string
	ProblemKind   string
	ProblemDetail string
	Error         string
	Duration      time.Duration
}

// Open creates the database file and its tables when missing.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) StartRun(ctx context.Context, r Run) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_path, output_path, provider, model, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.InputPath, r.OutputPath, r.Provider, r.Model, r.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", r.ID, err)
	}
	return nil
}

// RecordOutcomes stores every outcome and the attempts behind it in one transaction.
func (j *Journal) RecordOutcomes(ctx context.Context, runID string, outcomes []pipeline.Outcome) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	outStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO outcomes (run_id, row_num, status, category, reason) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer outStmt.Close()

	attStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO attempts (run_id, row_num, attempt, response, problem_kind, problem_detail, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer attStmt.Close()

	for _, o := range outcomes {
		if _, err = outStmt.ExecContext(ctx, runID, o.Record.Row, string(o.Status), string(o.Result.Category), o.Reason); err != nil {
			return fmt.Errorf("record row %d: %w", o.Record.Row, err)
		}
		for _, a := range o.Trace.Attempts {
			rec := attemptRecord(o.Record.Row, a)
			if _, err = attStmt.ExecContext(ctx, runID, rec.Row, rec.Attempt, rec.Response,
				rec.ProblemKind, rec.ProblemDetail, rec.Error, rec.Duration.Milliseconds()); err != nil {
				return fmt.Errorf("record row %d attempt %d: %w", rec.Row, rec.Attempt, err)
			}
		}
	}
	return tx.Commit()
}

func attemptRecord(row int, a classify.Attempt) AttemptRecord {
	rec := AttemptRecord{
		Row:      row,
		Attempt:  a.Number,
		Response: a.Response,
		Duration: a.Duration,
	}
	if a.Problem != nil {
		rec.ProblemKind = string(a.Problem.Kind)
		rec.ProblemDetail = a.Problem.Detail
	}
	if a.Err != nil {
		rec.Error = redact.Secrets(a.Err.Error())
	}
	return rec
}

func (j *Journal) FinishRun(ctx context.Context, runID string, s pipeline.Summary, finishedAt time.Time) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, kept = ?, defaulted = ?, classified = ?, skipped = ?, failed = ?, unsampled = ?
		 WHERE id = ?`,
		finishedAt.UTC(), s.Kept, s.Defaulted, s.Classified, s.Skipped, s.Failed, s.Unsampled, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (j *Journal) GetRun(ctx context.Context, runID string) (Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	err := j.db.QueryRowContext(ctx,
		`SELECT id, input_path, output_path, provider, model, started_at, finished_at,
		        kept, defaulted, classified, skipped, failed, unsampled
		 FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.InputPath, &r.OutputPath, &r.Provider, &r.Model, &r.StartedAt, &finished,
		&r.Summary.Kept, &r.Summary.Defaulted, &r.Summary.Classified, &r.Summary.Skipped,
		&r.Summary.Failed, &r.Summary.Unsampled)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, nil
}

// Attempts returns the stored attempts of a run ordered by row then attempt.
func (j *Journal) Attempts(ctx context.Context, runID string) ([]AttemptRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT row_num, attempt, response, problem_kind, problem_detail, error, duration_ms
		 FROM attempts WHERE run_id = ? ORDER BY row_num, attempt`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var (
			rec AttemptRecord
			ms  int64
		)
		if err := rows.Scan(&rec.Row, &rec.Attempt, &rec.Response, &rec.ProblemKind, &rec.ProblemDetail, &rec.Error, &ms); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OutcomeStatuses maps row number to the stored status of a run.
func (j *Journal) OutcomeStatuses(ctx context.Context, runID string) (map[int]pipeline.Status, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT row_num, status FROM outcomes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]pipeline.Status)
	for rows.Next() {
		var (
			row    int
			status string
		)
		if err := rows.Scan(&row, &status); err != nil {
			return nil, err
		}
		out[row] = pipeline.Status(status)
	}
	return out, rows.Err()
}
