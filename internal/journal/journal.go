// Package journal keeps a durable history of orchestration runs in
// SQLite, separate from the live run state: the state file is the
// current run, the journal is everything that ever happened.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunRecord summarizes one orchestration run.
type RunRecord struct {
	ID         string
	SpecID     string
	Agent      string
	Sessions   int
	Outcome    string // "running", "completed", "interrupted", "failed"
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is open
}

// TransitionRecord is one task status change within a run.
type TransitionRecord struct {
	TaskID     string
	Session    int
	FromStatus string
	ToStatus   string
	At         time.Time
}

// Journal records run history.
type Journal interface {
	StartRun(ctx context.Context, specID, agent string, sessions int) (string, error)
	FinishRun(ctx context.Context, runID, outcome string) error
	RecordPhase(ctx context.Context, runID, phase string, tasksCompleted int) error
	RecordTransition(ctx context.Context, runID, taskID string, session int, from, to string) error
	History(ctx context.Context, specID string) ([]RunRecord, error)
	Transitions(ctx context.Context, runID string) ([]TransitionRecord, error)
	Close() error
}

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// Open creates a SQLite-backed journal at the given path. Parent
// directories are created if needed. WAL mode and a busy timeout keep
// concurrent readers from tripping over writers.
func Open(ctx context.Context, dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	db.SetMaxOpenConns(2)

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		spec_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		sessions INTEGER NOT NULL,
		outcome TEXT NOT NULL DEFAULT 'running',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_spec_id ON runs(spec_id, started_at);

	CREATE TABLE IF NOT EXISTS phase_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		tasks_completed INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS task_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		session INTEGER NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_task_transitions_run ON task_transitions(run_id, at);
	`
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// StartRun opens a run record and returns its generated ID.
func (j *SQLiteJournal) StartRun(ctx context.Context, specID, agent string, sessions int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	runID := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, spec_id, agent, sessions, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, specID, agent, sessions, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return runID, nil
}

// FinishRun closes the run record with the given outcome.
func (j *SQLiteJournal) FinishRun(ctx context.Context, runID, outcome string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?
	`, outcome, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// RecordPhase notes a completed phase.
func (j *SQLiteJournal) RecordPhase(ctx context.Context, runID, phase string, tasksCompleted int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO phase_records (run_id, phase, tasks_completed, recorded_at)
		VALUES (?, ?, ?, ?)
	`, runID, phase, tasksCompleted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording phase: %w", err)
	}
	return nil
}

// RecordTransition notes one task status change.
func (j *SQLiteJournal) RecordTransition(ctx context.Context, runID, taskID string, session int, from, to string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO task_transitions (run_id, task_id, session, from_status, to_status, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, taskID, session, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording transition for %s: %w", taskID, err)
	}
	return nil
}

// History returns the runs for a spec, newest first.
func (j *SQLiteJournal) History(ctx context.Context, specID string) ([]RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, spec_id, agent, sessions, outcome, started_at, finished_at
		FROM runs WHERE spec_id = ? ORDER BY started_at DESC
	`, specID)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.SpecID, &r.Agent, &r.Sessions, &r.Outcome, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Transitions returns the task transitions of a run in order.
func (j *SQLiteJournal) Transitions(ctx context.Context, runID string) ([]TransitionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, `
		SELECT task_id, session, from_status, to_status, at
		FROM task_transitions WHERE run_id = ? ORDER BY at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.TaskID, &r.Session, &r.FromStatus, &r.ToStatus, &r.At); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
