// Package registry records completed training runs in a small SQLite
// database so results can be compared across experiments.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	seed            INTEGER NOT NULL,
	epochs          INTEGER NOT NULL,
	final_loss      REAL,
	checkpoint_path TEXT NOT NULL,
	submission_path TEXT NOT NULL
);
`

// Run is one completed training run.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Seed           int64
	Epochs         int
	FinalLoss      *float64 // nil when the run trained for zero epochs
	CheckpointPath string
	SubmissionPath string
}

// Registry manages the run table in SQLite.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the run database at dbPath.
func Open(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("registry: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record inserts a run, assigning it a fresh ID, and returns the stored row.
func (r *Registry) Record(run Run) (Run, error) {
	run.ID = uuid.New().String()
	var loss any
	if run.FinalLoss != nil {
		loss = *run.FinalLoss
	}
	_, err := r.db.Exec(
		`INSERT INTO runs (run_id, started_at, finished_at, seed, epochs, final_loss, checkpoint_path, submission_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Seed,
		run.Epochs,
		loss,
		run.CheckpointPath,
		run.SubmissionPath,
	)
	if err != nil {
		return Run{}, fmt.Errorf("registry: insert run: %w", err)
	}
	return run, nil
}

// List returns every recorded run, most recent first.
func (r *Registry) List() ([]Run, error) {
	rows, err := r.db.Query(
		`SELECT run_id, started_at, finished_at, seed, epochs, final_loss, checkpoint_path, submission_path
		 FROM runs ORDER BY finished_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("registry: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started, finished string
		var loss sql.NullFloat64
		if err := rows.Scan(&run.ID, &started, &finished, &run.Seed, &run.Epochs, &loss, &run.CheckpointPath, &run.SubmissionPath); err != nil {
			return nil, fmt.Errorf("registry: scan run: %w", err)
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("registry: parse started_at: %w", err)
		}
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("registry: parse finished_at: %w", err)
		}
		if loss.Valid {
			v := loss.Float64
			run.FinalLoss = &v
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate runs: %w", err)
	}
	return runs, nil
}
