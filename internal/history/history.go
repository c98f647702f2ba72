// Package history provides SQLite-backed storage for gardening run
// history. Each garden invocation records one run row plus the
// actionable plan actions it worked through, so operators can answer
// "when did the docs last converge, and what kept changing" without
// digging through report files.
package history

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the history database at the given path.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	db := &DB{conn: conn, path: dbPath}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Run is one recorded garden invocation.
type Run struct {
	ID               int64
	StartedAt        int64
	FinishedAt       int64
	Mode             string
	Status           string
	Cycles           int
	RepairAttempts   int
	PlannedActions   int
	AppliedActions   int
	ApplyErrors      int
	ValidatePassed   bool
	ValidateErrors   int
	ValidateWarnings int
	Summary          string
}

// RunAction is one actionable plan action observed during a run.
type RunAction struct {
	RunID      int64
	Cycle      int
	ActionID   string
	ActionType string
	Path       string
	Status     string
}

// RecordRun inserts a run and its actions in one transaction and
// returns the new run ID.
func (db *DB) RecordRun(run *Run, actions []RunAction) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO runs (started_at, finished_at, mode, status, cycles, repair_attempts,
		 planned_actions, applied_actions, apply_errors,
		 validate_passed, validate_errors, validate_warnings, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt, run.FinishedAt, run.Mode, run.Status, run.Cycles, run.RepairAttempts,
		run.PlannedActions, run.AppliedActions, run.ApplyErrors,
		boolInt(run.ValidatePassed), run.ValidateErrors, run.ValidateWarnings, run.Summary,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}

	for _, a := range actions {
		if _, err := tx.Exec(
			`INSERT INTO run_actions (run_id, cycle, action_id, action_type, path, status)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, a.Cycle, a.ActionID, a.ActionType, a.Path, a.Status,
		); err != nil {
			return 0, fmt.Errorf("inserting run action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}
	return runID, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id int64) (*Run, error) {
	var run Run
	var passed int
	err := db.conn.QueryRow(
		`SELECT id, started_at, finished_at, mode, status, cycles, repair_attempts,
		 planned_actions, applied_actions, apply_errors,
		 validate_passed, validate_errors, validate_warnings, summary
		 FROM runs WHERE id = ?`, id,
	).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Mode, &run.Status, &run.Cycles, &run.RepairAttempts,
		&run.PlannedActions, &run.AppliedActions, &run.ApplyErrors,
		&passed, &run.ValidateErrors, &run.ValidateWarnings, &run.Summary,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	run.ValidatePassed = passed != 0
	return &run, nil
}

// LastRun returns the most recent run, or nil when the database is
// empty.
func (db *DB) LastRun() (*Run, error) {
	var id int64
	err := db.conn.QueryRow(`SELECT id FROM runs ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last run: %w", err)
	}
	return db.GetRun(id)
}

// ListRuns returns runs newest first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT id, started_at, finished_at, mode, status, cycles, repair_attempts,
		 planned_actions, applied_actions, apply_errors,
		 validate_passed, validate_errors, validate_warnings, summary
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var passed int
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.FinishedAt, &run.Mode, &run.Status, &run.Cycles, &run.RepairAttempts,
			&run.PlannedActions, &run.AppliedActions, &run.ApplyErrors,
			&passed, &run.ValidateErrors, &run.ValidateWarnings, &run.Summary,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.ValidatePassed = passed != 0
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// ListRunActions returns a run's actions in insertion order.
func (db *DB) ListRunActions(runID int64) ([]*RunAction, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, cycle, action_id, action_type, path, status
		 FROM run_actions WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying run actions: %w", err)
	}
	defer rows.Close()

	var actions []*RunAction
	for rows.Next() {
		var a RunAction
		if err := rows.Scan(&a.RunID, &a.Cycle, &a.ActionID, &a.ActionType, &a.Path, &a.Status); err != nil {
			return nil, fmt.Errorf("scanning run action: %w", err)
		}
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were
// removed. Actions cascade with their run.
func (db *DB) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := db.conn.Exec(
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return result.RowsAffected()
}

// NowMs returns current Unix milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
