// Package store persists certification runs, reviewer verdicts, and
// provider health snapshots to SQLite for observability tooling.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"certgate/internal/health"
	"certgate/internal/pipeline"
)

// Audit is the SQLite-backed run archive. Implements pipeline.Auditor.
type Audit struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// RunSummary is one archived run, as read back for the history surface.
type RunSummary struct {
	RunID           string
	State           string
	Provider        string
	Certified       bool
	ApprovalCount   int
	QuorumThreshold int
	QuorumReached   bool
	ElapsedMs       int64
	CreatedAt       time.Time
}

// Open initializes the audit database at the given path.
func Open(path string) (*Audit, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &Audit{db: db, dbPath: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Audit) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			instruction TEXT,
			state TEXT NOT NULL,
			provider TEXT,
			artifact TEXT,
			certified INTEGER NOT NULL DEFAULT 0,
			approval_count INTEGER NOT NULL DEFAULT 0,
			quorum_threshold INTEGER NOT NULL DEFAULT 0,
			quorum_reached INTEGER NOT NULL DEFAULT 0,
			arbiter_approved INTEGER,
			arbiter_rationale TEXT,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			reviewer_id TEXT NOT NULL,
			approved INTEGER NOT NULL,
			rationale TEXT,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			attempt_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS health_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			remaining_units INTEGER NOT NULL,
			window_reset_at DATETIME,
			consecutive_errors INTEGER NOT NULL DEFAULT 0,
			taken_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_run ON verdicts(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON health_snapshots(run_id);`,
	}
	for _, stmt := range schema {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// RecordRun archives one pipeline run with its verdicts, attempts, and the
// provider health snapshot taken at completion.
func (a *Audit) RecordRun(record pipeline.RunRecord, snapshot map[string]health.QuotaState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var arbiterApproved interface{}
	if record.ArbiterApproved != nil {
		arbiterApproved = *record.ArbiterApproved
	}

	_, err = tx.Exec(
		`INSERT INTO runs
		 (run_id, instruction, state, provider, artifact, certified, approval_count,
		  quorum_threshold, quorum_reached, arbiter_approved, arbiter_rationale, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID, record.Instruction, record.State, record.Provider, record.Artifact,
		record.Certified, record.ApprovalCount, record.QuorumThreshold, record.QuorumReached,
		arbiterApproved, record.ArbiterRationale, record.ElapsedMs, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	for i, v := range record.Verdicts {
		if _, err := tx.Exec(
			`INSERT INTO verdicts (run_id, position, reviewer_id, approved, rationale, elapsed_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			record.RunID, i, v.ReviewerID, v.Approved, v.Rationale, v.ElapsedMs,
		); err != nil {
			return fmt.Errorf("failed to store verdict: %w", err)
		}
	}

	for _, at := range record.Attempts {
		if _, err := tx.Exec(
			`INSERT INTO attempts (run_id, attempt_id, provider, outcome, latency_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			record.RunID, at.ID, at.Provider, at.Outcome, at.LatencyMs, at.Error,
		); err != nil {
			return fmt.Errorf("failed to store attempt: %w", err)
		}
	}

	for name, state := range snapshot {
		if _, err := tx.Exec(
			`INSERT INTO health_snapshots (run_id, provider, remaining_units, window_reset_at, consecutive_errors)
			 VALUES (?, ?, ?, ?, ?)`,
			record.RunID, name, state.RemainingUnits, state.WindowResetAt, state.ConsecutiveErrors,
		); err != nil {
			return fmt.Errorf("failed to store health snapshot: %w", err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the newest runs, most recent first.
func (a *Audit) RecentRuns(limit int) ([]RunSummary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.Query(
		`SELECT run_id, state, provider, certified, approval_count, quorum_threshold,
		        quorum_reached, elapsed_ms, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var provider sql.NullString
		if err := rows.Scan(&r.RunID, &r.State, &provider, &r.Certified, &r.ApprovalCount,
			&r.QuorumThreshold, &r.QuorumReached, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Provider = provider.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (a *Audit) Close() error {
	return a.db.Close()
}
