package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Run is the persisted record of one decompose-assign-execute-merge cycle.
type Run struct {
	ID           string
	ProjectID    string
	Instruction  string
	Status       string
	ParentTaskID string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Worker is the persisted record of one hired worker.
type Worker struct {
	ID                  string
	RunID               string
	Name                string
	Capabilities        []string
	Status              string
	HealthScore         int
	CompletedCount      int
	FailedCount         int
	ConsecutiveFailures int
	HiredAt             time.Time
	LastActivity        *time.Time
}

// FailureRecord is the persisted record of one worker failure.
type FailureRecord struct {
	ID              string
	WorkerID        string
	SubTaskID       string
	ErrorCode       string
	ErrorMessage    string
	Recoverable     bool
	SupportProvided bool
	Resolved        bool
	OccurredAt      time.Time
}

// CreateRun inserts a new run record.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, project_id, instruction, status, parent_task_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.Instruction, r.Status, r.ParentTaskID, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunStatus updates a run's status and sets completed_at to
// completedAt, or to NULL when completedAt is nil.
func (db *DB) UpdateRunStatus(id, status string, completedAt *time.Time) error {
	var completedStr sql.NullString
	if completedAt != nil {
		completedStr = sql.NullString{String: formatTime(*completedAt), Valid: true}
	}
	_, err := db.Exec(`UPDATE runs SET status = ?, completed_at = ? WHERE id = ?`, status, completedStr, id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT id, project_id, instruction, status, parent_task_id, started_at, completed_at FROM runs WHERE id = ?`, id)
	var r Run
	var startedAtStr string
	var completedAt sql.NullString
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Instruction, &r.Status, &r.ParentTaskID, &startedAtStr, &completedAt); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if t, err := parseTime(startedAtStr); err == nil {
		r.StartedAt = t
	}
	r.CompletedAt = parseNullableTime(completedAt)
	return &r, nil
}

// CreateWorker inserts a new worker record.
func (db *DB) CreateWorker(w *Worker) error {
	_, err := db.Exec(`
		INSERT INTO workers (id, run_id, name, capabilities, status, health_score, hired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.RunID, w.Name, strings.Join(w.Capabilities, ","), w.Status, w.HealthScore, formatTime(w.HiredAt))
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

// UpdateWorkerStats persists a worker's mutable counters after a task outcome.
func (db *DB) UpdateWorkerStats(w *Worker) error {
	var lastActivity sql.NullString
	if w.LastActivity != nil {
		lastActivity = sql.NullString{String: formatTime(*w.LastActivity), Valid: true}
	}
	_, err := db.Exec(`
		UPDATE workers SET status = ?, health_score = ?, completed_count = ?, failed_count = ?,
			consecutive_failures = ?, last_activity = ?
		WHERE id = ?
	`, w.Status, w.HealthScore, w.CompletedCount, w.FailedCount, w.ConsecutiveFailures, lastActivity, w.ID)
	if err != nil {
		return fmt.Errorf("update worker stats: %w", err)
	}
	return nil
}

// ListWorkersByRun returns every worker hired for a run.
func (db *DB) ListWorkersByRun(runID string) ([]Worker, error) {
	rows, err := db.Query(`
		SELECT id, run_id, name, capabilities, status, health_score, completed_count,
			failed_count, consecutive_failures, hired_at, last_activity
		FROM workers WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		var w Worker
		var capsStr string
		var hiredAtStr string
		var lastActivity sql.NullString
		if err := rows.Scan(&w.ID, &w.RunID, &w.Name, &capsStr, &w.Status, &w.HealthScore,
			&w.CompletedCount, &w.FailedCount, &w.ConsecutiveFailures, &hiredAtStr, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if capsStr != "" {
			w.Capabilities = strings.Split(capsStr, ",")
		}
		if t, err := parseTime(hiredAtStr); err == nil {
			w.HiredAt = t
		}
		w.LastActivity = parseNullableTime(lastActivity)
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordFailure inserts a failure record.
func (db *DB) RecordFailure(f *FailureRecord) error {
	_, err := db.Exec(`
		INSERT INTO failure_records (id, worker_id, sub_task_id, error_code, error_message,
			recoverable, support_provided, resolved, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.WorkerID, f.SubTaskID, f.ErrorCode, f.ErrorMessage,
		boolToInt(f.Recoverable), boolToInt(f.SupportProvided), boolToInt(f.Resolved), formatTime(f.OccurredAt))
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ListFailuresByWorker returns every failure record for a worker, most recent first.
func (db *DB) ListFailuresByWorker(workerID string) ([]FailureRecord, error) {
	rows, err := db.Query(`
		SELECT id, worker_id, sub_task_id, error_code, error_message, recoverable,
			support_provided, resolved, occurred_at
		FROM failure_records WHERE worker_id = ? ORDER BY occurred_at DESC
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var recoverable, supportProvided, resolved int
		var occurredAtStr string
		if err := rows.Scan(&f.ID, &f.WorkerID, &f.SubTaskID, &f.ErrorCode, &f.ErrorMessage,
			&recoverable, &supportProvided, &resolved, &occurredAtStr); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Recoverable = recoverable != 0
		f.SupportProvided = supportProvided != 0
		f.Resolved = resolved != 0
		if t, err := parseTime(occurredAtStr); err == nil {
			f.OccurredAt = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
