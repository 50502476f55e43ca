package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const tasksTable = "backfill_tasks"

// TaskStatus is the closed vocabulary of BackfillTask lifecycle states.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether s is one of the states a task never leaves.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is the authoritative row describing one backfill run. The
// table is a replacement-merge keyed on ID and versioned by UpdatedAt: every
// mutation is a fresh INSERT of the full row, never an UPDATE.
type Task struct {
	ID                string
	WorkspaceID       string
	Status            TaskStatus
	LookbackDays      int
	ChunkSizeDays     int
	BatchSize         int
	TotalSessions     int64
	ProcessedSessions int64
	TotalEvents       int64
	ProcessedEvents   int64
	CurrentDateChunk  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ErrorMessage      string
	RetryCount        int
	FiltersSnapshot   string
}

// InsertTask appends a new version row for a task. Callers must set
// UpdatedAt to a value newer than any previously-written version of the
// same ID; this is the table's only write path.
func (s *Store) InsertTask(ctx context.Context, t Task) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s.%s (
			id, workspace_id, status, lookback_days, chunk_size_days, batch_size,
			total_sessions, processed_sessions, total_events, processed_events,
			current_date_chunk, created_at, updated_at, started_at, completed_at,
			error_message, retry_count, filters_snapshot
		)`, s.systemDB, tasksTable))
	if err != nil {
		return fmt.Errorf("prepare task insert: %w", err)
	}

	if err := batch.Append(
		t.ID, t.WorkspaceID, string(t.Status), t.LookbackDays, t.ChunkSizeDays, t.BatchSize,
		t.TotalSessions, t.ProcessedSessions, t.TotalEvents, t.ProcessedEvents,
		t.CurrentDateChunk, t.CreatedAt, t.UpdatedAt, optionalTime(t.StartedAt), optionalTime(t.CompletedAt),
		t.ErrorMessage, t.RetryCount, t.FiltersSnapshot,
	); err != nil {
		return fmt.Errorf("append task row: %w", err)
	}
	return batch.Send()
}

func optionalTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// latestTaskSelect is the merge-on-read projection: one row per id, taking
// the value of every column from whichever physical row has the greatest
// updated_at. This is the ClickHouse-idiomatic alternative to a FINAL scan
// over a table that is never background-merged between reads.
const latestTaskSelect = `
SELECT
	id,
	argMax(workspace_id, updated_at),
	argMax(status, updated_at),
	argMax(lookback_days, updated_at),
	argMax(chunk_size_days, updated_at),
	argMax(batch_size, updated_at),
	argMax(total_sessions, updated_at),
	argMax(processed_sessions, updated_at),
	argMax(total_events, updated_at),
	argMax(processed_events, updated_at),
	argMax(current_date_chunk, updated_at),
	argMax(created_at, updated_at),
	max(updated_at),
	argMax(started_at, updated_at),
	argMax(completed_at, updated_at),
	argMax(error_message, updated_at),
	argMax(retry_count, updated_at),
	argMax(filters_snapshot, updated_at)
FROM %s.%s
%s
GROUP BY id`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var status string
	var started, completed time.Time
	if err := row.Scan(
		&t.ID, &t.WorkspaceID, &status, &t.LookbackDays, &t.ChunkSizeDays, &t.BatchSize,
		&t.TotalSessions, &t.ProcessedSessions, &t.TotalEvents, &t.ProcessedEvents,
		&t.CurrentDateChunk, &t.CreatedAt, &t.UpdatedAt, &started, &completed,
		&t.ErrorMessage, &t.RetryCount, &t.FiltersSnapshot,
	); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	if !started.IsZero() {
		t.StartedAt = &started
	}
	if !completed.IsZero() {
		t.CompletedAt = &completed
	}
	return t, nil
}

// LatestTask returns the latest version of the task row with the given id.
func (s *Store) LatestTask(ctx context.Context, taskID string) (Task, bool, error) {
	query := fmt.Sprintf(latestTaskSelect, s.systemDB, tasksTable, "WHERE id = ?")
	row := s.conn.QueryRow(ctx, query, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return t, true, nil
}

// ListTasks returns every task row for a workspace, newest created first.
func (s *Store) ListTasks(ctx context.Context, workspaceID string) ([]Task, error) {
	query := fmt.Sprintf(latestTaskSelect, s.systemDB, tasksTable, "WHERE workspace_id = ?") +
		" ORDER BY argMax(created_at, updated_at) DESC"
	rows, err := s.conn.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveTask returns the workspace's task row in {pending, running}, if any
// — used to enforce the "at most one active task per workspace" invariant.
func (s *Store) ActiveTask(ctx context.Context, workspaceID string) (Task, bool, error) {
	tasks, err := s.ListTasks(ctx, workspaceID)
	if err != nil {
		return Task{}, false, err
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return t, true, nil
		}
	}
	return Task{}, false, nil
}

// StaleRunningTasks returns every task across all workspaces whose status is
// "running" and whose last update predates the cutoff, for stale recovery.
func (s *Store) StaleRunningTasks(ctx context.Context, cutoff time.Time) ([]Task, error) {
	query := fmt.Sprintf(latestTaskSelect, s.systemDB, tasksTable, "") +
		" HAVING argMax(status, updated_at) = ? AND max(updated_at) < ?"
	rows, err := s.conn.Query(ctx, query, string(TaskRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
