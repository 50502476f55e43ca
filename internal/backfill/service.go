// Package backfill implements the retroactive filter re-application engine:
// task lifecycle, workspace-exclusive leases, partition-by-partition
// mutations, capacity gating, stale task recovery, and graceful
// cancellation.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/user/analytics-ingest/internal/errs"
	"github.com/user/analytics-ingest/internal/logging"
	"github.com/user/analytics-ingest/internal/observability"
	"github.com/user/analytics-ingest/internal/store"
	"github.com/user/analytics-ingest/pkg/filter"
	"github.com/user/analytics-ingest/pkg/idgen"
)

var tracer = otel.Tracer("github.com/user/analytics-ingest/internal/backfill")

// Clock abstracts time for tests.
type Clock func() time.Time

// WorkspaceFilters resolves the live filter set for a workspace. The
// service reads it at task creation time to freeze filters_snapshot, and in
// GetBackfillSummary to compare against the last completed snapshot.
type WorkspaceFilters interface {
	Filters(ctx context.Context, workspaceID string) ([]filter.Definition, error)
}

// DefaultChunkSizeDays is used when a caller doesn't specify a chunk size.
const DefaultChunkSizeDays = 1

// StaleThreshold is how old a running task's updated_at must be before
// stale recovery fails it. Overridable through configuration.
const StaleThreshold = 5 * time.Minute

// staleRecoveryStartupDelay gives in-flight StartBackfill calls from a
// previous incarnation time to land their first row before recovery scans
// for stale ones.
const staleRecoveryStartupDelay = 2 * time.Second

// Service implements the task lifecycle surface:
// start/cancel/status/list/summary.
type Service struct {
	store   Store
	filters WorkspaceFilters
	logger  logging.Logger
	clock   Clock
	leases  *leaseRegistry

	mu         sync.Mutex
	processors map[string]*Processor // task_id -> running processor
	run        func(ctx context.Context, p *Processor)
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSynchronousRun makes StartBackfill run the processor inline instead of
// in a goroutine, for deterministic tests.
func WithSynchronousRun() Option {
	return func(s *Service) {
		s.run = func(ctx context.Context, p *Processor) { p.Run(ctx) }
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})    {}
func (nopLogger) Info(string, ...interface{})     {}
func (nopLogger) Warn(string, ...interface{})     {}
func (nopLogger) Error(string, ...interface{})    {}
func (nopLogger) Critical(string, ...interface{}) {}

// NewService constructs a backfill Service.
func NewService(st Store, wf WorkspaceFilters, opts ...Option) *Service {
	s := &Service{
		store:      st,
		filters:    wf,
		logger:     nopLogger{},
		clock:      time.Now,
		leases:     newLeaseRegistry(),
		processors: make(map[string]*Processor),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.run == nil {
		s.run = func(ctx context.Context, p *Processor) { go p.Run(ctx) }
	}
	return s
}

// StartBackfill creates a new task row and enqueues its processor. Returns
// ErrConflictingTask if the workspace already has a pending or running
// task.
func (s *Service) StartBackfill(ctx context.Context, workspaceID string, lookbackDays, chunkSizeDays int) (string, error) {
	ctx, span := tracer.Start(ctx, "backfill.StartBackfill")
	defer span.End()

	if lookbackDays < 1 || lookbackDays > 365 {
		return "", fmt.Errorf("lookback_days must be in [1,365], got %d", lookbackDays)
	}
	if chunkSizeDays == 0 {
		chunkSizeDays = DefaultChunkSizeDays
	}
	if chunkSizeDays < 1 || chunkSizeDays > 30 {
		return "", fmt.Errorf("chunk_size_days must be in [1,30], got %d", chunkSizeDays)
	}

	if _, active, err := s.store.ActiveTask(ctx, workspaceID); err != nil {
		return "", fmt.Errorf("check active task: %w", err)
	} else if active {
		return "", errs.ErrConflictingTask
	}

	defs, err := s.filters.Filters(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("load workspace filters: %w", err)
	}
	snapshot, err := json.Marshal(defs)
	if err != nil {
		return "", fmt.Errorf("serialize filters snapshot: %w", err)
	}

	now := s.clock()
	t := store.Task{
		ID:              idgen.NewTaskID(),
		WorkspaceID:     workspaceID,
		Status:          store.TaskPending,
		LookbackDays:    lookbackDays,
		ChunkSizeDays:   chunkSizeDays,
		CreatedAt:       now,
		UpdatedAt:       now,
		FiltersSnapshot: string(snapshot),
	}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}

	p := newProcessor(s.store, s.leases, s.logger, s.clock, t)
	p.onDone = s.forgetProcessor
	s.mu.Lock()
	s.processors[t.ID] = p
	s.mu.Unlock()

	s.run(context.Background(), p)

	return t.ID, nil
}

// CancelTask cooperatively cancels a running/pending task: it signals the
// in-process processor (if any is running in this replica), issues KILL
// MUTATION for the workspace's in-flight mutations, and writes a new
// cancelled row.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	t, ok, err := s.store.LatestTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if t.Status.IsTerminal() {
		return errs.ErrAlreadyTerminal
	}

	s.mu.Lock()
	p := s.processors[taskID]
	s.mu.Unlock()
	if p != nil {
		p.cancel()
	}

	if err := s.store.KillMutations(ctx, t.WorkspaceID); err != nil {
		s.logger.Warn("backfill: kill mutation on cancel failed", "task_id", taskID, "error", err)
	}

	t.Status = store.TaskCancelled
	t.UpdatedAt = s.clock()
	if err := writeTaskWithRetry(ctx, s.store, s.logger, t); err != nil {
		return err
	}
	observability.BackfillTasksTotal.WithLabelValues(string(t.Status)).Inc()
	return nil
}

// GetTaskStatus returns the latest progress projection for one task.
func (s *Service) GetTaskStatus(ctx context.Context, taskID string) (TaskProgress, error) {
	t, ok, err := s.store.LatestTask(ctx, taskID)
	if err != nil {
		return TaskProgress{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if !ok {
		return TaskProgress{}, fmt.Errorf("task %s not found", taskID)
	}
	return toProgress(t), nil
}

// ListTasks returns every task for a workspace, newest created first.
func (s *Service) ListTasks(ctx context.Context, workspaceID string) ([]TaskProgress, error) {
	tasks, err := s.store.ListTasks(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for workspace %s: %w", workspaceID, err)
	}
	out := make([]TaskProgress, len(tasks))
	for i, t := range tasks {
		out[i] = toProgress(t)
	}
	return out, nil
}

// Summary reports whether a workspace's historical data still matches its
// current filter configuration.
type Summary struct {
	NeedsBackfill              bool          `json:"needs_backfill"`
	CurrentFilterVersion       string        `json:"current_filter_version"`
	LastCompletedFilterVersion string        `json:"last_completed_filter_version,omitempty"`
	ActiveTask                 *TaskProgress `json:"active_task,omitempty"`
}

// GetBackfillSummary compares the current filter version against the
// version frozen in the most recent completed task's snapshot.
func (s *Service) GetBackfillSummary(ctx context.Context, workspaceID string) (Summary, error) {
	defs, err := s.filters.Filters(ctx, workspaceID)
	if err != nil {
		return Summary{}, fmt.Errorf("load workspace filters: %w", err)
	}
	currentVersion := filter.ComputeVersion(defs)

	tasks, err := s.store.ListTasks(ctx, workspaceID)
	if err != nil {
		return Summary{}, fmt.Errorf("list tasks for workspace %s: %w", workspaceID, err)
	}

	var lastCompletedVersion string
	var active *TaskProgress
	for _, t := range tasks {
		if t.Status == store.TaskCompleted && lastCompletedVersion == "" {
			var snapshot []filter.Definition
			if err := json.Unmarshal([]byte(t.FiltersSnapshot), &snapshot); err == nil {
				lastCompletedVersion = filter.ComputeVersion(snapshot)
			}
		}
		if !t.Status.IsTerminal() && active == nil {
			p := toProgress(t)
			active = &p
		}
	}

	return Summary{
		NeedsBackfill:              lastCompletedVersion == "" || lastCompletedVersion != currentVersion,
		CurrentFilterVersion:       currentVersion,
		LastCompletedFilterVersion: lastCompletedVersion,
		ActiveTask:                 active,
	}, nil
}

// RunStaleRecovery waits out the startup grace period, then transitions any
// "running" task whose updated_at predates threshold to "failed". Intended
// to be launched in its own goroutine during service start; it handles
// tasks orphaned by a crash mid-backfill.
func (s *Service) RunStaleRecovery(ctx context.Context, threshold time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(staleRecoveryStartupDelay):
	}
	if _, err := s.RecoverStale(ctx, threshold); err != nil {
		s.logger.Error("backfill: stale task recovery failed", "error", err)
	}
}

// RecoverStale transitions any "running" task whose updated_at predates
// threshold (relative to now) to "failed", and reports how many it
// recovered.
func (s *Service) RecoverStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := s.clock().Add(-threshold)
	stale, err := s.store.StaleRunningTasks(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query stale tasks: %w", err)
	}

	recovered := 0
	for _, t := range stale {
		t.Status = store.TaskFailed
		t.ErrorMessage = errs.ErrStale.Error()
		t.UpdatedAt = s.clock()
		if err := writeTaskWithRetry(ctx, s.store, s.logger, t); err != nil {
			s.logger.Error("backfill: stale recovery write failed", "task_id", t.ID, "error", err)
			continue
		}
		recovered++
		observability.BackfillTasksTotal.WithLabelValues(string(t.Status)).Inc()
		s.logger.Info("backfill: recovered stale task", "task_id", t.ID, "workspace_id", t.WorkspaceID)
	}
	return recovered, nil
}

// Shutdown cancels every in-process processor, issues KILL MUTATION for
// each workspace under backfill (bounded by the aggregate timeout), and
// marks still-running tasks cancelled.
func (s *Service) Shutdown(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	procs := make([]*Processor, 0, len(s.processors))
	for _, p := range s.processors {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		p.cancel()
	}

	killed := make(map[string]bool)
	for _, p := range procs {
		wsID := p.task().WorkspaceID
		if killed[wsID] {
			continue
		}
		killed[wsID] = true
		if err := s.store.KillMutations(ctx, wsID); err != nil {
			s.logger.Warn("backfill: kill mutation on shutdown failed", "workspace_id", wsID, "error", err)
		}
	}

	for _, p := range procs {
		t := p.task()
		if t.Status.IsTerminal() {
			continue
		}
		t.Status = store.TaskCancelled
		t.ErrorMessage = "Service shutdown"
		t.UpdatedAt = s.clock()
		if err := writeTaskWithRetry(ctx, s.store, s.logger, t); err != nil {
			s.logger.Error("backfill: shutdown status write failed", "task_id", t.ID, "error", err)
			continue
		}
		observability.BackfillTasksTotal.WithLabelValues(string(t.Status)).Inc()
	}
}

func (s *Service) forgetProcessor(taskID string) {
	s.mu.Lock()
	delete(s.processors, taskID)
	s.mu.Unlock()
}
