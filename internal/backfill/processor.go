package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/analytics-ingest/internal/errs"
	"github.com/user/analytics-ingest/internal/logging"
	"github.com/user/analytics-ingest/internal/observability"
	"github.com/user/analytics-ingest/internal/store"
	"github.com/user/analytics-ingest/pkg/evaluator"
	"github.com/user/analytics-ingest/pkg/filter"
)

// eventsTTLDays bounds how far back the events table still has data; chunks
// older than this skip the events mutation entirely.
const eventsTTLDays = 7

// Processor runs the partition-by-partition mutation loop for one task. It
// is constructed and owned by Service; callers never build one directly.
type Processor struct {
	store  Store
	leases *leaseRegistry
	logger logging.Logger
	clock  Clock
	onDone func(taskID string)

	mu        sync.Mutex
	t         store.Task
	cancelled int32

	processedSessionPartitions map[string]bool
}

func newProcessor(st Store, leases *leaseRegistry, logger logging.Logger, clock Clock, t store.Task) *Processor {
	return &Processor{
		store:                      st,
		leases:                     leases,
		logger:                     logger,
		clock:                      clock,
		t:                          t,
		processedSessionPartitions: make(map[string]bool),
	}
}

func (p *Processor) cancel() {
	atomic.StoreInt32(&p.cancelled, 1)
}

func (p *Processor) isCancelled() bool {
	return atomic.LoadInt32(&p.cancelled) == 1
}

func (p *Processor) task() store.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

func (p *Processor) setTask(t store.Task) {
	p.mu.Lock()
	p.t = t
	p.mu.Unlock()
}

// Run executes the processing loop to completion (or cancellation/failure).
// It acquires the workspace-exclusive lease for its whole lifetime, so a
// second task for the same workspace queues behind it regardless of which
// uniqueness check raced it in.
func (p *Processor) Run(ctx context.Context) {
	release := p.leases.acquire(p.t.WorkspaceID)
	defer release()
	if p.onDone != nil {
		defer p.onDone(p.t.ID)
	}

	switch err := p.run(ctx); {
	case err == nil:
	case errors.Is(err, errs.ErrCancelled):
		p.logger.Info("backfill: task cancelled", "task_id", p.t.ID, "workspace_id", p.t.WorkspaceID)
	default:
		p.logger.Error("backfill: processor run failed", "task_id", p.t.ID, "workspace_id", p.t.WorkspaceID, "error", err)
	}
}

func (p *Processor) run(ctx context.Context) error {
	// The task runs against the filters as they were at creation time, not
	// the live workspace configuration.
	var defs []filter.Definition
	if err := json.Unmarshal([]byte(p.t.FiltersSnapshot), &defs); err != nil {
		return p.fail(ctx, fmt.Errorf("decode filters snapshot: %w", err))
	}
	compiled := evaluator.Compile(defs)

	chunks := dateChunks(p.clock(), p.t.LookbackDays, p.t.ChunkSizeDays)

	windowStart := p.clock().AddDate(0, 0, -p.t.LookbackDays+1)
	counts, err := p.store.CountWindow(ctx, p.t.WorkspaceID, windowStart)
	if err != nil {
		return p.fail(ctx, fmt.Errorf("count window: %w", err))
	}

	now := p.clock()
	t := p.task()
	t.Status = store.TaskRunning
	t.TotalSessions = counts.Sessions
	t.TotalEvents = counts.Events
	t.StartedAt = &now
	t.UpdatedAt = now
	if err := writeTaskWithRetry(ctx, p.store, p.logger, t); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}
	p.setTask(t)

	for _, chunk := range chunks {
		if p.isCancelled() {
			return p.markCancelled(ctx)
		}

		if err := p.processChunk(ctx, chunk, compiled); err != nil {
			if p.isCancelled() {
				return p.markCancelled(ctx)
			}
			return p.fail(ctx, fmt.Errorf("process chunk %s: %w", chunk.Format("2006-01-02"), err))
		}
	}

	if p.isCancelled() {
		return p.markCancelled(ctx)
	}
	return p.complete(ctx)
}

func (p *Processor) processChunk(ctx context.Context, chunk time.Time, compiled evaluator.CompiledFilters) error {
	ctx, span := tracer.Start(ctx, "backfill.processChunk")
	defer span.End()
	wsID := p.t.WorkspaceID

	t := p.task()
	t.CurrentDateChunk = chunk.Format("2006-01-02")
	t.UpdatedAt = p.clock()
	if err := writeTaskWithRetry(ctx, p.store, p.logger, t); err != nil {
		return fmt.Errorf("update current_date_chunk: %w", err)
	}
	p.setTask(t)

	// Events partitions are daily and expire after eventsTTLDays; anything
	// older has no rows left to mutate.
	if p.clock().Sub(chunk) <= eventsTTLDays*24*time.Hour {
		if err := p.store.EnsureMutationCapacity(ctx, wsID); err != nil {
			return fmt.Errorf("events capacity: %w", err)
		}
		partition := chunk.Format("20060102")
		mutationStart := p.clock()
		if err := p.store.UpdateEventsPartition(ctx, wsID, compiled.SetClause, partition); err != nil {
			return fmt.Errorf("update events partition: %w", err)
		}
		if err := p.store.WaitForMutations(ctx, wsID, "events", store.MutationCapacityTimeout); err != nil {
			return fmt.Errorf("wait for events mutation: %w", err)
		}
		observability.BackfillMutationDuration.WithLabelValues("events").Observe(p.clock().Sub(mutationStart).Seconds())
		eventsCount, err := p.store.CountEventsPartition(ctx, wsID, partition)
		if err != nil {
			return fmt.Errorf("count events partition: %w", err)
		}
		p.addProgress(ctx, 0, eventsCount)
	}

	// Sessions and goals share monthly partitions; each month is mutated at
	// most once per task, but per-date session counts are always accumulated
	// so progress tracks the chunk loop rather than the partition set.
	monthPartition := chunk.Format("200601")
	if !p.processedSessionPartitions[monthPartition] {
		if err := p.store.EnsureMutationCapacity(ctx, wsID); err != nil {
			return fmt.Errorf("sessions capacity: %w", err)
		}
		sessionsMutationStart := p.clock()
		if err := p.store.UpdateSessionsPartition(ctx, wsID, compiled.SetClause, monthPartition); err != nil {
			return fmt.Errorf("update sessions partition: %w", err)
		}
		if err := p.store.WaitForMutations(ctx, wsID, "sessions", store.MutationCapacityTimeout); err != nil {
			return fmt.Errorf("wait for sessions mutation: %w", err)
		}
		observability.BackfillMutationDuration.WithLabelValues("sessions").Observe(p.clock().Sub(sessionsMutationStart).Seconds())

		if err := p.store.EnsureMutationCapacity(ctx, wsID); err != nil {
			return fmt.Errorf("goals capacity: %w", err)
		}
		goalsMutationStart := p.clock()
		if err := p.store.UpdateGoalsPartition(ctx, wsID, compiled.SetClause, monthPartition); err != nil {
			return fmt.Errorf("update goals partition: %w", err)
		}
		if err := p.store.WaitForMutations(ctx, wsID, "goals", store.MutationCapacityTimeout); err != nil {
			return fmt.Errorf("wait for goals mutation: %w", err)
		}
		observability.BackfillMutationDuration.WithLabelValues("goals").Observe(p.clock().Sub(goalsMutationStart).Seconds())

		p.processedSessionPartitions[monthPartition] = true
	}

	sessionsCount, err := p.store.CountSessionsForDate(ctx, wsID, chunk)
	if err != nil {
		return fmt.Errorf("count sessions for date: %w", err)
	}
	p.addProgress(ctx, sessionsCount, 0)

	observability.BackfillChunksProcessed.WithLabelValues(wsID).Inc()

	return nil
}

func (p *Processor) addProgress(ctx context.Context, sessions, events int64) {
	t := p.task()
	t.ProcessedSessions += sessions
	t.ProcessedEvents += events
	t.UpdatedAt = p.clock()
	p.setTask(t)
	// Best-effort progress write; a dropped progress update is reconciled by
	// the next chunk's write or the terminal transition, never silently
	// lost from the task's final state.
	_ = writeTaskWithRetry(ctx, p.store, p.logger, t)
}

func (p *Processor) complete(ctx context.Context) error {
	t := p.task()
	t.Status = store.TaskCompleted
	now := p.clock()
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := writeTaskWithRetry(ctx, p.store, p.logger, t); err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}
	p.setTask(t)
	observability.BackfillTasksTotal.WithLabelValues(string(t.Status)).Inc()
	return nil
}

func (p *Processor) markCancelled(ctx context.Context) error {
	t := p.task()
	t.Status = store.TaskCancelled
	t.UpdatedAt = p.clock()
	if err := writeTaskWithRetry(ctx, p.store, p.logger, t); err != nil {
		return fmt.Errorf("transition to cancelled: %w", err)
	}
	p.setTask(t)
	observability.BackfillTasksTotal.WithLabelValues(string(t.Status)).Inc()
	return errs.ErrCancelled
}

func (p *Processor) fail(ctx context.Context, cause error) error {
	t := p.task()
	t.Status = store.TaskFailed
	t.ErrorMessage = cause.Error()
	t.UpdatedAt = p.clock()
	if err := writeTaskWithRetry(ctx, p.store, p.logger, t); err != nil {
		p.logger.Critical("backfill: failed to persist task failure", "task_id", t.ID, "cause", cause, "write_error", err)
	}
	p.setTask(t)
	observability.BackfillTasksTotal.WithLabelValues(string(t.Status)).Inc()
	return cause
}

// dateChunks generates the chunk start dates from (now - lookbackDays + 1)
// forward in steps of chunkSizeDays, inclusive of now. When chunkSizeDays
// doesn't evenly divide the lookback window, the final step would overshoot
// past today — it is clamped to today rather than dropped, so today's
// partition is always visited.
func dateChunks(now time.Time, lookbackDays, chunkSizeDays int) []time.Time {
	start := truncateToDay(now).AddDate(0, 0, -lookbackDays+1)
	end := truncateToDay(now)

	// start <= end always holds for lookbackDays >= 1, so this always
	// produces at least one chunk (d == start).
	var chunks []time.Time
	var d time.Time
	for d = start; !d.After(end); d = d.AddDate(0, 0, chunkSizeDays) {
		chunks = append(chunks, d)
	}
	if d.After(end) && !chunks[len(chunks)-1].Equal(end) {
		chunks = append(chunks, end)
	}
	return chunks
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
