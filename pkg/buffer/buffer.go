// Package buffer implements the per-workspace event buffer: size/time
// triggered batch flushes with single-flight and re-queue-on-failure
// semantics.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/analytics-ingest/pkg/event"
)

func recordFlush(workspaceID, result string, started time.Time) {
	flushesTotal.WithLabelValues(workspaceID, result).Inc()
	flushLatency.WithLabelValues(workspaceID).Observe(time.Since(started).Seconds())
}

const (
	// MaxBufferSize is the queue length at which an add triggers an
	// immediate synchronous flush.
	MaxBufferSize = 500
	// FlushInterval is the one-shot timer started when a workspace's queue
	// transitions from empty to non-empty.
	FlushInterval = 2000 * time.Millisecond
)

// Logger is the minimal structured logging surface the buffer depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Sink bulk-inserts events for one workspace into the columnar store.
type Sink interface {
	InsertEvents(ctx context.Context, workspaceID string, events []event.TrackingEvent) error
}

// workspaceQueue is one workspace's queue, flush timer, and single-flight
// flag.
type workspaceQueue struct {
	mu       sync.Mutex
	queue    []event.TrackingEvent
	timer    *time.Timer
	flushing bool
}

// EventBuffer coalesces enrichment output into bulk inserts per workspace.
type EventBuffer struct {
	sink   Sink
	logger Logger

	maxSize  int
	interval time.Duration

	mu         sync.RWMutex
	workspaces map[string]*workspaceQueue
	closed     bool

	inflight sync.WaitGroup
}

// Option configures an EventBuffer at construction time.
type Option func(*EventBuffer)

// WithLogger overrides the buffer's logger.
func WithLogger(l Logger) Option {
	return func(b *EventBuffer) { b.logger = l }
}

// WithLimits overrides the size/time flush thresholds, primarily for tests.
func WithLimits(maxSize int, interval time.Duration) Option {
	return func(b *EventBuffer) {
		b.maxSize = maxSize
		b.interval = interval
	}
}

// New constructs an EventBuffer backed by sink.
func New(sink Sink, opts ...Option) *EventBuffer {
	b := &EventBuffer{
		sink:       sink,
		logger:     nopLogger{},
		maxSize:    MaxBufferSize,
		interval:   FlushInterval,
		workspaces: make(map[string]*workspaceQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EventBuffer) workspace(id string) *workspaceQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	wq, ok := b.workspaces[id]
	if !ok {
		wq = &workspaceQueue{}
		b.workspaces[id] = wq
	}
	return wq
}

// Add appends one event to its workspace's queue, starting the flush timer
// on the empty-to-non-empty transition and triggering an immediate flush
// once the size threshold is crossed.
func (b *EventBuffer) Add(ctx context.Context, ev event.TrackingEvent) error {
	return b.AddBatch(ctx, []event.TrackingEvent{ev})
}

// AddBatch groups events by workspace and adds each group, preserving the
// same timer-start and size-threshold semantics as repeated Add calls.
func (b *EventBuffer) AddBatch(ctx context.Context, events []event.TrackingEvent) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("buffer: shut down")
	}

	byWorkspace := make(map[string][]event.TrackingEvent)
	order := make([]string, 0, 4)
	for _, ev := range events {
		if _, ok := byWorkspace[ev.WorkspaceID]; !ok {
			order = append(order, ev.WorkspaceID)
		}
		byWorkspace[ev.WorkspaceID] = append(byWorkspace[ev.WorkspaceID], ev)
	}

	for _, wsID := range order {
		b.addToWorkspace(ctx, wsID, byWorkspace[wsID])
	}
	return nil
}

func (b *EventBuffer) addToWorkspace(ctx context.Context, workspaceID string, events []event.TrackingEvent) {
	wq := b.workspace(workspaceID)

	wq.mu.Lock()
	wasEmpty := len(wq.queue) == 0
	wq.queue = append(wq.queue, events...)
	shouldFlush := len(wq.queue) >= b.maxSize
	if wasEmpty && !shouldFlush {
		wq.timer = time.AfterFunc(b.interval, func() {
			b.flush(context.Background(), workspaceID)
		})
	}
	depth := len(wq.queue)
	wq.mu.Unlock()
	queueDepth.WithLabelValues(workspaceID).Set(float64(depth))

	if shouldFlush {
		b.flush(ctx, workspaceID)
	}
}

// Flush forces an immediate flush of one workspace's queue.
func (b *EventBuffer) Flush(ctx context.Context, workspaceID string) error {
	return b.flush(ctx, workspaceID)
}

func (b *EventBuffer) flush(ctx context.Context, workspaceID string) error {
	wq := b.workspace(workspaceID)

	wq.mu.Lock()
	if wq.timer != nil {
		wq.timer.Stop()
		wq.timer = nil
	}
	if wq.flushing || len(wq.queue) == 0 {
		wq.mu.Unlock()
		return nil
	}
	wq.flushing = true
	snapshot := wq.queue
	wq.queue = nil
	wq.mu.Unlock()

	b.inflight.Add(1)
	defer b.inflight.Done()

	started := time.Now()
	err := b.sink.InsertEvents(ctx, workspaceID, snapshot)

	wq.mu.Lock()
	if err != nil {
		wq.queue = append(snapshot, wq.queue...)
	}
	wq.flushing = false
	depth := len(wq.queue)
	wq.mu.Unlock()
	queueDepth.WithLabelValues(workspaceID).Set(float64(depth))

	if err != nil {
		recordFlush(workspaceID, "error", started)
		b.logger.Error("event buffer flush failed", "workspace_id", workspaceID, "count", len(snapshot), "error", err)
		return fmt.Errorf("flush workspace %s: %w", workspaceID, err)
	}
	recordFlush(workspaceID, "ok", started)
	b.logger.Debug("event buffer flushed", "workspace_id", workspaceID, "count", len(snapshot))
	return nil
}

// FlushAll flushes every workspace with a non-empty queue, concurrently.
func (b *EventBuffer) FlushAll(ctx context.Context) error {
	b.mu.RLock()
	ids := make([]string, 0, len(b.workspaces))
	for id := range b.workspaces {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = b.flush(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops all pending timers, waits for in-flight flushes, then
// flushes every remaining buffer.
func (b *EventBuffer) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	for _, wq := range b.workspaces {
		wq.mu.Lock()
		if wq.timer != nil {
			wq.timer.Stop()
			wq.timer = nil
		}
		wq.mu.Unlock()
	}
	b.mu.Unlock()

	b.inflight.Wait()
	return b.FlushAll(ctx)
}

// Len reports the current queue length for a workspace. Exposed for tests
// exercising the size-trigger property.
func (b *EventBuffer) Len(workspaceID string) int {
	wq := b.workspace(workspaceID)
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.queue)
}
