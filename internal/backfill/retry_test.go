package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/user/analytics-ingest/internal/store"
)

func shortenRetryDelays(t *testing.T) {
	t.Helper()
	orig := statusRetryDelays
	statusRetryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { statusRetryDelays = orig })
}

func TestWriteTaskWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	shortenRetryDelays(t)

	ms := newMemStore()
	ms.insertFailures = 2

	task := store.Task{ID: "t1", WorkspaceID: "ws1", Status: store.TaskRunning, UpdatedAt: time.Now()}
	if err := writeTaskWithRetry(context.Background(), ms, nopLogger{}, task); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	if _, ok, _ := ms.LatestTask(context.Background(), "t1"); !ok {
		t.Fatal("row should be written once a retry succeeds")
	}
}

func TestWriteTaskWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	shortenRetryDelays(t)

	ms := newMemStore()
	ms.insertFailures = 100

	task := store.Task{ID: "t1", WorkspaceID: "ws1", Status: store.TaskRunning, UpdatedAt: time.Now()}
	if err := writeTaskWithRetry(context.Background(), ms, nopLogger{}, task); err == nil {
		t.Fatal("expected error once every attempt fails")
	}
}

func TestWriteTaskWithRetry_StopsOnContextCancel(t *testing.T) {
	orig := statusRetryDelays
	statusRetryDelays = []time.Duration{time.Hour}
	t.Cleanup(func() { statusRetryDelays = orig })

	ms := newMemStore()
	ms.insertFailures = 100

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- writeTaskWithRetry(ctx, ms, nopLogger{}, store.Task{ID: "t1"})
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe context cancellation")
	}
}
