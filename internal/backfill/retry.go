package backfill

import (
	"context"
	"time"

	"github.com/user/analytics-ingest/internal/logging"
	"github.com/user/analytics-ingest/internal/store"
)

// statusRetryDelays is the fixed backoff schedule for task-row writes:
// 1, 2, 4, 8, 16 seconds after the initial attempt.
var statusRetryDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

// writeTaskWithRetry retries InsertTask with a fixed exponential backoff
// schedule. If every attempt fails, it logs a CRITICAL record and
// returns the last error — the caller must not treat this as fatal to the
// process; stale recovery reconciles on the next restart.
func writeTaskWithRetry(ctx context.Context, st Store, logger logging.Logger, t store.Task) error {
	var lastErr error
	for attempt := 0; attempt <= len(statusRetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(statusRetryDelays[attempt-1]):
			}
		}
		if err := st.InsertTask(ctx, t); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if logger != nil {
		logger.Critical("backfill: task status write failed after all retries",
			"task_id", t.ID, "workspace_id", t.WorkspaceID, "status", t.Status, "error", lastErr)
	}
	return lastErr
}
