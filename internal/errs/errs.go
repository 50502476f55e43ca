// Package errs defines the service's typed error taxonomy, built on
// fmt.Errorf("...: %w", err) wrapping rather than exception-style control
// flow. Callers use errors.Is against the sentinels below.
package errs

import "errors"

var (
	// ErrInvalidWorkspace is returned when the session handler cannot
	// resolve the payload's workspace_id.
	ErrInvalidWorkspace = errors.New("invalid workspace")
	// ErrBadAction is returned when a payload action has an unrecognized
	// type.
	ErrBadAction = errors.New("unrecognized action type")
	// ErrConflictingTask is returned when a backfill is requested for a
	// workspace that already has a pending or running task.
	ErrConflictingTask = errors.New("a backfill task is already active for this workspace")
	// ErrAlreadyTerminal is returned by cancellation of a task whose status
	// is already terminal.
	ErrAlreadyTerminal = errors.New("task has already reached a terminal state")
	// ErrCapacityTimeout is returned when mutation capacity could not be
	// acquired within the configured timeout.
	ErrCapacityTimeout = errors.New("timed out waiting for mutation capacity")
	// ErrCancelled is returned when a processor observes its cancellation
	// flag between chunks.
	ErrCancelled = errors.New("backfill task cancelled")
	// ErrStale marks a task recovered as failed on service restart.
	ErrStale = errors.New("task stale — recovered on service restart")
	// ErrTransientStore wraps a bulk-insert or query failure the caller may
	// retry.
	ErrTransientStore = errors.New("transient store error")
)
