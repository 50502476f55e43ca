// Package idgen builds the identifiers the replacement-merge storage layer
// relies on: deterministic dedup tokens and random (UUID) task ids.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// PageviewDedupToken builds the stable dedup token for a pageview event:
// two payloads describing the same page number of the same session produce
// the same token.
func PageviewDedupToken(sessionID string, pageNumber int) string {
	return fmt.Sprintf("%s_pv_%d", sessionID, pageNumber)
}

// GoalDedupToken builds the stable dedup token for a goal event.
func GoalDedupToken(sessionID, goalName string, timestampMs int64) string {
	return fmt.Sprintf("%s_goal_%s_%d", sessionID, goalName, timestampMs)
}

// NewTaskID returns a fresh backfill task identifier.
func NewTaskID() string {
	return uuid.New().String()
}
