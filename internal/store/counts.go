package store

import (
	"context"
	"fmt"
	"time"
)

// WindowCounts reports the total sessions and events within the backfill
// lookback window, used to seed a task's total_sessions/total_events before
// the processing loop begins.
type WindowCounts struct {
	Sessions int64
	Events   int64
}

// CountWindow counts the workspace's sessions and events created on or
// after since.
func (s *Store) CountWindow(ctx context.Context, workspaceID string, since time.Time) (WindowCounts, error) {
	db := s.WorkspaceDatabase(workspaceID)

	var sessions, events uint64
	if err := s.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT count() FROM %s.sessions WHERE created_at >= ?`, db),
		since,
	).Scan(&sessions); err != nil {
		return WindowCounts{}, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT count() FROM %s.events WHERE created_at >= ?`, db),
		since,
	).Scan(&events); err != nil {
		return WindowCounts{}, fmt.Errorf("count events: %w", err)
	}
	return WindowCounts{Sessions: int64(sessions), Events: int64(events)}, nil
}

// CountEventsPartition counts events rows in one YYYYMMDD partition, for
// progress accounting after an events mutation.
func (s *Store) CountEventsPartition(ctx context.Context, workspaceID, partitionYYYYMMDD string) (int64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT count() FROM %s.events WHERE toYYYYMMDD(created_at) = ?`, s.WorkspaceDatabase(workspaceID)),
		partitionYYYYMMDD,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events partition %s: %w", partitionYYYYMMDD, err)
	}
	return int64(n), nil
}

// CountSessionsForDate counts sessions whose toDate(created_at) equals
// date. Progress is accounted per chunk date even when the chunk's monthly
// partition mutation already ran earlier in the task.
func (s *Store) CountSessionsForDate(ctx context.Context, workspaceID string, date time.Time) (int64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT count() FROM %s.sessions WHERE toDate(created_at) = toDate(?)`, s.WorkspaceDatabase(workspaceID)),
		date,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions for date: %w", err)
	}
	return int64(n), nil
}
