package backfill

import (
	"math"
	"time"

	"github.com/user/analytics-ingest/internal/store"
)

// TaskProgress is the read-side projection of a store.Task the CLI/HTTP
// surface exposes.
type TaskProgress struct {
	TaskID                 string     `json:"task_id"`
	WorkspaceID            string     `json:"workspace_id"`
	Status                 string     `json:"status"`
	LookbackDays           int        `json:"lookback_days"`
	ChunkSizeDays          int        `json:"chunk_size_days"`
	BatchSize              int        `json:"batch_size"`
	TotalSessions          int64      `json:"total_sessions"`
	ProcessedSessions      int64      `json:"processed_sessions"`
	TotalEvents            int64      `json:"total_events"`
	ProcessedEvents        int64      `json:"processed_events"`
	CurrentDateChunk       string     `json:"current_date_chunk"`
	ProgressPercent        int        `json:"progress_percent"`
	EstimatedRemainingSecs *int64     `json:"estimated_remaining_seconds,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	ErrorMessage           string     `json:"error_message,omitempty"`
	RetryCount             int        `json:"retry_count"`
}

// toProgress projects a store.Task into the API-facing TaskProgress,
// computing progress_percent as a 0.7/0.3 weighted blend of the sessions and
// events ratios and a remaining-time estimate extrapolated from the
// sessions-per-second rate observed so far.
func toProgress(t store.Task) TaskProgress {
	p := TaskProgress{
		TaskID:            t.ID,
		WorkspaceID:       t.WorkspaceID,
		Status:            string(t.Status),
		LookbackDays:      t.LookbackDays,
		ChunkSizeDays:     t.ChunkSizeDays,
		BatchSize:         t.BatchSize,
		TotalSessions:     t.TotalSessions,
		ProcessedSessions: t.ProcessedSessions,
		TotalEvents:       t.TotalEvents,
		ProcessedEvents:   t.ProcessedEvents,
		CurrentDateChunk:  t.CurrentDateChunk,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		ErrorMessage:      t.ErrorMessage,
		RetryCount:        t.RetryCount,
	}

	sessionsRatio := ratio(t.ProcessedSessions, t.TotalSessions)
	eventsRatio := ratio(t.ProcessedEvents, t.TotalEvents)
	p.ProgressPercent = int(math.Round(100 * (0.7*sessionsRatio + 0.3*eventsRatio)))

	if t.ProcessedSessions >= 1 && t.StartedAt != nil {
		elapsed := time.Since(*t.StartedAt).Seconds()
		if elapsed > 0 {
			rate := float64(t.ProcessedSessions) / elapsed
			if rate > 0 {
				remaining := float64(t.TotalSessions-t.ProcessedSessions) / rate
				if remaining < 0 {
					remaining = 0
				}
				secs := int64(math.Round(remaining))
				p.EstimatedRemainingSecs = &secs
			}
		}
	}

	return p
}

func ratio(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total)
}
