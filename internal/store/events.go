package store

import (
	"context"
	"fmt"

	"github.com/user/analytics-ingest/pkg/evaluator"
	"github.com/user/analytics-ingest/pkg/event"
)

const eventsTable = "events"

// InsertEvents implements buffer.Sink: a single batch insert of every
// enriched TrackingEvent produced for one workspace's flush, into that
// workspace's events table.
func (s *Store) InsertEvents(ctx context.Context, workspaceID string, events []event.TrackingEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s.%s (
			workspace_id, session_id, received_at, created_at, updated_at,
			_version, dedup_token, name,
			referrer_domain, referrer_path, is_direct, landing_page,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content, utm_id, utm_id_from,
			device, browser, browser_type, os, user_agent, connection_type, language, timezone,
			sdk_version, user_id,
			channel, channel_group,
			stm_1, stm_2, stm_3, stm_4, stm_5, stm_6, stm_7, stm_8, stm_9, stm_10,
			country, city, region, latitude, longitude,
			path, previous_path, page_number, duration, max_scroll, page_duration, entered_at, exited_at,
			goal_name, goal_value, goal_timestamp, properties
		)`, s.WorkspaceDatabase(workspaceID), eventsTable))
	if err != nil {
		return fmt.Errorf("prepare events batch: %w", err)
	}

	for _, ev := range events {
		propsJSON, err := evaluator.PropertiesJSON(ev.Properties)
		if err != nil {
			return fmt.Errorf("marshal event properties: %w", err)
		}
		if err := batch.Append(
			ev.WorkspaceID, ev.SessionID, ev.ReceivedAt, ev.CreatedAt, ev.UpdatedAt,
			ev.Version, ev.DedupToken, ev.Name,
			ev.ReferrerDomain, ev.ReferrerPath, ev.IsDirect, ev.LandingPage,
			ev.UTMSource, ev.UTMMedium, ev.UTMCampaign, ev.UTMTerm, ev.UTMContent, ev.UTMID, ev.UTMIDFrom,
			ev.Device, ev.Browser, ev.BrowserType, ev.OS, ev.UserAgent, ev.ConnectionType, ev.Language, ev.Timezone,
			ev.SDKVersion, ev.UserID,
			ev.Channel, ev.ChannelGroup,
			ev.Stm1, ev.Stm2, ev.Stm3, ev.Stm4, ev.Stm5, ev.Stm6, ev.Stm7, ev.Stm8, ev.Stm9, ev.Stm10,
			ev.Country, ev.City, ev.Region, ev.Latitude, ev.Longitude,
			ev.Path, ev.PreviousPath, ev.PageNumber, ev.Duration, ev.MaxScroll, ev.PageDuration, ev.EnteredAt, ev.ExitedAt,
			ev.GoalName, ev.GoalValue, ev.GoalTimestamp, propsJSON,
		); err != nil {
			return fmt.Errorf("append event row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send events batch: %w", err)
	}
	return nil
}
