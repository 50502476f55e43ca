// Package ingest implements the session payload handler: checkpoint-based
// action deserialization, enrichment, and filter evaluation.
package ingest

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/user/analytics-ingest/internal/errs"
	"github.com/user/analytics-ingest/internal/observability"
	"github.com/user/analytics-ingest/internal/workspace"
	"github.com/user/analytics-ingest/pkg/evaluator"
	"github.com/user/analytics-ingest/pkg/event"
	"github.com/user/analytics-ingest/pkg/geo"
	"github.com/user/analytics-ingest/pkg/idgen"
	"github.com/user/analytics-ingest/pkg/urlutil"
)

var tracer = otel.Tracer("github.com/user/analytics-ingest/internal/ingest")

// Logger is the minimal structured logging surface the handler depends on.
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

// Buffer is the subset of pkg/buffer.EventBuffer the handler depends on.
type Buffer interface {
	AddBatch(ctx context.Context, events []event.TrackingEvent) error
}

// Result is the handler's response to the ingest endpoint.
type Result struct {
	Success    bool `json:"success"`
	Checkpoint int  `json:"checkpoint"`
}

// Handler transforms one SessionPayload into enriched TrackingEvents and
// hands them to the buffer. Stateless per request after the workspace cache
// lookup, so it may run freely in parallel across requests.
type Handler struct {
	workspaces *workspace.Cache
	geo        geo.Lookup
	buffer     Buffer
	logger     Logger
	now        func() int64
}

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithLogger overrides the handler's logger.
func WithLogger(l Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithGeo overrides the geo lookup implementation (default: geo.NoopLookup).
func WithGeo(l geo.Lookup) Option {
	return func(h *Handler) { h.geo = l }
}

// WithClock overrides the handler's source of "now" in epoch milliseconds,
// for deterministic tests of _version stamping.
func WithClock(now func() int64) Option {
	return func(h *Handler) { h.now = now }
}

// New constructs a Handler.
func New(workspaces *workspace.Cache, buf Buffer, opts ...Option) *Handler {
	h := &Handler{
		workspaces: workspaces,
		geo:        geo.NoopLookup{},
		buffer:     buf,
		logger:     nopLogger{},
		now:        func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle transforms one payload (clientIP may be nil) into enriched events
// and returns once the buffer has accepted the batch; it never waits for
// the flush itself.
func (h *Handler) Handle(ctx context.Context, payload event.SessionPayload, clientIP net.IP) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("workspace_id", payload.WorkspaceID),
		attribute.String("session_id", payload.SessionID),
	)

	ws, err := h.workspaces.Get(ctx, payload.WorkspaceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid workspace")
		observability.PayloadsRejected.WithLabelValues("invalid_workspace").Inc()
		return Result{}, fmt.Errorf("%w: %s", errs.ErrInvalidWorkspace, payload.WorkspaceID)
	}

	checkpoint := payload.StartCheckpoint()
	startIndex := checkpoint + 1
	if startIndex >= len(payload.Actions) {
		return Result{Success: true, Checkpoint: len(payload.Actions)}, nil
	}

	geoInfo := geo.Resolve(h.geo, clientIP, geo.Settings{
		Enabled:              ws.Settings.GeoEnabled,
		StoreCity:            ws.Settings.GeoStoreCity,
		StoreRegion:          ws.Settings.GeoStoreRegion,
		CoordinatesPrecision: ws.Settings.GeoCoordinatesPrecision,
	})

	version := h.now()
	base := buildBaseEvent(payload, geoInfo, version)

	events, err := buildEvents(payload, base, startIndex, ws.Settings.CustomDimensions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad action")
		observability.PayloadsRejected.WithLabelValues("bad_action").Inc()
		return Result{}, err
	}

	if len(ws.Settings.Filters) > 0 {
		ev := evaluator.New(ws.Settings.Filters)
		for i := range events {
			evalStart := time.Now()
			ev.Apply(&events[i])
			observability.FilterEvalDuration.Observe(time.Since(evalStart).Seconds())
		}
	}

	if err := h.buffer.AddBatch(ctx, events); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "buffer add failed")
		h.logger.Error("ingest: buffer add failed", "workspace_id", payload.WorkspaceID, "session_id", payload.SessionID, "error", err)
		return Result{}, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}

	for _, ev := range events {
		observability.EventsIngested.WithLabelValues(payload.WorkspaceID, ev.Name).Inc()
	}

	return Result{Success: true, Checkpoint: len(payload.Actions)}, nil
}

// buildBaseEvent constructs the session-scoped attributes shared by every
// event the payload produces.
func buildBaseEvent(payload event.SessionPayload, geoInfo event.GeoInfo, version int64) event.TrackingEvent {
	base := event.TrackingEvent{
		SessionID:   payload.SessionID,
		WorkspaceID: payload.WorkspaceID,
		ReceivedAt:  time.Now().UnixMilli(),
		CreatedAt:   payload.CreatedAt,
		UpdatedAt:   payload.UpdatedAt,
		Version:     version,
		SDKVersion:  payload.SDKVersion,
		Country:     geoInfo.Country,
		City:        geoInfo.City,
		Region:      geoInfo.Region,
		Latitude:    geoInfo.Latitude,
		Longitude:   geoInfo.Longitude,
	}
	if payload.UserID != nil {
		base.UserID = *payload.UserID
	}
	if payload.Dimensions != nil {
		base.Stm1 = payload.Dimensions["stm_1"]
		base.Stm2 = payload.Dimensions["stm_2"]
		base.Stm3 = payload.Dimensions["stm_3"]
		base.Stm4 = payload.Dimensions["stm_4"]
		base.Stm5 = payload.Dimensions["stm_5"]
		base.Stm6 = payload.Dimensions["stm_6"]
		base.Stm7 = payload.Dimensions["stm_7"]
		base.Stm8 = payload.Dimensions["stm_8"]
		base.Stm9 = payload.Dimensions["stm_9"]
		base.Stm10 = payload.Dimensions["stm_10"]
	}

	if payload.Attributes != nil {
		a := payload.Attributes
		domain, path := urlutil.Split(a.Referrer)
		base.ReferrerDomain = domain
		base.ReferrerPath = path
		base.IsDirect = a.Referrer == ""
		base.LandingPage = urlutil.LandingPath(a.LandingPage)
		base.UTMSource = a.UTMSource
		base.UTMMedium = a.UTMMedium
		base.UTMCampaign = a.UTMCampaign
		base.UTMTerm = a.UTMTerm
		base.UTMContent = a.UTMContent
		base.UTMID = a.UTMID
		base.UTMIDFrom = a.UTMIDFrom
		base.Device = a.Device
		base.Browser = a.Browser
		base.BrowserType = a.BrowserType
		base.OS = a.OS
		base.UserAgent = a.UserAgent
		base.ConnectionType = a.ConnectionType
		base.Language = a.Language
		base.Timezone = a.Timezone
	} else {
		base.IsDirect = true
	}

	return base
}

// buildEvents walks the already-acknowledged prefix of the action list to
// reconstruct the previous_path chain, then emits one TrackingEvent per
// action from startIndex onward. customDims maps writable stm dimensions to
// property paths extracted from goal properties.
func buildEvents(payload event.SessionPayload, base event.TrackingEvent, startIndex int, customDims map[string]string) ([]event.TrackingEvent, error) {
	previousPath := ""
	for i := 0; i < startIndex; i++ {
		a := payload.Actions[i]
		if a.Type == event.ActionPageview {
			previousPath = a.Path
		}
	}

	events := make([]event.TrackingEvent, 0, len(payload.Actions)-startIndex)
	for i := startIndex; i < len(payload.Actions); i++ {
		a := payload.Actions[i]
		ev := base

		switch a.Type {
		case event.ActionPageview:
			ev.Name = "screen_view"
			ev.Path = a.Path
			ev.PageNumber = a.PageNumber
			ev.Duration = a.Duration
			ev.MaxScroll = a.Scroll
			ev.PageDuration = a.Duration
			ev.PreviousPath = previousPath
			ev.EnteredAt = a.EnteredAt
			ev.ExitedAt = a.ExitedAt
			ev.GoalTimestamp = ""
			ev.DedupToken = idgen.PageviewDedupToken(payload.SessionID, a.PageNumber)
			previousPath = a.Path

		case event.ActionGoal:
			ev.Name = "goal"
			ev.Path = a.Path
			ev.PageNumber = a.PageNumber
			ev.GoalName = a.Name
			if a.Value != nil {
				ev.GoalValue = *a.Value
			}
			ev.Properties = a.Properties
			ev.GoalTimestamp = fmt.Sprintf("%d", a.Timestamp)
			ev.Duration = 0
			ev.MaxScroll = 0
			ev.PageDuration = 0
			ev.PreviousPath = ""
			ev.DedupToken = idgen.GoalDedupToken(payload.SessionID, a.Name, a.Timestamp)
			applyCustomDimensions(&ev, a.Properties, customDims)

		default:
			return nil, fmt.Errorf("%w: %q at action index %d", errs.ErrBadAction, a.Type, i)
		}

		events = append(events, ev)
	}
	return events, nil
}

// applyCustomDimensions fills a goal event's stm dimensions from its
// properties bag, per the workspace's custom_dimensions mapping of
// dimension name to property path.
func applyCustomDimensions(ev *event.TrackingEvent, props map[string]any, customDims map[string]string) {
	if len(customDims) == 0 || len(props) == 0 {
		return
	}
	doc, err := evaluator.PropertiesJSON(props)
	if err != nil {
		return
	}
	for dim, path := range customDims {
		if !strings.HasPrefix(dim, "stm_") {
			continue
		}
		if val, ok := evaluator.Property(doc, path); ok && val != "" {
			ev.SetDimension(dim, val)
		}
	}
}
