package ingest

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/user/analytics-ingest/internal/errs"
	"github.com/user/analytics-ingest/internal/workspace"
	"github.com/user/analytics-ingest/pkg/event"
	"github.com/user/analytics-ingest/pkg/filter"
)

type fakeBuffer struct {
	batches [][]event.TrackingEvent
	failN   int
}

func (f *fakeBuffer) AddBatch(ctx context.Context, events []event.TrackingEvent) error {
	if f.failN > 0 {
		f.failN--
		return context.DeadlineExceeded
	}
	f.batches = append(f.batches, events)
	return nil
}

func newHandler(t *testing.T, ws workspace.Workspace, buf *fakeBuffer, opts ...Option) *Handler {
	t.Helper()
	cache := workspace.NewCache(workspace.LoaderFunc(func(ctx context.Context, id string) (workspace.Workspace, error) {
		if id != ws.ID {
			return workspace.Workspace{}, workspace.ErrNotFound
		}
		return ws, nil
	}))
	return New(cache, buf, opts...)
}

func ptr[T any](v T) *T { return &v }

func TestHandle_UnknownWorkspace(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "nope",
		SessionID:   "s1",
		Actions:     []event.Action{{Type: event.ActionPageview, Path: "/", PageNumber: 1}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for unknown workspace")
	}
	if len(buf.batches) != 0 {
		t.Fatal("buffer must not receive events for an invalid workspace")
	}
}

func TestHandle_CheckpointSkip(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)

	res, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s1",
		Checkpoint:  ptr(1),
		Actions:     []event.Action{{Type: event.ActionPageview, Path: "/", PageNumber: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Checkpoint != 1 {
		t.Fatalf("got %+v", res)
	}
	if len(buf.batches) != 0 {
		t.Fatal("no events should be produced when checkpoint >= len(actions)")
	}
}

func TestHandle_BadAction(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s1",
		Actions:     []event.Action{{Type: "click"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errs.ErrBadAction) {
		t.Fatalf("expected ErrBadAction, got %v", err)
	}
}

// A first payload carries the session attributes; a replay-plus-new-action
// payload without them must still chain previous_path correctly.
func TestHandle_FirstPayloadThenReplay(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)
	ctx := context.Background()

	_, err := h.Handle(ctx, event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions: []event.Action{
			{Type: event.ActionPageview, Path: "/", PageNumber: 1, Duration: 0},
		},
		Attributes: &event.Attributes{Device: "desktop", Browser: "Chrome", OS: "Windows", Language: "en", Timezone: "UTC"},
	}, nil)
	if err != nil {
		t.Fatalf("first payload failed: %v", err)
	}

	res, err := h.Handle(ctx, event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Checkpoint:  ptr(0),
		Actions: []event.Action{
			{Type: event.ActionPageview, Path: "/", PageNumber: 1},
			{Type: event.ActionPageview, Path: "/about", PageNumber: 2, Duration: 30},
		},
	}, nil)
	if err != nil {
		t.Fatalf("second payload failed: %v", err)
	}
	if res.Checkpoint != 2 {
		t.Fatalf("expected checkpoint 2, got %d", res.Checkpoint)
	}

	if len(buf.batches) != 2 {
		t.Fatalf("expected 2 flushed batches, got %d", len(buf.batches))
	}

	first := buf.batches[0][0]
	if first.Device != "desktop" {
		t.Fatalf("expected device=desktop on first event, got %q", first.Device)
	}

	second := buf.batches[1]
	if len(second) != 1 {
		t.Fatalf("expected 1 new event in second payload (checkpoint skip), got %d", len(second))
	}
	if second[0].PreviousPath != "/" {
		t.Fatalf("expected previous_path=/, got %q", second[0].PreviousPath)
	}
	if second[0].PageDuration != 30 {
		t.Fatalf("expected page_duration=30, got %d", second[0].PageDuration)
	}
}

func TestHandle_GoalDedupToken(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions: []event.Action{
			{Type: event.ActionGoal, Name: "purchase", Timestamp: 1704067200000, Path: "/checkout", PageNumber: 3},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(buf.batches) != 1 || len(buf.batches[0]) != 1 {
		t.Fatalf("expected one event")
	}
	ev := buf.batches[0][0]
	if ev.DedupToken != "s_goal_purchase_1704067200000" {
		t.Fatalf("unexpected dedup token %q", ev.DedupToken)
	}
	if ev.Name != "goal" {
		t.Fatalf("expected name=goal, got %q", ev.Name)
	}
}

func TestHandle_FilterPriority(t *testing.T) {
	ws := workspace.Workspace{
		ID: "ws1",
		Settings: workspace.Settings{
			Filters: []filter.Definition{
				{
					ID: "f1", Priority: 90, Enabled: true,
					Conditions: []filter.Condition{{Field: "utm_source", Operator: filter.OpEquals, Value: "facebook"}},
					Operations: []filter.Operation{{Dimension: "channel", Action: filter.ActionSetValue, Value: "Facebook"}},
				},
				{
					ID: "f2", Priority: 100, Enabled: true,
					Conditions: []filter.Condition{{Field: "utm_source", Operator: filter.OpEquals, Value: "facebook"}},
					Operations: []filter.Operation{{Dimension: "channel", Action: filter.ActionSetValue, Value: "Google"}},
				},
			},
		},
	}
	buf := &fakeBuffer{}
	h := newHandler(t, ws, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions:     []event.Action{{Type: event.ActionPageview, Path: "/", PageNumber: 1}},
		Attributes:  &event.Attributes{UTMSource: "facebook"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.batches[0][0].Channel != "Google" {
		t.Fatalf("expected higher-priority filter to win with channel=Google, got %q", buf.batches[0][0].Channel)
	}
}

func TestHandle_GeoSuppression(t *testing.T) {
	ws := workspace.Workspace{
		ID: "ws1",
		Settings: workspace.Settings{
			GeoEnabled:              true,
			GeoStoreCity:            false,
			GeoStoreRegion:          false,
			GeoCoordinatesPrecision: 2,
		},
	}
	buf := &fakeBuffer{}
	h := newHandler(t, ws, buf, WithGeo(stubGeo{}))

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions:     []event.Action{{Type: event.ActionPageview, Path: "/", PageNumber: 1}},
	}, net.ParseIP("1.2.3.4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := buf.batches[0][0]
	if ev.City != "" || ev.Region != "" {
		t.Fatalf("expected suppressed city/region, got city=%q region=%q", ev.City, ev.Region)
	}
	if ev.Latitude != 1.23 {
		t.Fatalf("expected latitude rounded to 2 decimals, got %v", ev.Latitude)
	}
}

type stubGeo struct{}

func (stubGeo) Lookup(net.IP) (event.GeoInfo, error) {
	return event.GeoInfo{
		Country: "US", City: "Springfield", Region: "IL",
		Latitude: 1.2345, Longitude: 2.3456, HasCoords: true,
	}, nil
}

func TestHandle_FreshVersionPerCall(t *testing.T) {
	buf := &fakeBuffer{}
	var now int64 = 1700000000000
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf, WithClock(func() int64 {
		now += 1000
		return now
	}))
	ctx := context.Background()

	payload := event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions: []event.Action{
			{Type: event.ActionPageview, Path: "/", PageNumber: 1},
			{Type: event.ActionPageview, Path: "/a", PageNumber: 2},
		},
	}
	if _, err := h.Handle(ctx, payload, nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := h.Handle(ctx, payload, nil); err != nil {
		t.Fatalf("replay: %v", err)
	}

	first, second := buf.batches[0], buf.batches[1]
	if first[0].Version != first[1].Version {
		t.Error("all events of one payload must share a single version stamp")
	}
	if second[0].Version <= first[0].Version {
		t.Error("a replay must carry a strictly newer version stamp")
	}
	for i := range first {
		if first[i].DedupToken != second[i].DedupToken {
			t.Errorf("replayed action %d must keep its dedup token", i)
		}
	}
}

func TestHandle_DirectWhenNoAttributes(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions:     []event.Action{{Type: event.ActionPageview, Path: "/", PageNumber: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !buf.batches[0][0].IsDirect {
		t.Error("a session without a referrer is direct traffic")
	}
}

func TestHandle_ReferrerParsing(t *testing.T) {
	buf := &fakeBuffer{}
	h := newHandler(t, workspace.Workspace{ID: "ws1"}, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions:     []event.Action{{Type: event.ActionPageview, Path: "/", PageNumber: 1}},
		Attributes: &event.Attributes{
			Referrer:    "https://www.google.com/search?q=x",
			LandingPage: "https://example.com/pricing",
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := buf.batches[0][0]
	if ev.ReferrerDomain != "www.google.com" || ev.ReferrerPath != "/search" {
		t.Errorf("referrer parsed to (%q, %q)", ev.ReferrerDomain, ev.ReferrerPath)
	}
	if ev.IsDirect {
		t.Error("a referred session is not direct")
	}
	if ev.LandingPage != "/pricing" {
		t.Errorf("landing page: got %q", ev.LandingPage)
	}
}

func TestHandle_GoalCustomDimensions(t *testing.T) {
	ws := workspace.Workspace{
		ID: "ws1",
		Settings: workspace.Settings{
			CustomDimensions: map[string]string{
				"stm_1": "plan",
				"stm_2": "billing.cycle",
			},
		},
	}
	buf := &fakeBuffer{}
	h := newHandler(t, ws, buf)

	_, err := h.Handle(context.Background(), event.SessionPayload{
		WorkspaceID: "ws1",
		SessionID:   "s",
		Actions: []event.Action{{
			Type: event.ActionGoal, Name: "upgrade", Timestamp: 1704067200000, Path: "/billing", PageNumber: 2,
			Properties: map[string]any{
				"plan":    "pro",
				"billing": map[string]any{"cycle": "annual"},
			},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := buf.batches[0][0]
	if ev.Stm1 != "pro" {
		t.Errorf("stm_1: got %q", ev.Stm1)
	}
	if ev.Stm2 != "annual" {
		t.Errorf("stm_2 should resolve the nested path, got %q", ev.Stm2)
	}
}
