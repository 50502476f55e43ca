package workspace

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func countingLoader(loads *int32, ws Workspace) Loader {
	return LoaderFunc(func(ctx context.Context, id string) (Workspace, error) {
		atomic.AddInt32(loads, 1)
		if id != ws.ID {
			return Workspace{}, ErrNotFound
		}
		return ws, nil
	})
}

func TestCache_ServesFromCacheUntilTTL(t *testing.T) {
	var loads int32
	c := NewCache(countingLoader(&loads, Workspace{ID: "ws1"})).WithTTL(50 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Get(ctx, "ws1"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected a single load within the TTL, got %d", loads)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := c.Get(ctx, "ws1"); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected a reload after TTL expiry, got %d loads", loads)
	}
}

func TestCache_InvalidateForcesReload(t *testing.T) {
	var loads int32
	c := NewCache(countingLoader(&loads, Workspace{ID: "ws1"}))
	ctx := context.Background()

	if _, err := c.Get(ctx, "ws1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate("ws1")
	if _, err := c.Get(ctx, "ws1"); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected invalidation to force a reload, got %d loads", loads)
	}
}

func TestCache_UnknownWorkspace(t *testing.T) {
	var loads int32
	c := NewCache(countingLoader(&loads, Workspace{ID: "ws1"}))

	if _, err := c.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown workspace")
	}
}

func TestLocalBroadcaster_FansOut(t *testing.T) {
	b := NewLocalBroadcaster()

	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(context.Background(), FiltersChanged{WorkspaceID: "ws1"})

	for i, ch := range []<-chan FiltersChanged{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.WorkspaceID != "ws1" {
				t.Errorf("subscriber %d: got workspace %q", i, ev.WorkspaceID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestLocalBroadcaster_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewLocalBroadcaster()

	// Never drained; its buffer fills and further events are dropped for it.
	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(context.Background(), FiltersChanged{WorkspaceID: "ws1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
