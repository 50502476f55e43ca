package workspace

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// FiltersChanged is the payload of a "filters.changed" event: the data-flow
// diagram's note that FilterService "emits filters.changed" to invalidate
// both the session handler's and the filter service's own workspace cache.
type FiltersChanged struct {
	WorkspaceID string `json:"workspace_id"`
}

// Broadcaster fans out FiltersChanged events to subscribers. The in-process
// implementation below is sufficient for a single replica; RedisBroadcaster
// covers multi-replica deployments where one replica's filter mutation must
// invalidate caches held by every other replica.
type Broadcaster interface {
	Publish(ctx context.Context, event FiltersChanged)
	Subscribe() (ch <-chan FiltersChanged, unsubscribe func())
}

// LocalBroadcaster fans out events to in-process subscribers over buffered
// channels. A slow or absent subscriber never blocks the publisher: events
// are dropped for that subscriber rather than queued unboundedly.
type LocalBroadcaster struct {
	reg map[chan FiltersChanged]struct{}
	add chan chan FiltersChanged
	rm  chan chan FiltersChanged
	pub chan FiltersChanged
}

// NewLocalBroadcaster starts the broadcaster's dispatch loop and returns it.
func NewLocalBroadcaster() *LocalBroadcaster {
	b := &LocalBroadcaster{
		reg: make(map[chan FiltersChanged]struct{}),
		add: make(chan chan FiltersChanged),
		rm:  make(chan chan FiltersChanged),
		pub: make(chan FiltersChanged, 64),
	}
	go b.loop()
	return b
}

func (b *LocalBroadcaster) loop() {
	for {
		select {
		case ch := <-b.add:
			b.reg[ch] = struct{}{}
		case ch := <-b.rm:
			delete(b.reg, ch)
			close(ch)
		case ev := <-b.pub:
			for ch := range b.reg {
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}
}

// Publish sends event to the dispatch loop. It never blocks the caller
// beyond the dispatch loop's internal buffer.
func (b *LocalBroadcaster) Publish(_ context.Context, event FiltersChanged) {
	b.pub <- event
}

// Subscribe registers a new subscriber channel and returns an unsubscribe
// function that must be called exactly once.
func (b *LocalBroadcaster) Subscribe() (<-chan FiltersChanged, func()) {
	ch := make(chan FiltersChanged, 8)
	b.add <- ch
	return ch, func() { b.rm <- ch }
}

// RedisBroadcaster backs Broadcaster with redis pub/sub so "filters.changed"
// reaches every replica's workspace cache, not just the one that handled the
// mutating request.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster constructs a RedisBroadcaster publishing/subscribing on
// channel via client.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "analytics:filters.changed"
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, event FiltersChanged) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.client.Publish(ctx, b.channel, data)
}

// Subscribe starts a redis pub/sub subscription and relays decoded events
// onto the returned channel until unsubscribe is called.
func (b *RedisBroadcaster) Subscribe() (<-chan FiltersChanged, func()) {
	sub := b.client.Subscribe(context.Background(), b.channel)
	out := make(chan FiltersChanged, 8)
	done := make(chan struct{})

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev FiltersChanged
				if json.Unmarshal([]byte(msg.Payload), &ev) == nil {
					select {
					case out <- ev:
					default:
					}
				}
			}
		}
	}()

	return out, func() {
		close(done)
		sub.Close()
		close(out)
	}
}
