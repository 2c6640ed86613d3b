package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(cfg Config) *Bus {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour // keep heartbeats out of the way
	}
	return NewBus(cfg, zerolog.Nop())
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := newTestBus(Config{})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	defer sub.Close()

	id := uuid.New()
	bus.Publish(Event{TraderID: id, Type: TypeDecisionMade})

	ev := recv(t, sub)
	assert.Equal(t, TypeDecisionMade, ev.Type)
	assert.Equal(t, id, ev.TraderID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestFilterByTrader(t *testing.T) {
	bus := newTestBus(Config{})
	defer bus.Close()

	wanted, other := uuid.New(), uuid.New()
	sub := bus.Subscribe(Filter{TraderIDs: map[uuid.UUID]bool{wanted: true}})
	defer sub.Close()

	bus.Publish(Event{TraderID: other, Type: TypeAnalyzing})
	bus.Publish(Event{TraderID: wanted, Type: TypeDecisionMade})

	ev := recv(t, sub)
	assert.Equal(t, wanted, ev.TraderID)
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHeartbeatBypassesFilter(t *testing.T) {
	bus := newTestBus(Config{HeartbeatInterval: 10 * time.Millisecond})
	defer bus.Close()

	sub := bus.Subscribe(Filter{TraderIDs: map[uuid.UUID]bool{uuid.New(): true}})
	defer sub.Close()

	ev := recv(t, sub)
	assert.Equal(t, TypeHeartbeat, ev.Type)
}

func TestSlowSubscriberDropped(t *testing.T) {
	bus := newTestBus(Config{SubscriberBuffer: 1, BackpressureWindow: 20 * time.Millisecond})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	require.Equal(t, 1, bus.SubscriberCount())

	// Fill the buffer, then overflow it and let the window lapse.
	bus.Publish(Event{Type: TypeAnalyzing})
	bus.Publish(Event{Type: TypeAnalyzing})

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	assert.Equal(t, 0, bus.SubscriberCount())

	// The buffered event is still readable after the drop.
	ev := recv(t, sub)
	assert.Equal(t, TypeAnalyzing, ev.Type)
}

func TestOverflowDeliveredIfDrainedInTime(t *testing.T) {
	bus := newTestBus(Config{SubscriberBuffer: 1, BackpressureWindow: time.Second})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	defer sub.Close()

	bus.Publish(Event{Type: TypeAnalyzing})
	bus.Publish(Event{Type: TypeDecisionMade})

	assert.Equal(t, TypeAnalyzing, recv(t, sub).Type)
	assert.Equal(t, TypeDecisionMade, recv(t, sub).Type)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestCloseDetachesSubscribers(t *testing.T) {
	bus := newTestBus(Config{})
	sub := bus.Subscribe(Filter{})

	bus.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed on bus shutdown")
	}

	// Subscribing after close yields an already-done subscription.
	late := bus.Subscribe(Filter{})
	select {
	case <-late.Done():
	default:
		t.Fatal("late subscription should start done")
	}

	bus.Close() // second close is a no-op
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := newTestBus(Config{})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}
