// Package events fans engine events out to API subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the engine.
const (
	TypeStatusChanged  = "status_changed"
	TypeAnalyzing      = "analyzing"
	TypeDecisionMade   = "decision_made"
	TypeTradeExecuted  = "trade_executed"
	TypePositionClosed = "position_closed"
	TypeError          = "error"
	TypeHeartbeat      = "heartbeat"
)

// Event is one engine notification.
type Event struct {
	TraderID  uuid.UUID   `json:"traderId"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Filter restricts which events a subscriber receives. An empty trader
// set receives everything.
type Filter struct {
	TraderIDs map[uuid.UUID]bool
}

func (f Filter) matches(e Event) bool {
	if e.Type == TypeHeartbeat {
		return true
	}
	if len(f.TraderIDs) == 0 {
		return true
	}
	return f.TraderIDs[e.TraderID]
}

// Subscription is a handle owned by the subscriber. Receive from C() while
// also watching Done(); Done closes when the subscriber is dropped or the
// bus shuts down. C is never closed, so consumers must select on both.
type Subscription struct {
	id     uint64
	bus    *Bus
	filter Filter
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

// C returns the event channel.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done closes when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Config tunes the bus.
type Config struct {
	HeartbeatInterval  time.Duration
	BackpressureWindow time.Duration
	SubscriberBuffer   int
}

// Bus multiplexes events to subscribers with per-subscriber filters.
// Delivery is at-most-once; a subscriber that stays blocked past the
// backpressure window is dropped, never replayed.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	cfg    Config
	logger zerolog.Logger

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
	closed        bool
}

// NewBus creates a bus and starts its heartbeat.
func NewBus(cfg Config, logger zerolog.Logger) *Bus {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.BackpressureWindow <= 0 {
		cfg.BackpressureWindow = 4 * time.Second
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	b := &Bus{
		subs:          make(map[uint64]*Subscription),
		cfg:           cfg,
		logger:        logger.With().Str("component", "eventbus").Logger(),
		stopHeartbeat: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.heartbeatLoop()
	return b
}

// Subscribe registers a new subscriber with the given filter.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		bus:    b,
		filter: filter,
		ch:     make(chan Event, b.cfg.SubscriberBuffer),
		done:   make(chan struct{}),
	}
	if b.closed {
		close(sub.done)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.once.Do(func() { close(sub.done) })
	}
}

// Publish delivers an event to every matching subscriber. The buffered
// channel absorbs bursts; when a buffer is full the publisher waits at
// most the backpressure window in a goroutine, then drops the subscriber.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.matches(e) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- e:
		default:
			go b.publishSlow(sub, e)
		}
	}
}

func (b *Bus) publishSlow(sub *Subscription, e Event) {
	timer := time.NewTimer(b.cfg.BackpressureWindow)
	defer timer.Stop()
	select {
	case sub.ch <- e:
	case <-sub.done:
	case <-timer.C:
		b.logger.Warn().Uint64("subscriber", sub.id).Msg("dropping slow subscriber")
		b.unsubscribe(sub.id)
	}
}

func (b *Bus) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Publish(Event{Type: TypeHeartbeat, Timestamp: time.Now()})
		case <-b.stopHeartbeat:
			return
		}
	}
}

// Close stops the heartbeat and detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	close(b.stopHeartbeat)
	b.wg.Wait()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

// SubscriberCount reports the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
