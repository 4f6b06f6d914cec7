// Package events provides the bounded publish/subscribe bus through which the
// actor system reports observable events.
//
// Backpressure policy: every subscriber owns a bounded channel. When it is
// full, Publish drops the subscriber's OLDEST pending event and enqueues the
// new one. Publishers never block on slow subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an observable event.
type Type string

const (
	SystemStarted          Type = "system.started"
	SystemStopped          Type = "system.stopped"
	ActorCreated           Type = "actor.created"
	ActorMigrated          Type = "actor.migrated"
	ActorMigrationFailed   Type = "actor.migration_failed"
	ActorStatus            Type = "actor.status"
	MessageSent            Type = "message.sent"
	MessageProcessingError Type = "message.processing_error"
	TaskCompleted          Type = "task.completed"
	TaskFailed             Type = "task.failed"
	Heartbeat              Type = "heartbeat"
	NodeOffline            Type = "node.offline"
	NodeOnline             Type = "node.online"
)

// DefaultBuffer is the per-subscriber channel size used when none is given.
const DefaultBuffer = 256

// Event is a single observation.
type Event struct {
	Type      Type      `json:"type"`
	At        time.Time `json:"at"`
	NodeID    string    `json:"node_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
	onDrop  func()
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// OnDrop registers a hook invoked once per dropped event (metrics).
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}
		// Full: evict the oldest, then retry once.
		select {
		case <-s.ch:
			b.recordDropLocked()
		default:
		}
		select {
		case s.ch <- e:
		default:
			b.recordDropLocked()
		}
	}
}

// Dropped returns the number of events evicted so far.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) recordDropLocked() {
	b.dropped.Add(1)
	if b.onDrop != nil {
		b.onDrop()
	}
}
