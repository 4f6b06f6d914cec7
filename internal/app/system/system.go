// Package system implements the actor system coordinator of one node: actor
// lifecycle and placement, message routing, broadcast, task processing, the
// inbound delivery loop and the heartbeat monitor.
//
// A System is constructed explicitly and injected; there is no process-wide
// instance. Registries are guarded by short mutex critical sections. Public
// calls pass through an in-flight gate so Stop can wait for them to settle.
package system

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/troupe/internal/app/actor"
	"github.com/tutu-network/troupe/internal/app/task"
	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/metrics"
	"github.com/tutu-network/troupe/internal/infra/network"
	"github.com/tutu-network/troupe/internal/infra/placement"
	"github.com/tutu-network/troupe/internal/infra/registry"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures one node's actor system.
type Config struct {
	NodeID                string
	Address               string
	Capacity              int
	Strategy              placement.Kind
	HeartbeatInterval     time.Duration
	LivenessTimeout       time.Duration
	DefaultTTL            time.Duration
	QueueDepth            int
	SendTimeout           time.Duration
	ActorMemory           int64
	MaxConcurrentSubtasks int
}

// DefaultConfig returns the system defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:              64,
		Strategy:              placement.Weighted,
		HeartbeatInterval:     time.Second,
		LivenessTimeout:       5 * time.Second,
		DefaultTTL:            30 * time.Second,
		QueueDepth:            10_000,
		SendTimeout:           2 * time.Second,
		ActorMemory:           actor.DefaultAllocated,
		MaxConcurrentSubtasks: 8,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.Address == "" {
		c.Address = "mem://" + c.NodeID
	}
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.ActorMemory <= 0 {
		c.ActorMemory = d.ActorMemory
	}
	if c.MaxConcurrentSubtasks <= 0 {
		c.MaxConcurrentSubtasks = d.MaxConcurrentSubtasks
	}
	return c
}

// Option customizes a System.
type Option func(*System)

// WithTransport connects the system to other nodes.
func WithTransport(t network.Transport) Option { return func(s *System) { s.transport = t } }

// WithBus publishes observable events to bus.
func WithBus(b *events.Bus) Option { return func(s *System) { s.bus = b } }

// WithDecomposer sets the decomposer used for tasks without subtasks.
func WithDecomposer(d task.Decomposer) Option { return func(s *System) { s.decomposer = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *System) { s.clock = now } }

// WithCompute sets the computation run by compute messages.
func WithCompute(fn actor.ComputeFunc) Option { return func(s *System) { s.compute = fn } }

// ─── System ─────────────────────────────────────────────────────────────────

// System is the actor system of one node.
type System struct {
	cfg        Config
	strategy   placement.Strategy
	transport  network.Transport
	bus        *events.Bus
	decomposer task.Decomposer
	clock      func() time.Time
	compute    actor.ComputeFunc
	nodes      *registry.Registry

	// Local actors, in creation order. migrating holds the actors being
	// handed off and the messages parked for them meanwhile.
	mu        sync.RWMutex
	actors    map[string]*actor.Actor
	order     []string
	migrating map[string][]domain.Message

	// recvMu is held while a message is handed to a local actor.
	recvMu sync.Mutex

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex

	// In-flight gate.
	gateMu   sync.Mutex
	gateCond *sync.Cond
	running  bool
	inflight int

	// Inbound queue, single consumer.
	qmu    sync.Mutex
	queue  []domain.Message
	notify chan struct{}

	cancel    context.CancelFunc
	loops     sync.WaitGroup
	startedAt time.Time

	processed atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64

	latMu      sync.Mutex
	avgLatency time.Duration
}

var _ domain.ActorSystem = (*System)(nil)

// New constructs a stopped system.
func New(cfg Config, opts ...Option) (*System, error) {
	cfg = cfg.withDefaults()
	strategy, err := placement.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	s := &System{
		cfg:       cfg,
		strategy:  strategy,
		clock:     time.Now,
		compute:   actor.DefaultCompute,
		actors:    make(map[string]*actor.Actor),
		migrating: make(map[string][]domain.Message),
		notify:    make(chan struct{}, 1),
	}
	s.gateCond = sync.NewCond(&s.gateMu)
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	s.nodes = registry.New(domain.Node{
		ID:            cfg.NodeID,
		Address:       cfg.Address,
		Capacity:      cfg.Capacity,
		Status:        domain.NodeOnline,
		LastHeartbeat: s.clock(),
	})
	return s, nil
}

// NodeID returns the local node id.
func (s *System) NodeID() string { return s.cfg.NodeID }

// Config returns the effective configuration.
func (s *System) Config() Config { return s.cfg }

// LivenessTimeout is the heartbeat age after which a node counts as offline.
func (s *System) LivenessTimeout() time.Duration { return s.cfg.LivenessTimeout }

// Bus returns the event bus.
func (s *System) Bus() *events.Bus { return s.bus }

// Running reports whether the system accepts calls.
func (s *System) Running() bool {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	return s.running
}

// Start registers the local node, attaches to the transport and spawns the
// delivery loop and heartbeat monitor.
func (s *System) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if s.running {
		return domain.ErrAlreadyRunning
	}

	now := s.clock()
	s.nodes.TouchLocal(0, now)
	if s.transport != nil {
		if err := s.transport.Attach(s.cfg.NodeID, s.handleFrame); err != nil {
			return fmt.Errorf("attach transport: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = now
	s.running = true

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.deliveryLoop(loopCtx)
	}()
	go func() {
		defer s.loops.Done()
		s.heartbeatLoop(loopCtx)
	}()

	log.Printf("[system] node %s started (strategy=%s capacity=%d)", s.cfg.NodeID, s.cfg.Strategy, s.cfg.Capacity)
	s.publish(events.Event{Type: events.SystemStarted, NodeID: s.cfg.NodeID})
	return nil
}

// Stop closes the gate, waits for in-flight calls to settle, stops both
// loops, shuts every local actor down and notifies remote nodes. Remote
// notification is best-effort and bounded by the send timeout.
func (s *System) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.gateMu.Lock()
	if !s.running {
		s.gateMu.Unlock()
		return domain.ErrNotRunning
	}
	s.running = false
	s.gateMu.Unlock()

	settled := make(chan struct{})
	go func() {
		s.gateMu.Lock()
		for s.inflight > 0 {
			s.gateCond.Wait()
		}
		s.gateMu.Unlock()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		log.Printf("[system] stop: in-flight calls did not settle: %v", ctx.Err())
	}

	s.cancel()
	s.loops.Wait()

	s.mu.Lock()
	local := make([]*actor.Actor, 0, len(s.order))
	for _, id := range s.order {
		local = append(local, s.actors[id])
	}
	s.actors = make(map[string]*actor.Actor)
	s.order = nil
	parked := 0
	for _, msgs := range s.migrating {
		parked += len(msgs)
	}
	s.migrating = make(map[string][]domain.Message)
	s.mu.Unlock()
	if parked > 0 {
		s.dropped.Add(uint64(parked))
		metrics.MessagesDropped.WithLabelValues(s.cfg.NodeID, "stopped").Add(float64(parked))
	}
	for _, a := range local {
		a.Shutdown()
		s.nodes.RemoveActor(s.cfg.NodeID, a.ID())
	}
	s.clearQueue()
	metrics.ActorsActive.WithLabelValues(s.cfg.NodeID).Set(0)

	s.notifyShutdown(ctx)
	if s.transport != nil {
		s.transport.Detach(s.cfg.NodeID)
	}

	log.Printf("[system] node %s stopped (%d actors shut down)", s.cfg.NodeID, len(local))
	s.publish(events.Event{Type: events.SystemStopped, NodeID: s.cfg.NodeID})
	return nil
}

// enter admits one public call through the gate.
func (s *System) enter() error {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if !s.running {
		return domain.ErrNotRunning
	}
	s.inflight++
	return nil
}

func (s *System) leave() {
	s.gateMu.Lock()
	s.inflight--
	if s.inflight == 0 {
		s.gateCond.Broadcast()
	}
	s.gateMu.Unlock()
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Nodes returns every known node.
func (s *System) Nodes() []domain.Node {
	return s.nodes.Nodes()
}

// Actors returns snapshots of local actors in creation order.
func (s *System) Actors() []domain.ActorState {
	local := s.localActors()
	out := make([]domain.ActorState, len(local))
	for i, a := range local {
		out[i] = a.State()
	}
	return out
}

// Replies returns the reply log of a local actor.
func (s *System) Replies(actorID string) ([]domain.Message, error) {
	a := s.actor(actorID)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrActorNotFound, actorID)
	}
	return a.Replies(), nil
}

// Metrics returns aggregate counters for this node.
func (s *System) Metrics() domain.SystemMetrics {
	m := domain.SystemMetrics{
		NodeID:    s.cfg.NodeID,
		Processed: s.processed.Load(),
		Dropped:   s.dropped.Load(),
		Errors:    s.errs.Load(),
	}
	for _, n := range s.nodes.Nodes() {
		m.Nodes++
		if n.IsReachable() {
			m.OnlineNodes++
		}
	}
	for _, st := range s.Actors() {
		m.ActiveActors++
		m.MemoryUsage += st.Memory.Used
	}

	s.latMu.Lock()
	m.AvgLatencyMs = float64(s.avgLatency) / float64(time.Millisecond)
	s.latMu.Unlock()

	if total := m.Processed + m.Errors; total > 0 {
		m.ErrorRate = float64(m.Errors) / float64(total)
	}
	s.gateMu.Lock()
	started, running := s.startedAt, s.running
	s.gateMu.Unlock()
	if running {
		up := s.clock().Sub(started).Seconds()
		m.UptimeSeconds = up
		if up > 0 {
			m.MessagesPerSec = float64(m.Processed) / up
		}
	}
	s.qmu.Lock()
	m.QueueDepth = len(s.queue)
	s.qmu.Unlock()
	return m
}

func (s *System) actor(id string) *actor.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actors[id]
}

func (s *System) localActors() []*actor.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*actor.Actor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.actors[id])
	}
	return out
}

func (s *System) addActor(a *actor.Actor) {
	s.mu.Lock()
	if _, ok := s.actors[a.ID()]; !ok {
		s.order = append(s.order, a.ID())
	}
	s.actors[a.ID()] = a
	n := len(s.order)
	s.mu.Unlock()

	a.SetNode(s.cfg.NodeID)
	if err := s.nodes.AddActor(s.cfg.NodeID, a.Ref()); err != nil {
		log.Printf("[system] %v", err)
	}
	metrics.ActorsActive.WithLabelValues(s.cfg.NodeID).Set(float64(n))
}

func (s *System) removeActor(id string) *actor.Actor {
	s.mu.Lock()
	a, ok := s.actors[id]
	if ok {
		delete(s.actors, id)
		for i, o := range s.order {
			if o == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	n := len(s.order)
	s.mu.Unlock()

	s.nodes.RemoveActor(s.cfg.NodeID, id)
	metrics.ActorsActive.WithLabelValues(s.cfg.NodeID).Set(float64(n))
	return a
}

func (s *System) publish(e events.Event) {
	if e.At.IsZero() {
		e.At = s.clock()
	}
	s.bus.Publish(e)
}
