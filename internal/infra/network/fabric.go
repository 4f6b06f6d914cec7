// Package network defines the inter-node delivery contract and provides the
// in-process Fabric that connects the nodes of one process.
//
// A Transport moves Frames between nodes. A non-error reply of kind ack is a
// positive acknowledgment. Every Fabric send runs under a send timeout and
// through a per-destination circuit breaker, so an unreachable node fails fast
// instead of stalling its callers.
package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tutu-network/troupe/internal/domain"
)

// FrameKind discriminates inter-node frames.
type FrameKind string

const (
	FrameDeliver   FrameKind = "deliver"
	FrameMigrate   FrameKind = "migrate-actor"
	FrameHeartbeat FrameKind = "heartbeat"
	FrameShutdown  FrameKind = "shutdown"
	FrameAck       FrameKind = "ack"
)

// Frame is the unit exchanged between nodes.
type Frame struct {
	Kind     FrameKind       `json:"kind"`
	From     string          `json:"from"`
	Message  *domain.Message `json:"message,omitempty"`
	Snapshot []byte          `json:"snapshot,omitempty"`
	Report   *domain.Node    `json:"report,omitempty"`
}

// Ack builds a positive acknowledgment from nodeID.
func Ack(nodeID string) Frame {
	return Frame{Kind: FrameAck, From: nodeID}
}

// Clone deep-copies a frame so sender and receiver never share memory.
func (f Frame) Clone() Frame {
	if f.Message != nil {
		m := f.Message.Clone()
		f.Message = &m
	}
	if f.Snapshot != nil {
		s := make([]byte, len(f.Snapshot))
		copy(s, f.Snapshot)
		f.Snapshot = s
	}
	if f.Report != nil {
		r := f.Report.Clone()
		f.Report = &r
	}
	return f
}

// Handler processes one inbound frame and returns the reply.
type Handler func(ctx context.Context, f Frame) (Frame, error)

// Transport is the contract the actor system depends on.
type Transport interface {
	// Attach registers the inbound handler for nodeID.
	Attach(nodeID string, h Handler) error
	// Detach removes nodeID; later sends to it fail with ErrNodeUnreachable.
	Detach(nodeID string)
	// Send delivers f to node "to" and returns its reply.
	Send(ctx context.Context, to string, f Frame) (Frame, error)
}

// ─── Fabric ─────────────────────────────────────────────────────────────────

// FabricConfig configures the in-process fabric.
type FabricConfig struct {
	SendTimeout     time.Duration
	BreakerFailures uint32        // consecutive failures that open a breaker
	BreakerCooldown time.Duration // open → half-open delay
}

// DefaultFabricConfig returns the fabric defaults.
func DefaultFabricConfig() FabricConfig {
	return FabricConfig{
		SendTimeout:     2 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 10 * time.Second,
	}
}

// Fabric is an in-process Transport shared by every node of one process.
type Fabric struct {
	mu          sync.RWMutex
	config      FabricConfig
	handlers    map[string]Handler
	partitioned map[string]bool
	breakers    map[string]*gobreaker.CircuitBreaker
}

var _ Transport = (*Fabric)(nil)

// NewFabric creates an empty fabric.
func NewFabric(cfg FabricConfig) *Fabric {
	def := DefaultFabricConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	return &Fabric{
		config:      cfg,
		handlers:    make(map[string]Handler),
		partitioned: make(map[string]bool),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Attach implements Transport.
func (f *Fabric) Attach(nodeID string, h Handler) error {
	if nodeID == "" || h == nil {
		return fmt.Errorf("network: attach requires a node id and handler")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[nodeID]; ok {
		return fmt.Errorf("network: node %s already attached", nodeID)
	}
	f.handlers[nodeID] = h
	log.Printf("[network] node %s attached", nodeID)
	return nil
}

// Detach implements Transport.
func (f *Fabric) Detach(nodeID string) {
	f.mu.Lock()
	delete(f.handlers, nodeID)
	delete(f.breakers, nodeID)
	f.mu.Unlock()
	log.Printf("[network] node %s detached", nodeID)
}

// Attached reports whether nodeID currently has a handler.
func (f *Fabric) Attached(nodeID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.handlers[nodeID]
	return ok
}

// Partition cuts nodeID off (or heals it). A partitioned node can neither
// send nor receive.
func (f *Fabric) Partition(nodeID string, cut bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cut {
		f.partitioned[nodeID] = true
	} else {
		delete(f.partitioned, nodeID)
	}
}

// Send implements Transport.
func (f *Fabric) Send(ctx context.Context, to string, fr Frame) (Frame, error) {
	cb := f.breaker(to)
	out, err := cb.Execute(func() (interface{}, error) {
		return f.deliver(ctx, to, fr)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Frame{}, fmt.Errorf("%w: %s: %w", domain.ErrNodeUnreachable, to, err)
		}
		return Frame{}, err
	}
	return out.(Frame), nil
}

func (f *Fabric) deliver(ctx context.Context, to string, fr Frame) (Frame, error) {
	f.mu.RLock()
	h, ok := f.handlers[to]
	cut := f.partitioned[to] || f.partitioned[fr.From]
	f.mu.RUnlock()
	if !ok || cut {
		return Frame{}, fmt.Errorf("%w: %s", domain.ErrNodeUnreachable, to)
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.SendTimeout)
	defer cancel()

	type result struct {
		reply Frame
		err   error
	}
	done := make(chan result, 1)
	in := fr.Clone()
	go func() {
		reply, err := h(ctx, in)
		done <- result{reply.Clone(), err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: %s: %w", domain.ErrNodeUnreachable, to, ctx.Err())
	}
}

func (f *Fabric) breaker(to string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, ok := f.breakers[to]
	f.mu.RUnlock()
	if ok {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[to]; ok {
		return cb
	}
	threshold := f.config.BreakerFailures
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        to,
		MaxRequests: 1,
		Timeout:     f.config.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// Only reachability failures trip the breaker; a remote handler
		// rejecting a frame is still a live node.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrNodeUnreachable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[network] breaker %s: %s -> %s", name, from, to)
		},
	})
	f.breakers[to] = cb
	return cb
}
