// Package actor implements the addressable unit of computation hosted by an
// actor system node.
//
// An Actor owns its load, memory accounting and metrics. Every mutation runs
// under the actor's own mutex; outbound replies are sent after the lock is
// released.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/snapshot"
)

// DefaultAllocated is the memory allocation given to actors created without
// an explicit one.
const DefaultAllocated int64 = 1 << 20

// MaxReplies bounds the reply log kept per actor.
const MaxReplies = 64

// Sender routes an outbound message through the owning system.
type Sender interface {
	SendMessage(ctx context.Context, targetID string, msg domain.Message) error
}

// ComputeFunc is the computation a compute message runs over its payload.
type ComputeFunc func(ctx context.Context, payload []byte) ([]byte, error)

// DefaultCompute digests the payload with SHA-256.
func DefaultCompute(_ context.Context, payload []byte) ([]byte, error) {
	return Run(domain.WorkHash, payload)
}

// Options configures an actor.
type Options struct {
	NodeID    string
	Allocated int64
	Sender    Sender
	Bus       *events.Bus
	Compute   ComputeFunc
	Clock     func() time.Time
}

func (o *Options) normalize() {
	if o.Allocated <= 0 {
		o.Allocated = DefaultAllocated
	}
	if o.Compute == nil {
		o.Compute = DefaultCompute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Actor is one resident actor.
type Actor struct {
	id   string
	typ  string
	caps []string
	opts Options

	mu      sync.Mutex
	nodeID  string
	load    float64
	status  domain.ActorStatus
	memory  domain.MemoryStats
	metrics domain.ActorMetrics
	touched bool // a message has been received
	replies []domain.Message
}

// New constructs an idle actor.
func New(id, actorType string, caps []string, opts Options) *Actor {
	opts.normalize()
	c := make([]string, len(caps))
	copy(c, caps)
	return &Actor{
		id:      id,
		typ:     actorType,
		caps:    c,
		opts:    opts,
		nodeID:  opts.NodeID,
		status:  domain.ActorIdle,
		memory:  domain.MemoryStats{Allocated: opts.Allocated},
		metrics: domain.ActorMetrics{StartTime: opts.Clock()},
	}
}

// ID returns the actor id.
func (a *Actor) ID() string { return a.id }

// Type returns the actor type.
func (a *Actor) Type() string { return a.typ }

// Capabilities returns a copy of the capability list.
func (a *Actor) Capabilities() []string {
	c := make([]string, len(a.caps))
	copy(c, a.caps)
	return c
}

// Ref returns the addressing view used by node registries.
func (a *Actor) Ref() domain.ActorRef {
	return domain.ActorRef{ID: a.id, Type: a.typ, Capabilities: a.Capabilities()}
}

// Initialize resets the uptime clock. It has no effect once a message has
// been received.
func (a *Actor) Initialize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.touched || a.status == domain.ActorShutdown {
		return
	}
	a.metrics.StartTime = a.opts.Clock()
}

// SetNode records the owning node.
func (a *Actor) SetNode(nodeID string) {
	a.mu.Lock()
	a.nodeID = nodeID
	a.mu.Unlock()
}

// Load returns the current load.
func (a *Actor) Load() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load
}

// Status returns the current state machine position.
func (a *Actor) Status() domain.ActorStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// State returns a read-only snapshot.
func (a *Actor) State() domain.ActorState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Actor) stateLocked() domain.ActorState {
	return domain.ActorState{
		ID:           a.id,
		Type:         a.typ,
		Capabilities: a.Capabilities(),
		NodeID:       a.nodeID,
		Load:         a.load,
		Status:       a.status,
		Memory:       a.memory,
		Metrics:      a.metrics,
	}
}

// Replies returns the reply messages this actor has received, oldest first.
func (a *Actor) Replies() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Message, len(a.replies))
	for i, m := range a.replies {
		out[i] = m.Clone()
	}
	return out
}

// Shutdown moves the actor to its terminal state.
func (a *Actor) Shutdown() {
	a.mu.Lock()
	a.status = domain.ActorShutdown
	a.mu.Unlock()
}

// ─── Message Dispatch ───────────────────────────────────────────────────────

// reply is an outbound message produced by dispatch and sent after unlock.
type reply struct {
	target string
	msg    domain.Message
}

// ReceiveMessage dispatches msg by type. A shut-down actor drops the message
// without error. Failures bump the error count, move the actor to the error
// status, publish message.processing_error and are returned.
func (a *Actor) ReceiveMessage(ctx context.Context, msg domain.Message) error {
	start := a.opts.Clock()

	a.mu.Lock()
	if a.status == domain.ActorShutdown {
		a.metrics.Dropped++
		a.mu.Unlock()
		return nil
	}
	a.touched = true
	a.mu.Unlock()

	// Compute runs without the lock; it is user-supplied and may be slow.
	var computed []byte
	var err error
	if msg.Type == domain.MessageCompute {
		computed, err = a.opts.Compute(ctx, msg.Payload)
	}

	a.mu.Lock()
	var out *reply
	var statusEvent bool
	if err == nil {
		out, statusEvent, err = a.dispatchLocked(msg, computed)
	}
	if err != nil {
		a.metrics.Errors++
		if a.status != domain.ActorShutdown {
			a.status = domain.ActorError
		}
		nodeID := a.nodeID
		a.mu.Unlock()

		log.Printf("[actor] %s: %s message %s failed: %v", a.id, msg.Type, msg.ID, err)
		a.publish(events.Event{
			Type:      events.MessageProcessingError,
			NodeID:    nodeID,
			ActorID:   a.id,
			MessageID: msg.ID,
			Detail:    err.Error(),
		})
		return err
	}

	now := a.opts.Clock()
	a.metrics.Processed++
	n := float64(a.metrics.Processed)
	latency := now.Sub(start)
	a.metrics.AvgLatency = time.Duration((float64(a.metrics.AvgLatency)*(n-1) + float64(latency)) / n)
	if up := now.Sub(a.metrics.StartTime).Seconds(); up > 0 {
		a.metrics.Throughput = n / up
	} else {
		a.metrics.Throughput = n
	}
	if a.status != domain.ActorShutdown {
		a.status = domain.StatusForLoad(a.load)
	}
	state := a.stateLocked()
	a.mu.Unlock()

	if statusEvent {
		data, err := json.Marshal(state)
		if err != nil {
			log.Printf("[actor] %s: encode status: %v", a.id, err)
			data = nil
		}
		a.publish(events.Event{
			Type:      events.ActorStatus,
			NodeID:    state.NodeID,
			ActorID:   a.id,
			MessageID: msg.ID,
			Detail:    string(data),
		})
		if out != nil {
			out.msg.Payload = data
		}
	}
	if out != nil && a.opts.Sender != nil {
		if err := a.opts.Sender.SendMessage(ctx, out.target, out.msg); err != nil {
			log.Printf("[actor] %s: reply to %s failed: %v", a.id, out.target, err)
		}
	}
	return nil
}

// dispatchLocked applies msg to actor state. Caller holds a.mu.
func (a *Actor) dispatchLocked(msg domain.Message, computed []byte) (*reply, bool, error) {
	switch msg.Type {
	case domain.MessageCompute:
		if msg.Source == "" {
			return nil, false, nil
		}
		return &reply{target: msg.Source, msg: domain.Message{
			Type:     domain.MessageComputeResult,
			Payload:  computed,
			Priority: msg.Priority,
			Source:   a.id,
			Target:   msg.Source,
		}}, false, nil

	case domain.MessageData:
		a.memory.Used += int64(len(msg.Payload))
		a.memory.Fragments++
		if a.memory.Used > a.memory.Peak {
			a.memory.Peak = a.memory.Used
		}
		a.load = float64(a.memory.Used) / float64(a.memory.Allocated)
		if a.load > 1.0 {
			a.load = 1.0
		}
		return nil, false, nil

	case domain.MessageControl:
		switch cmd := strings.TrimSpace(string(msg.Payload)); cmd {
		case domain.ControlPause:
			a.load = 0
			return nil, false, nil
		case domain.ControlResume:
			a.load = domain.ResumeLoad
			return nil, false, nil
		case domain.ControlStatus:
			if msg.Source == "" {
				return nil, true, nil
			}
			// Payload is filled with the post-dispatch state once unlocked.
			return &reply{target: msg.Source, msg: domain.Message{
				Type:     domain.MessageStatusResult,
				Priority: msg.Priority,
				Source:   a.id,
				Target:   msg.Source,
			}}, true, nil
		default:
			return nil, false, fmt.Errorf("%w: %q", domain.ErrUnknownControlCommand, cmd)
		}

	case domain.MessageComputeResult, domain.MessageStatusResult:
		a.replies = append(a.replies, msg.Clone())
		if len(a.replies) > MaxReplies {
			a.replies = a.replies[len(a.replies)-MaxReplies:]
		}
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, msg.Type)
	}
}

func (a *Actor) publish(e events.Event) {
	if a.opts.Bus != nil {
		a.opts.Bus.Publish(e)
	}
}

// ─── Subtasks ───────────────────────────────────────────────────────────────

// ExecuteSubtask runs one subtask. The transform runs unlocked; only the
// metrics update at the end takes the actor lock.
func (a *Actor) ExecuteSubtask(ctx context.Context, st domain.Subtask) domain.SubtaskResult {
	start := a.opts.Clock()
	res := domain.SubtaskResult{SubtaskID: st.ID, ActorID: a.id}

	if a.Status() == domain.ActorShutdown {
		res.Status = domain.SubtaskFailed
		res.Error = domain.ErrActorShutdown.Error()
		return res
	}

	var data []byte
	err := ctx.Err()
	if err == nil {
		data, err = Run(st.Kind, st.Payload)
	}
	res.Duration = a.opts.Clock().Sub(start)

	a.mu.Lock()
	if err != nil {
		a.metrics.Errors++
	} else {
		a.metrics.Processed++
		n := float64(a.metrics.Processed)
		a.metrics.AvgLatency = time.Duration((float64(a.metrics.AvgLatency)*(n-1) + float64(res.Duration)) / n)
	}
	a.mu.Unlock()

	if err != nil {
		res.Status = domain.SubtaskFailed
		res.Error = err.Error()
		return res
	}
	res.Status = domain.SubtaskCompleted
	res.Data = data
	return res
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// Serialize produces a versioned snapshot sufficient to rebuild the actor on
// another node.
func (a *Actor) Serialize() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == domain.ActorShutdown {
		return nil, fmt.Errorf("serialize %s: %w", a.id, domain.ErrActorShutdown)
	}
	return snapshot.Encode(a.stateLocked()), nil
}

// Restore rebuilds an actor from a snapshot. The snapshot's allocation wins
// over opts.Allocated; status is re-derived from the restored load.
func Restore(data []byte, opts Options) (*Actor, error) {
	st, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("restore actor: %w", err)
	}
	if st.Memory.Allocated > 0 {
		opts.Allocated = st.Memory.Allocated
	}
	a := New(st.ID, st.Type, st.Capabilities, opts)
	a.load = st.Load
	a.status = domain.StatusForLoad(st.Load)
	a.memory = st.Memory
	a.memory.Allocated = a.opts.Allocated
	a.metrics = st.Metrics
	if a.metrics.StartTime.IsZero() {
		a.metrics.StartTime = a.opts.Clock()
	}
	a.touched = a.metrics.Processed+a.metrics.Errors+a.metrics.Dropped > 0
	return a, nil
}
