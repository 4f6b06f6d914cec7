// Package registry tracks processing nodes: capacity, load, liveness and the
// set of actors resident on each.
//
// All mutation goes through one RWMutex with short critical sections. Every
// read returns deep copies, so callers never hold references into the table.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/troupe/internal/domain"
)

// Registry is the node table of one actor system.
type Registry struct {
	mu      sync.RWMutex
	localID string
	order   []string // insertion order, used as first-seen order by strategies
	nodes   map[string]*domain.Node
}

// Located is a resident actor together with its owning node.
type Located struct {
	NodeID string
	Ref    domain.ActorRef
}

// New creates a registry holding only the local node.
func New(local domain.Node) *Registry {
	local.Local = true
	if local.Status == "" {
		local.Status = domain.NodeOnline
	}
	r := &Registry{
		localID: local.ID,
		nodes:   make(map[string]*domain.Node),
	}
	r.order = append(r.order, local.ID)
	n := local.Clone()
	r.nodes[local.ID] = &n
	return r
}

// LocalID returns the local node id.
func (r *Registry) LocalID() string { return r.localID }

// Local returns a copy of the local node.
func (r *Registry) Local() domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[r.localID].Clone()
}

// Get returns a copy of a node.
func (r *Registry) Get(id string) (domain.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return n.Clone(), true
}

// Nodes returns every known node in first-seen order.
func (r *Registry) Nodes() []domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id].Clone())
	}
	return out
}

// Remote returns every node except the local one.
func (r *Registry) Remote() []domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Node, 0, len(r.order))
	for _, id := range r.order {
		if id != r.localID {
			out = append(out, r.nodes[id].Clone())
		}
	}
	return out
}

// Upsert adds a node or replaces a known one, keeping its position.
func (r *Registry) Upsert(n domain.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.Local = n.ID == r.localID
	c := n.Clone()
	if _, ok := r.nodes[n.ID]; !ok {
		r.order = append(r.order, n.ID)
	}
	r.nodes[n.ID] = &c
}

// ─── Resident Actors ────────────────────────────────────────────────────────

// AddActor records ref as resident on nodeID.
func (r *Registry) AddActor(nodeID string, ref domain.ActorRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("registry: unknown node %s", nodeID)
	}
	if !n.HasActor(ref.ID) {
		caps := make([]string, len(ref.Capabilities))
		copy(caps, ref.Capabilities)
		n.Actors = append(n.Actors, domain.ActorRef{ID: ref.ID, Type: ref.Type, Capabilities: caps})
	}
	return nil
}

// RemoveActor drops actorID from nodeID's resident set.
func (r *Registry) RemoveActor(nodeID, actorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	for i, a := range n.Actors {
		if a.ID == actorID {
			n.Actors = append(n.Actors[:i], n.Actors[i+1:]...)
			return true
		}
	}
	return false
}

// Locate scans resident sets for actorID.
func (r *Registry) Locate(actorID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if r.nodes[id].HasActor(actorID) {
			return id, true
		}
	}
	return "", false
}

// ActorsOfType returns every resident actor of the given type across nodes
// that are not offline.
func (r *Registry) ActorsOfType(actorType string) []Located {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Located
	for _, id := range r.order {
		n := r.nodes[id]
		if !n.IsReachable() {
			continue
		}
		for _, a := range n.Actors {
			if a.Type == actorType {
				out = append(out, Located{NodeID: id, Ref: a})
			}
		}
	}
	return out
}

// ─── Liveness ───────────────────────────────────────────────────────────────

// TouchLocal stamps the local node's heartbeat and load. Load at or above
// domain.DegradedThreshold marks the node degraded.
func (r *Registry) TouchLocal(load float64, now time.Time) domain.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodes[r.localID]
	n.CurrentLoad = load
	n.LastHeartbeat = now
	if load >= domain.DegradedThreshold {
		n.Status = domain.NodeDegraded
	} else {
		n.Status = domain.NodeOnline
	}
	return n.Clone()
}

// Heartbeat applies a remote node's self-report. LastHeartbeat is stamped
// with the receiver's clock. Returns true if the node was offline before.
func (r *Registry) Heartbeat(report domain.Node, now time.Time) bool {
	if report.ID == r.localID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, known := r.nodes[report.ID]
	recovered := known && prev.Status == domain.NodeOffline

	n := report.Clone()
	n.Local = false
	n.LastHeartbeat = now
	if n.Status == "" || n.Status == domain.NodeOffline {
		n.Status = domain.NodeOnline
	}
	if !known {
		r.order = append(r.order, n.ID)
	}
	r.nodes[n.ID] = &n
	return recovered
}

// SweepStale marks remote nodes silent for longer than timeout offline and
// returns only those that transitioned during this call.
func (r *Registry) SweepStale(now time.Time, timeout time.Duration) []domain.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []domain.Node
	for _, id := range r.order {
		if id == r.localID {
			continue
		}
		n := r.nodes[id]
		if n.Status == domain.NodeOffline {
			continue
		}
		if now.Sub(n.LastHeartbeat) > timeout {
			n.Status = domain.NodeOffline
			changed = append(changed, n.Clone())
		}
	}
	return changed
}

// MarkOffline forces a remote node offline. Returns true on transition.
func (r *Registry) MarkOffline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok || id == r.localID || n.Status == domain.NodeOffline {
		return false
	}
	n.Status = domain.NodeOffline
	return true
}
