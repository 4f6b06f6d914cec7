// Package domain — node types.
// A Node is a processing host that owns actors and is tracked for capacity,
// load and liveness through heartbeats.
package domain

import "time"

// NodeStatus tracks node liveness.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeOffline  NodeStatus = "offline"
	NodeDegraded NodeStatus = "degraded"
)

// DegradedThreshold is the normalized load at which a node reports degraded.
const DegradedThreshold = 0.9

// Node represents a known processing node.
type Node struct {
	ID            string     `json:"id"`
	Address       string     `json:"address"`
	Capacity      int        `json:"capacity"`
	CurrentLoad   float64    `json:"current_load"`
	Actors        []ActorRef `json:"actors"`
	Status        NodeStatus `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Local         bool       `json:"local"`
}

// IsReachable returns true if the node is not offline.
func (n *Node) IsReachable() bool {
	return n.Status != NodeOffline
}

// IsEligible returns true if the node may receive a new actor: online, with
// a free actor slot and load below saturation.
func (n *Node) IsEligible() bool {
	return n.Status == NodeOnline && len(n.Actors) < n.Capacity && n.CurrentLoad < 1.0
}

// HasActor reports whether the actor resides on this node.
func (n *Node) HasActor(id string) bool {
	for _, a := range n.Actors {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of a lock.
func (n Node) Clone() Node {
	actors := make([]ActorRef, len(n.Actors))
	for i, a := range n.Actors {
		caps := make([]string, len(a.Capabilities))
		copy(caps, a.Capabilities)
		actors[i] = ActorRef{ID: a.ID, Type: a.Type, Capabilities: caps}
	}
	n.Actors = actors
	return n
}
