// Package domain — actor types.
// An actor is an addressable, stateful unit of computation owned by exactly
// one node at a time.
package domain

import "time"

// ActorStatus is the actor state machine position.
//
//	idle ⇄ busy     (busy while load > BusyThreshold)
//	idle|busy → error (transient, cleared by the next successful message)
//	any → shutdown  (terminal)
type ActorStatus string

const (
	ActorIdle     ActorStatus = "idle"
	ActorBusy     ActorStatus = "busy"
	ActorError    ActorStatus = "error"
	ActorShutdown ActorStatus = "shutdown"
)

// BusyThreshold is the load above which an actor reports busy.
const BusyThreshold = 0.8

// ResumeLoad is the baseline load an actor takes on a resume command.
const ResumeLoad = 0.5

// StatusForLoad derives idle/busy from a load value.
func StatusForLoad(load float64) ActorStatus {
	if load > BusyThreshold {
		return ActorBusy
	}
	return ActorIdle
}

// MemoryStats tracks an actor's memory accounting in bytes.
type MemoryStats struct {
	Allocated int64 `json:"allocated"`
	Used      int64 `json:"used"`
	Peak      int64 `json:"peak"`
	Fragments int   `json:"fragments"`
}

// ActorMetrics holds per-actor processing counters.
type ActorMetrics struct {
	Processed  uint64        `json:"processed"`
	Dropped    uint64        `json:"dropped"`
	Errors     uint64        `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
	Throughput float64       `json:"throughput"`
	StartTime  time.Time     `json:"start_time"`
}

// ActorRef is what a node knows about one of its resident actors.
type ActorRef struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ActorState is a read-only snapshot of an actor.
type ActorState struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Capabilities []string     `json:"capabilities"`
	NodeID       string       `json:"node_id"`
	Load         float64      `json:"load"`
	Status       ActorStatus  `json:"status"`
	Memory       MemoryStats  `json:"memory"`
	Metrics      ActorMetrics `json:"metrics"`
}

// Ref returns the addressing part of the snapshot.
func (s ActorState) Ref() ActorRef {
	return ActorRef{ID: s.ID, Type: s.Type, Capabilities: s.Capabilities}
}

// HasCapabilities returns true if every required capability is present.
func HasCapabilities(have, required []string) bool {
	for _, r := range required {
		found := false
		for _, h := range have {
			if h == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
