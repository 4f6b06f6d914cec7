package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// The actor system implements them; the API and CLI layers depend on them.

// ActorSystem is the operation surface exposed to external collaborators.
// Implemented by app/system.System.
type ActorSystem interface {
	// CreateActor places a new actor and returns its id.
	CreateActor(ctx context.Context, actorType string, capabilities []string) (string, error)

	// SendMessage seals the envelope and routes it to the target actor.
	SendMessage(ctx context.Context, targetID string, msg Message) (string, error)

	// Broadcast sends to every actor of a type; one failure never aborts the rest.
	Broadcast(ctx context.Context, actorType string, msg Message) []DeliveryResult

	// MigrateActor hands a local actor to another node.
	MigrateActor(ctx context.Context, actorID, nodeID string) error

	// Replies returns the reply messages a local actor has received.
	Replies(actorID string) ([]Message, error)

	// ProcessTask decomposes, places and executes a task.
	ProcessTask(ctx context.Context, task Task) (TaskResult, error)

	// Metrics returns aggregate counters.
	Metrics() SystemMetrics

	// Nodes returns known nodes.
	Nodes() []Node

	// Actors returns local actor snapshots.
	Actors() []ActorState

	// Running reports whether the system accepts calls.
	Running() bool

	// NodeID returns the local node id.
	NodeID() string
}

// SystemMetrics holds aggregate system counters.
type SystemMetrics struct {
	NodeID         string  `json:"node_id"`
	Nodes          int     `json:"nodes"`
	OnlineNodes    int     `json:"online_nodes"`
	ActiveActors   int     `json:"active_actors"`
	MessagesPerSec float64 `json:"messages_per_sec"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	ErrorRate      float64 `json:"error_rate"`
	MemoryUsage    int64   `json:"memory_usage"`
	Processed      uint64  `json:"processed"`
	Dropped        uint64  `json:"dropped"`
	Errors         uint64  `json:"errors"`
	QueueDepth     int     `json:"queue_depth"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}
