// Package metrics provides Prometheus metrics for troupe.
// Counters, gauges and histograms for messaging, actors, nodes, migration,
// tasks, health and the event bus. Several nodes may share one process, so
// per-node series carry a "node" label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Messaging ──────────────────────────────────────────────────────────────

// MessagesSent tracks messages accepted by SendMessage.
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "messages_sent_total",
	Help:      "Total messages accepted for delivery.",
}, []string{"node", "route"})

// MessagesProcessed tracks messages handled successfully by an actor.
var MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "messages_processed_total",
	Help:      "Total messages processed by local actors.",
}, []string{"node"})

// MessagesDropped tracks messages dropped before or during processing.
var MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "messages_dropped_total",
	Help:      "Total messages dropped by reason.",
}, []string{"node", "reason"})

// DeliveryLatency tracks end-to-end latency from seal to processing.
var DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "troupe",
	Name:      "delivery_latency_seconds",
	Help:      "Time from message seal to processing completion.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"node"})

// QueueDepth tracks the inbound queue length.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "troupe",
	Name:      "queue_depth",
	Help:      "Messages waiting in the inbound queue.",
}, []string{"node"})

// ─── Actors ─────────────────────────────────────────────────────────────────

// ActorsActive tracks actors resident on a node.
var ActorsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "troupe",
	Name:      "actors_active",
	Help:      "Number of actors resident on the node.",
}, []string{"node"})

// Migrations tracks actor migrations by result.
var Migrations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "migrations_total",
	Help:      "Total actor migrations by result.",
}, []string{"result"})

// ─── Nodes ──────────────────────────────────────────────────────────────────

// NodesOnline tracks nodes not offline as seen by a node.
var NodesOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "troupe",
	Name:      "nodes_online",
	Help:      "Number of reachable nodes known to the node.",
}, []string{"node"})

// NodeLoad tracks a node's normalized load.
var NodeLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "troupe",
	Name:      "node_load_ratio",
	Help:      "Normalized node load (0-1).",
}, []string{"node"})

// Heartbeats tracks heartbeat frames sent by result.
var Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "heartbeats_total",
	Help:      "Total heartbeat frames sent by result.",
}, []string{"result"})

// NodeOfflineTransitions tracks online → offline transitions.
var NodeOfflineTransitions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "node_offline_transitions_total",
	Help:      "Total nodes marked offline.",
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// Tasks tracks processed tasks by status.
var Tasks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "tasks_total",
	Help:      "Total tasks by final status.",
}, []string{"status"})

// SubtaskDuration tracks subtask execution time.
var SubtaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "troupe",
	Name:      "subtask_duration_seconds",
	Help:      "Subtask execution duration in seconds.",
	Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1},
}, []string{"kind"})

// ─── Events ─────────────────────────────────────────────────────────────────

// EventsDropped tracks bus events discarded by drop-oldest backpressure.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "troupe",
	Name:      "events_dropped_total",
	Help:      "Total events dropped for slow subscribers.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "troupe",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
