package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestMessagingMetrics(t *testing.T) {
	MessagesSent.WithLabelValues("n1", "local").Inc()
	MessagesProcessed.WithLabelValues("n1").Inc()
	MessagesDropped.WithLabelValues("n1", "expired").Inc()
	DeliveryLatency.WithLabelValues("n1").Observe(0.002)
	QueueDepth.WithLabelValues("n1").Set(3)

	names := gatheredNames(t)
	expected := []string{
		"troupe_messages_sent_total",
		"troupe_messages_processed_total",
		"troupe_messages_dropped_total",
		"troupe_delivery_latency_seconds",
		"troupe_queue_depth",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestActorAndNodeMetrics(t *testing.T) {
	ActorsActive.WithLabelValues("n1").Set(2)
	NodesOnline.WithLabelValues("n1").Set(3)
	NodeLoad.WithLabelValues("n1").Set(0.25)
	Heartbeats.WithLabelValues("ok").Inc()
	NodeOfflineTransitions.Inc()
	Migrations.WithLabelValues("ok").Inc()

	names := gatheredNames(t)
	for _, name := range []string{"troupe_actors_active", "troupe_nodes_online", "troupe_node_offline_transitions_total", "troupe_migrations_total"} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestTaskMetrics(t *testing.T) {
	Tasks.WithLabelValues("completed").Inc()
	SubtaskDuration.WithLabelValues("hash").Observe(0.001)

	names := gatheredNames(t)
	if !names["troupe_tasks_total"] || !names["troupe_subtask_duration_seconds"] {
		t.Error("task metrics not gathered")
	}
}

func TestHealthAndEventMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("journal").Set(1)
	EventsDropped.Inc()

	names := gatheredNames(t)
	if !names["troupe_health_check_status"] || !names["troupe_events_dropped_total"] {
		t.Error("health/event metrics not gathered")
	}
}
