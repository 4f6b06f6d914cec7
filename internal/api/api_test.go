package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tutu-network/troupe/internal/app/system"
	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/health"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/sqlite"
)

// ─── Test Helpers ───────────────────────────────────────────────────────────

func newTestSystem(t *testing.T) *system.System {
	t.Helper()
	cfg := system.DefaultConfig()
	cfg.NodeID = "api-node"
	cfg.HeartbeatInterval = 20 * time.Millisecond
	sys, err := system.New(cfg)
	if err != nil {
		t.Fatalf("system.New() error: %v", err)
	}
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		if sys.Running() {
			sys.Stop(context.Background())
		}
	})
	return sys
}

func newTestServer(t *testing.T) (*httptest.Server, *system.System, *sqlite.DB) {
	t.Helper()
	sys := newTestSystem(t)
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := NewServer(sys)
	srv.SetJournal(db)
	srv.EnableMetrics()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sys, db
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func createActor(t *testing.T, ts *httptest.Server, typ string, caps ...string) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/actors", createActorRequest{Type: typ, Capabilities: caps})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create actor status = %d", resp.StatusCode)
	}
	var out map[string]string
	decodeBody(t, resp, &out)
	return out["id"]
}

type fakeHealth struct{ healthy bool }

func (f fakeHealth) IsHealthy() bool { return f.healthy }
func (f fakeHealth) Statuses() []health.Status {
	return []health.Status{{Name: "system", Healthy: f.healthy}}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts, sys, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["node_id"] != "api-node" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}

	sys.Stop(context.Background())
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("stopped health = %d, want 503", resp.StatusCode)
	}
}

func TestCreateAndListActors(t *testing.T) {
	ts, _, _ := newTestServer(t)
	id := createActor(t, ts, "worker", "gpu")
	if id == "" {
		t.Fatal("empty actor id")
	}

	resp, err := http.Get(ts.URL + "/api/actors")
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Actors []domain.ActorState `json:"actors"`
	}
	decodeBody(t, resp, &out)
	if len(out.Actors) != 1 || out.Actors[0].ID != id || out.Actors[0].Type != "worker" {
		t.Errorf("actors = %+v", out.Actors)
	}
}

func TestCreateActor_MissingType(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/actors", createActorRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	ts, sys, _ := newTestServer(t)
	id := createActor(t, ts, "worker")

	resp := postJSON(t, ts.URL+"/api/actors/"+id+"/messages", messageRequest{Type: "data", Payload: "hello"})
	var out map[string]string
	decodeBody(t, resp, &out)
	if resp.StatusCode != http.StatusAccepted || out["message_id"] == "" {
		t.Fatalf("send = %d %v", resp.StatusCode, out)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sys.Metrics().Processed == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("message not processed: %+v", sys.Metrics())
}

func TestSendMessage_Errors(t *testing.T) {
	ts, _, _ := newTestServer(t)
	id := createActor(t, ts, "worker")

	tests := []struct {
		name   string
		target string
		req    messageRequest
		want   int
	}{
		{"unknown actor", "missing", messageRequest{Type: "data"}, http.StatusNotFound},
		{"unknown type", id, messageRequest{Type: "telepathy"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/actors/"+tt.target+"/messages", tt.req)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSendMessage_InvalidBody(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/actors/x/messages", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBroadcast(t *testing.T) {
	ts, _, _ := newTestServer(t)
	createActor(t, ts, "worker")
	createActor(t, ts, "worker")
	createActor(t, ts, "indexer")

	resp := postJSON(t, ts.URL+"/api/broadcast", broadcastRequest{
		ActorType:      "worker",
		messageRequest: messageRequest{Type: "data", Payload: "x"},
	})
	var out struct {
		Delivered int `json:"delivered"`
		Failed    int `json:"failed"`
	}
	decodeBody(t, resp, &out)
	if resp.StatusCode != http.StatusOK || out.Delivered != 2 || out.Failed != 0 {
		t.Errorf("broadcast = %d %+v", resp.StatusCode, out)
	}
}

func TestMigrate_UnknownNode(t *testing.T) {
	ts, _, _ := newTestServer(t)
	id := createActor(t, ts, "worker")

	resp := postJSON(t, ts.URL+"/api/actors/"+id+"/migrate", map[string]string{"node_id": "nowhere"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestProcessTask_RecordsResult(t *testing.T) {
	ts, _, db := newTestServer(t)
	createActor(t, ts, "worker", "text")

	resp := postJSON(t, ts.URL+"/api/tasks", taskRequest{
		ID:           "t-1",
		Capabilities: []string{"text"},
		Subtasks: []subtaskRequest{
			{Kind: "uppercase", Payload: "abc"},
			{Kind: "reverse", Payload: "abc"},
		},
	})
	var res domain.TaskResult
	decodeBody(t, resp, &res)
	if resp.StatusCode != http.StatusOK || res.Status != domain.TaskCompleted {
		t.Fatalf("task = %d %+v", resp.StatusCode, res)
	}
	if string(res.Results[0].Data) != "ABC" || string(res.Results[1].Data) != "cba" {
		t.Errorf("results = %q %q", res.Results[0].Data, res.Results[1].Data)
	}

	stored, err := db.TaskResult("t-1")
	if err != nil || stored == nil {
		t.Fatalf("TaskResult() = %v, %v", stored, err)
	}

	get, err := http.Get(ts.URL + "/api/tasks/t-1")
	if err != nil {
		t.Fatal(err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("GET task = %d", get.StatusCode)
	}
}

func TestProcessTask_Errors(t *testing.T) {
	ts, _, _ := newTestServer(t)
	createActor(t, ts, "worker")

	tests := []struct {
		name string
		req  taskRequest
		want int
	}{
		{"no subtasks", taskRequest{}, http.StatusBadRequest},
		{"unknown kind", taskRequest{Subtasks: []subtaskRequest{{Kind: "teleport"}}}, http.StatusBadRequest},
		{"unknown policy", taskRequest{Policy: "yolo", Subtasks: []subtaskRequest{{Kind: "hash"}}}, http.StatusBadRequest},
		{"no capable actor", taskRequest{Capabilities: []string{"gpu"}, Subtasks: []subtaskRequest{{Kind: "hash"}}}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/tasks", tt.req)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestGetTask_NotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/tasks/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	ts, _, db := newTestServer(t)
	if err := db.RecordEvent(events.Event{Type: events.ActorCreated, At: time.Now(), NodeID: "api-node", ActorID: "a1"}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/events?limit=10&type=actor.created")
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Events []json.RawMessage `json:"events"`
	}
	decodeBody(t, resp, &out)
	if len(out.Events) != 1 {
		t.Errorf("events = %d, want 1", len(out.Events))
	}

	bad, err := http.Get(ts.URL + "/api/events?limit=-1")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", bad.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	sys := newTestSystem(t)
	srv := NewServer(sys)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := http.Get(ts.URL + "/api/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled = %d, want 404", resp.StatusCode)
	}

	srv.SetHealth(fakeHealth{healthy: false})
	ts2 := httptest.NewServer(srv.Handler())
	defer ts2.Close()
	resp, _ = http.Get(ts2.URL + "/api/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unhealthy = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)
	createActor(t, ts, "worker")

	resp, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatal(err)
	}
	var m domain.SystemMetrics
	decodeBody(t, resp, &m)
	if m.NodeID != "api-node" || m.ActiveActors != 1 {
		t.Errorf("metrics = %+v", m)
	}

	prom, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	prom.Body.Close()
	if prom.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d", prom.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrActorNotFound, http.StatusNotFound},
		{domain.ErrNoEligibleNode, http.StatusConflict},
		{domain.ErrNotRunning, http.StatusServiceUnavailable},
		{domain.ErrBackPressure, http.StatusTooManyRequests},
		{domain.ErrMigrationFailed, http.StatusBadGateway},
		{fmt.Errorf("%w: %w", domain.ErrMigrationFailed, domain.ErrActorMigrating), http.StatusConflict},
		{domain.ErrTaskFailed, http.StatusUnprocessableEntity},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	ts, _, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/actors", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
