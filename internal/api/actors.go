package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
)

// ─── Request Types ──────────────────────────────────────────────────────────

type createActorRequest struct {
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

// messageRequest carries a text payload; TTLMs of 0 means the system default
// and a negative value means no expiry.
type messageRequest struct {
	Type     string `json:"type"`
	Payload  string `json:"payload"`
	Priority int    `json:"priority"`
	Source   string `json:"source"`
	TTLMs    int64  `json:"ttl_ms"`
}

func (m messageRequest) toMessage() (domain.Message, error) {
	typ, err := domain.ParseMessageType(m.Type)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		Type:     typ,
		Payload:  []byte(m.Payload),
		Priority: m.Priority,
		Source:   m.Source,
	}
	switch {
	case m.TTLMs < 0:
		msg.TTL = domain.NoExpiry
	case m.TTLMs > 0:
		msg.TTL = time.Duration(m.TTLMs) * time.Millisecond
	}
	return msg, nil
}

type broadcastRequest struct {
	ActorType string `json:"actor_type"`
	messageRequest
}

type subtaskRequest struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
	Payload      string   `json:"payload"`
}

type taskRequest struct {
	ID           string           `json:"id"`
	Capabilities []string         `json:"capabilities"`
	Subtasks     []subtaskRequest `json:"subtasks"`
	Payload      string           `json:"payload"`
	Policy       string           `json:"policy"`
}

func (t taskRequest) toTask() (domain.Task, error) {
	task := domain.Task{
		ID:           t.ID,
		Capabilities: t.Capabilities,
		Payload:      []byte(t.Payload),
		Policy:       domain.FailurePolicy(t.Policy),
	}
	switch task.Policy {
	case "", domain.PolicyBestEffort, domain.PolicyAllOrNothing:
	default:
		return task, fmt.Errorf("%w: unknown policy %q", domain.ErrInvalidRequest, t.Policy)
	}
	for _, st := range t.Subtasks {
		kind, err := domain.ParseWorkKind(st.Kind)
		if err != nil {
			return task, err
		}
		task.Subtasks = append(task.Subtasks, domain.Subtask{
			ID:           st.ID,
			Kind:         kind,
			Capabilities: st.Capabilities,
			Payload:      []byte(st.Payload),
		})
	}
	return task, nil
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// ─── System ─────────────────────────────────────────────────────────────────

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sys.Metrics())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": s.sys.Nodes()})
}

// ─── Actors ─────────────────────────────────────────────────────────────────

func (s *Server) handleListActors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"actors": s.sys.Actors()})
}

func (s *Server) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req createActorRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.sys.CreateActor(r.Context(), req.Type, req.Capabilities)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := req.toMessage()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := s.sys.SendMessage(r.Context(), chi.URLParam(r, "id"), msg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"node_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.sys.MigrateActor(r.Context(), chi.URLParam(r, "id"), req.NodeID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "migrated", "node_id": req.NodeID})
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := s.sys.Replies(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"replies": replies})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ActorType == "" {
		writeError(w, http.StatusBadRequest, "actor_type is required")
		return
	}
	msg, err := req.toMessage()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.sys.Running() {
		writeDomainError(w, domain.ErrNotRunning)
		return
	}
	results := s.sys.Broadcast(r.Context(), req.ActorType, msg)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":   results,
		"delivered": len(results) - failed,
		"failed":    failed,
	})
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Server) handleProcessTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := req.toTask()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.sys.ProcessTask(r.Context(), task)
	if res.TaskID != "" && s.journal != nil {
		if jerr := s.journal.RecordTaskResult(res); jerr != nil {
			log.Printf("[api] record task %s: %v", res.TaskID, jerr)
		}
	}
	if err != nil && res.TaskID == "" {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	res, err := s.journal.TaskResult(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Observability ──────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	evs, err := s.journal.RecentEvents(limit, events.Type(r.URL.Query().Get("type")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusNotFound, "health checks disabled")
		return
	}
	status := http.StatusOK
	if !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy": s.health.IsHealthy(),
		"checks":  s.health.Statuses(),
	})
}
