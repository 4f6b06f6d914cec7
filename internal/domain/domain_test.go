package domain

import (
	"errors"
	"testing"
)

// ─── Message Tests ──────────────────────────────────────────────────────────

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"compute", false},
		{"data", false},
		{"control", false},
		{"compute-result", false},
		{"status-result", false},
		{"gossip", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMessageType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownMessageType) {
					t.Errorf("ParseMessageType(%q) error = %v, want ErrUnknownMessageType", tt.in, err)
				}
				return
			}
			if err != nil || string(got) != tt.in {
				t.Errorf("ParseMessageType(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestMessageType_IsReply(t *testing.T) {
	if !MessageComputeResult.IsReply() || !MessageStatusResult.IsReply() {
		t.Error("result kinds should be replies")
	}
	if MessageCompute.IsReply() || MessageData.IsReply() || MessageControl.IsReply() {
		t.Error("request kinds should not be replies")
	}
}

func TestMessage_CloneDoesNotAlias(t *testing.T) {
	m := Message{Payload: []byte("abc")}
	c := m.Clone()
	c.Payload[0] = 'z'
	if string(m.Payload) != "abc" {
		t.Errorf("original payload mutated: %q", m.Payload)
	}
}

// ─── Actor Tests ────────────────────────────────────────────────────────────

func TestStatusForLoad(t *testing.T) {
	tests := []struct {
		load float64
		want ActorStatus
	}{
		{0, ActorIdle},
		{0.8, ActorIdle},
		{0.81, ActorBusy},
		{1, ActorBusy},
	}
	for _, tt := range tests {
		if got := StatusForLoad(tt.load); got != tt.want {
			t.Errorf("StatusForLoad(%v) = %s, want %s", tt.load, got, tt.want)
		}
	}
}

func TestHasCapabilities(t *testing.T) {
	have := []string{"hash", "compress"}
	if !HasCapabilities(have, []string{"hash"}) {
		t.Error("should match subset")
	}
	if !HasCapabilities(have, nil) {
		t.Error("empty requirement should always match")
	}
	if HasCapabilities(have, []string{"hash", "sign"}) {
		t.Error("should not match when one capability is missing")
	}
}

// ─── Node Tests ─────────────────────────────────────────────────────────────

func TestNode_IsEligible(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"online with room", Node{Status: NodeOnline, Capacity: 2, CurrentLoad: 0.3}, true},
		{"offline", Node{Status: NodeOffline, Capacity: 2}, false},
		{"degraded", Node{Status: NodeDegraded, Capacity: 2}, false},
		{"full", Node{Status: NodeOnline, Capacity: 1, Actors: []ActorRef{{ID: "a"}}}, false},
		{"saturated", Node{Status: NodeOnline, Capacity: 4, CurrentLoad: 1.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.IsEligible(); got != tt.want {
				t.Errorf("IsEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNode_CloneIsDeep(t *testing.T) {
	n := Node{ID: "n1", Actors: []ActorRef{{ID: "a", Capabilities: []string{"hash"}}}}
	c := n.Clone()
	c.Actors[0].Capabilities[0] = "sign"
	c.Actors[0].ID = "b"
	if n.Actors[0].ID != "a" || n.Actors[0].Capabilities[0] != "hash" {
		t.Error("Clone() should not alias actor refs")
	}
	if !n.HasActor("a") || n.HasActor("b") {
		t.Error("HasActor() mismatch")
	}
}

// ─── Task Tests ─────────────────────────────────────────────────────────────

func TestParseWorkKind(t *testing.T) {
	for _, k := range []WorkKind{WorkHash, WorkChecksum, WorkReverse, WorkUppercase, WorkLowercase, WorkWordCount, WorkByteSum} {
		if got, err := ParseWorkKind(string(k)); err != nil || got != k {
			t.Errorf("ParseWorkKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseWorkKind("matmul"); !errors.Is(err, ErrUnknownSubtaskKind) {
		t.Errorf("ParseWorkKind(matmul) error = %v, want ErrUnknownSubtaskKind", err)
	}
}

func TestTaskResult_Failed(t *testing.T) {
	r := TaskResult{Results: []SubtaskResult{
		{Status: SubtaskCompleted},
		{Status: SubtaskFailed},
		{Status: SubtaskFailed},
	}}
	if got := r.Failed(); got != 2 {
		t.Errorf("Failed() = %d, want 2", got)
	}
}
