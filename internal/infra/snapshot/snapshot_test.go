package snapshot

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tutu-network/troupe/internal/domain"
)

func sampleState() domain.ActorState {
	return domain.ActorState{
		ID:           "actor-1",
		Type:         "hasher",
		Capabilities: []string{"hash", "checksum"},
		NodeID:       "node-a",
		Load:         0.25,
		Status:       domain.ActorIdle,
		Memory:       domain.MemoryStats{Allocated: 1 << 20, Used: 262144, Peak: 300000, Fragments: 3},
		Metrics: domain.ActorMetrics{
			Processed:  42,
			Dropped:    1,
			Errors:     2,
			AvgLatency: 3 * time.Millisecond,
			Throughput: 12.5,
			StartTime:  time.Unix(1_700_000_000, 123),
		},
	}
}

func TestEncodeDecode_PreservesState(t *testing.T) {
	in := sampleState()
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if out.ID != in.ID || out.Type != in.Type || out.Load != in.Load || out.Status != in.Status {
		t.Errorf("header mismatch: %+v", out)
	}
	if len(out.Capabilities) != 2 || out.Capabilities[1] != "checksum" {
		t.Errorf("Capabilities = %v", out.Capabilities)
	}
	if out.Memory != in.Memory {
		t.Errorf("Memory = %+v, want %+v", out.Memory, in.Memory)
	}
	if out.Metrics.Processed != 42 || out.Metrics.AvgLatency != in.Metrics.AvgLatency ||
		out.Metrics.Throughput != 12.5 || !out.Metrics.StartTime.Equal(in.Metrics.StartTime) {
		t.Errorf("Metrics = %+v", out.Metrics)
	}
	if out.NodeID != "" {
		t.Errorf("NodeID should not travel in snapshots, got %q", out.NodeID)
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	b := Encode(sampleState())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "field from a newer revision")

	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if out.ID != "actor-1" {
		t.Errorf("ID = %q", out.ID)
	}
}

func TestDecode_RejectsNewerVersion(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, Version+1)
	b = appendString(b, 2, "actor-1")

	if _, err := Decode(b); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Decode() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	b := Encode(sampleState())
	if _, err := Decode(b[:len(b)-3]); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(truncated) error = %v, want ErrMalformed", err)
	}
}

func TestDecode_MissingID(t *testing.T) {
	s := sampleState()
	s.ID = ""
	if _, err := Decode(Encode(s)); !errors.Is(err, ErrMissingID) {
		t.Errorf("Decode() error = %v, want ErrMissingID", err)
	}
}
