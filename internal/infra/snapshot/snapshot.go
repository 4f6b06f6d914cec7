// Package snapshot encodes actor state for migration between nodes.
//
// The format is protobuf wire encoding written field-by-field, with the
// schema version in field 1:
//
//	1 version      varint
//	2 id           string
//	3 type         string
//	4 capabilities repeated string
//	5 load         double
//	6 status       string
//	7 metrics      message { 1 processed, 2 dropped, 3 errors, 4 avg_latency_ns,
//	                         5 throughput (double), 6 start_unix_nano }
//	8 memory       message { 1 allocated, 2 used, 3 peak, 4 fragments }
//
// Decoders skip unknown fields, so a node can read snapshots written by a
// newer minor revision. A snapshot whose version exceeds Version is rejected.
package snapshot

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tutu-network/troupe/internal/domain"
)

// Version is the schema version written by Encode.
const Version = 1

var (
	ErrUnsupportedVersion = errors.New("snapshot: unsupported schema version")
	ErrMalformed          = errors.New("snapshot: malformed data")
	ErrMissingID          = errors.New("snapshot: actor id missing")
)

// ─── Encode ─────────────────────────────────────────────────────────────────

// Encode serializes the transferable part of an actor snapshot. NodeID is
// deliberately excluded: ownership is decided by the receiving node.
func Encode(s domain.ActorState) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	b = appendString(b, 2, s.ID)
	b = appendString(b, 3, s.Type)
	for _, c := range s.Capabilities {
		b = appendString(b, 4, c)
	}
	b = appendDouble(b, 5, s.Load)
	b = appendString(b, 6, string(s.Status))

	var m []byte
	m = appendUvarint(m, 1, s.Metrics.Processed)
	m = appendUvarint(m, 2, s.Metrics.Dropped)
	m = appendUvarint(m, 3, s.Metrics.Errors)
	m = appendUvarint(m, 4, uint64(s.Metrics.AvgLatency))
	m = appendDouble(m, 5, s.Metrics.Throughput)
	if !s.Metrics.StartTime.IsZero() {
		m = appendUvarint(m, 6, uint64(s.Metrics.StartTime.UnixNano()))
	}
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, m)

	var mem []byte
	mem = appendUvarint(mem, 1, uint64(s.Memory.Allocated))
	mem = appendUvarint(mem, 2, uint64(s.Memory.Used))
	mem = appendUvarint(mem, 3, uint64(s.Memory.Peak))
	mem = appendUvarint(mem, 4, uint64(s.Memory.Fragments))
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendBytes(b, mem)
	return b
}

// ─── Decode ─────────────────────────────────────────────────────────────────

// Decode parses a snapshot produced by Encode.
func Decode(b []byte) (domain.ActorState, error) {
	var s domain.ActorState
	var version uint64
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			version = x
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.ID = x
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.Type = x
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.Capabilities = append(s.Capabilities, x)
			return n, nil
		case num == 5 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			s.Load = math.Float64frombits(x)
			return n, nil
		case num == 6 && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.Status = domain.ActorStatus(x)
			return n, nil
		case num == 7 && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			return n, decodeMetrics(x, &s.Metrics)
		case num == 8 && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			return n, decodeMemory(x, &s.Memory)
		default:
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
	})
	if err != nil {
		return domain.ActorState{}, err
	}
	if version == 0 || version > Version {
		return domain.ActorState{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if s.ID == "" {
		return domain.ActorState{}, ErrMissingID
	}
	return s, nil
}

func decodeMetrics(b []byte, m *domain.ActorMetrics) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ == protowire.Fixed64Type && num == 5 {
			x, n := protowire.ConsumeFixed64(v)
			m.Throughput = math.Float64frombits(x)
			return n, nil
		}
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		x, n := protowire.ConsumeVarint(v)
		switch num {
		case 1:
			m.Processed = x
		case 2:
			m.Dropped = x
		case 3:
			m.Errors = x
		case 4:
			m.AvgLatency = time.Duration(x)
		case 6:
			m.StartTime = time.Unix(0, int64(x))
		}
		return n, nil
	})
}

func decodeMemory(b []byte, m *domain.MemoryStats) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		x, n := protowire.ConsumeVarint(v)
		switch num {
		case 1:
			m.Allocated = int64(x)
		case 2:
			m.Used = int64(x)
		case 3:
			m.Peak = int64(x)
		case 4:
			m.Fragments = int(x)
		}
		return n, nil
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// walk iterates the fields of b, handing each value to fn. fn returns how
// many bytes it consumed (negative on parse failure).
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
