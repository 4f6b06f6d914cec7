// Package domain — message types.
// A Message is the unit of communication between actors. The envelope fields
// (ID, Timestamp, Checksum) are filled once, when the message is sent.
package domain

import (
	"fmt"
	"math"
	"time"
)

// MessageType discriminates how an actor handles a message.
type MessageType string

const (
	MessageCompute       MessageType = "compute"
	MessageData          MessageType = "data"
	MessageControl       MessageType = "control"
	MessageComputeResult MessageType = "compute-result"
	MessageStatusResult  MessageType = "status-result"
)

// IsReply reports whether the type is one of the reply kinds.
func (t MessageType) IsReply() bool {
	return t == MessageComputeResult || t == MessageStatusResult
}

// ParseMessageType validates a wire string.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(s); t {
	case MessageCompute, MessageData, MessageControl, MessageComputeResult, MessageStatusResult:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessageType, s)
	}
}

// Control commands carried in the payload of a control message.
const (
	ControlPause  = "pause"
	ControlResume = "resume"
	ControlStatus = "status"
)

// NoExpiry is a TTL that never elapses.
const NoExpiry = time.Duration(math.MaxInt64)

// Message is the logical wire shape shared by every transport.
type Message struct {
	ID        string        `json:"id"`
	Type      MessageType   `json:"type"`
	Payload   []byte        `json:"payload"`
	Priority  int           `json:"priority"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source,omitempty"`
	Target    string        `json:"target,omitempty"`
	TTL       time.Duration `json:"ttl"`
	Checksum  string        `json:"checksum"`
}

// Clone returns a copy whose payload does not alias the original.
func (m Message) Clone() Message {
	if m.Payload != nil {
		p := make([]byte, len(m.Payload))
		copy(p, m.Payload)
		m.Payload = p
	}
	return m
}

// DeliveryResult reports the outcome of one send within a broadcast.
type DeliveryResult struct {
	ActorID   string `json:"actor_id"`
	MessageID string `json:"message_id,omitempty"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}
