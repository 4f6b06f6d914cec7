// Package domain — task types.
// A Task is coarse-grained work that is split into Subtasks, each executed
// by an actor holding the subtask's required capabilities.
package domain

import (
	"fmt"
	"time"
)

// WorkKind names the deterministic transform a subtask performs.
type WorkKind string

const (
	WorkHash      WorkKind = "hash"      // SHA-256 hex of the payload
	WorkChecksum  WorkKind = "checksum"  // CRC-32 (IEEE) hex of the payload
	WorkReverse   WorkKind = "reverse"   // payload bytes reversed
	WorkUppercase WorkKind = "uppercase" // payload upper-cased
	WorkLowercase WorkKind = "lowercase" // payload lower-cased
	WorkWordCount WorkKind = "wordcount" // number of whitespace-separated words
	WorkByteSum   WorkKind = "bytesum"   // decimal sum of payload bytes
)

// ParseWorkKind validates a wire string.
func ParseWorkKind(s string) (WorkKind, error) {
	switch k := WorkKind(s); k {
	case WorkHash, WorkChecksum, WorkReverse, WorkUppercase, WorkLowercase, WorkWordCount, WorkByteSum:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubtaskKind, s)
	}
}

// FailurePolicy decides how subtask failures shape the task outcome.
type FailurePolicy string

const (
	// PolicyBestEffort reports the task completed; failures stay visible
	// per subtask.
	PolicyBestEffort FailurePolicy = "best-effort"
	// PolicyAllOrNothing fails the task if any subtask failed.
	PolicyAllOrNothing FailurePolicy = "all-or-nothing"
)

// Task is a unit of distributed work.
type Task struct {
	ID           string        `json:"id"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Subtasks     []Subtask     `json:"subtasks,omitempty"`
	Payload      []byte        `json:"payload,omitempty"`
	Policy       FailurePolicy `json:"policy,omitempty"`
}

// Subtask is the part of a task executed by a single actor.
type Subtask struct {
	ID           string   `json:"id"`
	Kind         WorkKind `json:"kind"`
	Capabilities []string `json:"capabilities,omitempty"`
	Payload      []byte   `json:"payload,omitempty"`
}

// SubtaskStatus is the outcome of one subtask.
type SubtaskStatus string

const (
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
)

// SubtaskResult is what an actor returns for one subtask.
type SubtaskResult struct {
	SubtaskID string        `json:"subtask_id"`
	Status    SubtaskStatus `json:"status"`
	Data      []byte        `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	ActorID   string        `json:"actor_id"`
}

// TaskStatus is the aggregated task outcome.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskResult aggregates subtask results.
type TaskResult struct {
	TaskID   string          `json:"task_id"`
	Status   TaskStatus      `json:"status"`
	Results  []SubtaskResult `json:"results"`
	Duration time.Duration   `json:"duration"`
}

// Failed returns the number of failed subtasks.
func (r *TaskResult) Failed() int {
	n := 0
	for _, s := range r.Results {
		if s.Status == SubtaskFailed {
			n++
		}
	}
	return n
}
