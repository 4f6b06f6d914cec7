// Package task splits tasks into subtasks and folds subtask results back into
// a task outcome.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/troupe/internal/domain"
)

// Decomposer turns a task without carried subtasks into subtasks.
type Decomposer interface {
	Decompose(t domain.Task) ([]domain.Subtask, error)
}

// DecomposerFunc adapts a function to Decomposer.
type DecomposerFunc func(t domain.Task) ([]domain.Subtask, error)

// Decompose implements Decomposer.
func (f DecomposerFunc) Decompose(t domain.Task) ([]domain.Subtask, error) { return f(t) }

// Split returns the task's subtasks: the carried ones if present, otherwise
// the decomposer's output. A task with neither is ErrNoSubtasks.
func Split(t domain.Task, d Decomposer) ([]domain.Subtask, error) {
	if subs := Passthrough(t); len(subs) > 0 {
		return subs, nil
	}
	if d == nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, domain.ErrNoSubtasks)
	}
	subs, err := d.Decompose(t)
	if err != nil {
		return nil, fmt.Errorf("decompose task %s: %w", t.ID, err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("task %s: %w", t.ID, domain.ErrNoSubtasks)
	}
	for i := range subs {
		if subs[i].ID == "" {
			subs[i].ID = fmt.Sprintf("%s-%d", t.ID, i)
		}
	}
	return subs, nil
}

// Passthrough returns a copy of the subtasks a task already carries.
func Passthrough(t domain.Task) []domain.Subtask {
	if len(t.Subtasks) == 0 {
		return nil
	}
	out := make([]domain.Subtask, len(t.Subtasks))
	copy(out, t.Subtasks)
	return out
}

// ChunkDecomposer splits the task payload into near-equal chunks, each
// processed with the same work kind and the task's capabilities.
type ChunkDecomposer struct {
	Kind   domain.WorkKind
	Chunks int
}

// Decompose implements Decomposer.
func (c ChunkDecomposer) Decompose(t domain.Task) ([]domain.Subtask, error) {
	if _, err := domain.ParseWorkKind(string(c.Kind)); err != nil {
		return nil, err
	}
	n := c.Chunks
	if n <= 0 {
		n = 1
	}
	if len(t.Payload) > 0 && n > len(t.Payload) {
		n = len(t.Payload)
	}

	subs := make([]domain.Subtask, 0, n)
	size, rem := len(t.Payload)/n, len(t.Payload)%n
	off := 0
	for i := 0; i < n; i++ {
		l := size
		if i < rem {
			l++
		}
		part := make([]byte, l)
		copy(part, t.Payload[off:off+l])
		off += l
		subs = append(subs, domain.Subtask{
			ID:           fmt.Sprintf("%s-%d", t.ID, i),
			Kind:         c.Kind,
			Capabilities: t.Capabilities,
			Payload:      part,
		})
	}
	return subs, nil
}

// NewID returns a fresh task id.
func NewID() string { return uuid.NewString() }

// ─── Aggregation ────────────────────────────────────────────────────────────

// Aggregate folds subtask results into a task result. Best-effort tasks
// complete regardless of subtask failures; all-or-nothing tasks fail if any
// subtask failed. Results keep subtask order.
func Aggregate(taskID string, results []domain.SubtaskResult, policy domain.FailurePolicy, dur time.Duration) domain.TaskResult {
	r := domain.TaskResult{
		TaskID:   taskID,
		Status:   domain.TaskCompleted,
		Results:  results,
		Duration: dur,
	}
	if policy == domain.PolicyAllOrNothing && r.Failed() > 0 {
		r.Status = domain.TaskFailed
	}
	return r
}
