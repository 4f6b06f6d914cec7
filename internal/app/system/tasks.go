package system

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/troupe/internal/app/actor"
	"github.com/tutu-network/troupe/internal/app/task"
	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/metrics"
	"github.com/tutu-network/troupe/internal/infra/placement"
)

// ProcessTask decomposes t, assigns every subtask to the least-loaded local
// actor holding its capabilities, runs the subtasks concurrently and
// aggregates the results under the task's failure policy.
//
// Assignment happens before any subtask runs: if one subtask has no
// qualifying actor, nothing executes and ErrNoEligibleActor is returned.
// Under all-or-nothing a failed subtask yields a failed result together with
// ErrTaskFailed. Subtasks are never retried.
func (s *System) ProcessTask(ctx context.Context, t domain.Task) (domain.TaskResult, error) {
	if err := s.enter(); err != nil {
		return domain.TaskResult{}, err
	}
	defer s.leave()

	start := s.clock()
	if t.ID == "" {
		t.ID = task.NewID()
	}
	subs, err := task.Split(t, s.decomposer)
	if err != nil {
		return domain.TaskResult{}, err
	}

	local := s.localActors()
	byID := make(map[string]*actor.Actor, len(local))
	candidates := make([]placement.Candidate, 0, len(local))
	for _, a := range local {
		if a.Status() == domain.ActorShutdown {
			continue
		}
		byID[a.ID()] = a
		candidates = append(candidates, placement.Candidate{
			ID:           a.ID(),
			Load:         a.Load(),
			Capabilities: a.Capabilities(),
		})
	}

	assigned := make([]*actor.Actor, len(subs))
	for i, st := range subs {
		required := st.Capabilities
		if len(required) == 0 {
			required = t.Capabilities
		}
		c, err := placement.SelectActor(candidates, required)
		if err != nil {
			return domain.TaskResult{}, fmt.Errorf("task %s subtask %s: %w", t.ID, st.ID, err)
		}
		assigned[i] = byID[c.ID]
	}

	results := make([]domain.SubtaskResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentSubtasks)
	for i, st := range subs {
		g.Go(func() error {
			results[i] = assigned[i].ExecuteSubtask(gctx, st)
			metrics.SubtaskDuration.WithLabelValues(string(st.Kind)).Observe(results[i].Duration.Seconds())
			return nil
		})
	}
	g.Wait()

	res := task.Aggregate(t.ID, results, t.Policy, s.clock().Sub(start))
	metrics.Tasks.WithLabelValues(string(res.Status)).Inc()

	if res.Status == domain.TaskFailed {
		log.Printf("[system] task %s failed: %d/%d subtasks failed", t.ID, res.Failed(), len(results))
		s.publish(events.Event{Type: events.TaskFailed, NodeID: s.cfg.NodeID, TaskID: t.ID,
			Detail: fmt.Sprintf("%d/%d subtasks failed", res.Failed(), len(results))})
		return res, fmt.Errorf("task %s: %w", t.ID, domain.ErrTaskFailed)
	}
	s.publish(events.Event{Type: events.TaskCompleted, NodeID: s.cfg.NodeID, TaskID: t.ID,
		Detail: fmt.Sprintf("%d subtasks, %d failed", len(results), res.Failed())})
	return res, nil
}
