package system

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/troupe/internal/app/actor"
	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/envelope"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/metrics"
	"github.com/tutu-network/troupe/internal/infra/network"
)

// broadcastLimit bounds concurrent sends within one broadcast.
const broadcastLimit = 32

// latencyWeight is the EWMA weight of a new latency sample.
const latencyWeight = 0.1

// ─── Sending ────────────────────────────────────────────────────────────────

// SendMessage seals msg and routes it to targetID. A zero TTL takes the
// configured default. Returns the sealed message id.
func (s *System) SendMessage(ctx context.Context, targetID string, msg domain.Message) (string, error) {
	if err := s.enter(); err != nil {
		return "", err
	}
	defer s.leave()
	return s.send(ctx, targetID, msg)
}

// internalSender routes actor replies. It bypasses the gate so replies
// produced while Stop drains in-flight work are not rejected.
type internalSender struct{ s *System }

func (i internalSender) SendMessage(ctx context.Context, targetID string, msg domain.Message) error {
	_, err := i.s.send(ctx, targetID, msg)
	return err
}

func (s *System) send(ctx context.Context, targetID string, msg domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg = msg.Clone()
	if msg.TTL == 0 {
		msg.TTL = s.cfg.DefaultTTL
	}
	msg.Target = targetID
	envelope.Seal(&msg, s.clock())

	route := "local"
	if s.actor(targetID) != nil {
		if err := s.enqueue(msg); err != nil {
			return "", err
		}
	} else if nodeID, ok := s.nodes.Locate(targetID); ok && nodeID != s.cfg.NodeID {
		route = "remote"
		if err := s.forward(ctx, nodeID, msg); err != nil {
			return "", err
		}
	} else {
		return "", fmt.Errorf("%w: %s", domain.ErrActorNotFound, targetID)
	}

	metrics.MessagesSent.WithLabelValues(s.cfg.NodeID, route).Inc()
	s.publish(events.Event{
		Type:      events.MessageSent,
		NodeID:    s.cfg.NodeID,
		ActorID:   targetID,
		MessageID: msg.ID,
		Detail:    string(msg.Type),
	})
	return msg.ID, nil
}

// forward hands a sealed message to the node owning its target.
func (s *System) forward(ctx context.Context, nodeID string, msg domain.Message) error {
	reply, err := s.sendFrame(ctx, nodeID, network.Frame{
		Kind:    network.FrameDeliver,
		From:    s.cfg.NodeID,
		Message: &msg,
	})
	if err != nil {
		return fmt.Errorf("forward %s to %s: %w", msg.ID, nodeID, err)
	}
	if reply.Kind != network.FrameAck {
		return fmt.Errorf("forward %s to %s: %w", msg.ID, nodeID, domain.ErrNodeUnreachable)
	}
	return nil
}

// sendFrame sends one frame under the configured send timeout.
func (s *System) sendFrame(ctx context.Context, nodeID string, f network.Frame) (network.Frame, error) {
	if s.transport == nil {
		return network.Frame{}, fmt.Errorf("%w: %s: no transport", domain.ErrNodeUnreachable, nodeID)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.transport.Send(ctx, nodeID, f)
}

// ─── Broadcast ──────────────────────────────────────────────────────────────

// Broadcast sends msg to every reachable actor of actorType. Each target gets
// its own envelope. One failed send never aborts the others; every result is
// reported. Returns nil if the system is not running.
func (s *System) Broadcast(ctx context.Context, actorType string, msg domain.Message) []domain.DeliveryResult {
	if err := s.enter(); err != nil {
		return nil
	}
	defer s.leave()

	targets := s.nodes.ActorsOfType(actorType)
	results := make([]domain.DeliveryResult, len(targets))

	var g errgroup.Group
	g.SetLimit(broadcastLimit)
	for i, t := range targets {
		g.Go(func() error {
			m := msg.Clone()
			m.ID = ""
			id, err := s.send(ctx, t.Ref.ID, m)
			results[i] = domain.DeliveryResult{ActorID: t.Ref.ID, MessageID: id, Err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// ─── Inbound Queue ──────────────────────────────────────────────────────────

func (s *System) enqueue(msg domain.Message) error {
	s.qmu.Lock()
	if len(s.queue) >= s.cfg.QueueDepth {
		s.qmu.Unlock()
		metrics.MessagesDropped.WithLabelValues(s.cfg.NodeID, "backpressure").Inc()
		return fmt.Errorf("%w: depth %d", domain.ErrBackPressure, s.cfg.QueueDepth)
	}
	s.queue = append(s.queue, msg)
	depth := len(s.queue)
	s.qmu.Unlock()

	metrics.QueueDepth.WithLabelValues(s.cfg.NodeID).Set(float64(depth))
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *System) dequeue() (domain.Message, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return domain.Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = domain.Message{}
	s.queue = s.queue[1:]
	metrics.QueueDepth.WithLabelValues(s.cfg.NodeID).Set(float64(len(s.queue)))
	return msg, true
}

// requeue puts msgs back at the head of the queue, ignoring the depth limit:
// they were already accepted once.
func (s *System) requeue(msgs []domain.Message) {
	s.qmu.Lock()
	s.queue = append(append(make([]domain.Message, 0, len(msgs)+len(s.queue)), msgs...), s.queue...)
	depth := len(s.queue)
	s.qmu.Unlock()

	metrics.QueueDepth.WithLabelValues(s.cfg.NodeID).Set(float64(depth))
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *System) clearQueue() {
	s.qmu.Lock()
	n := len(s.queue)
	s.queue = nil
	s.qmu.Unlock()
	if n > 0 {
		s.dropped.Add(uint64(n))
		metrics.MessagesDropped.WithLabelValues(s.cfg.NodeID, "stopped").Add(float64(n))
	}
	metrics.QueueDepth.WithLabelValues(s.cfg.NodeID).Set(0)
}

// ─── Delivery Loop ──────────────────────────────────────────────────────────

// deliveryLoop is the single consumer of the inbound queue. On cancellation
// it delivers what is already queued, then returns.
func (s *System) deliveryLoop(ctx context.Context) {
	for {
		if msg, ok := s.dequeue(); ok {
			s.deliver(ctx, msg)
			continue
		}
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return
		case <-s.notify:
		}
	}
}

func (s *System) drain(ctx context.Context) {
	s.qmu.Lock()
	pending := s.queue
	s.queue = nil
	s.qmu.Unlock()
	for _, msg := range pending {
		s.deliver(ctx, msg)
	}
}

// deliver validates msg and hands it to its target actor. Invalid messages
// are dropped and reported; they never reach an actor.
func (s *System) deliver(ctx context.Context, msg domain.Message) {
	if err := envelope.Validate(msg, s.clock()); err != nil {
		reason := "checksum"
		if errors.Is(err, domain.ErrMessageExpired) {
			reason = "expired"
		}
		s.drop(msg, reason, err)
		return
	}

	s.recvMu.Lock()
	a, parked := s.receiver(msg)
	if parked {
		s.recvMu.Unlock()
		return
	}
	if a == nil {
		s.recvMu.Unlock()
		// The target migrated after the message was queued.
		if nodeID, ok := s.nodes.Locate(msg.Target); ok && nodeID != s.cfg.NodeID {
			if err := s.forward(ctx, nodeID, msg); err == nil {
				return
			}
		}
		s.drop(msg, "not_found", fmt.Errorf("%w: %s", domain.ErrActorNotFound, msg.Target))
		return
	}

	err := a.ReceiveMessage(ctx, msg)
	s.recvMu.Unlock()
	if err != nil {
		s.errs.Add(1)
	} else {
		s.processed.Add(1)
		metrics.MessagesProcessed.WithLabelValues(s.cfg.NodeID).Inc()
	}
	s.observeLatency(s.clock().Sub(msg.Timestamp))
}

// receiver resolves the local actor for msg, or parks msg if its target is
// being handed to another node.
func (s *System) receiver(msg domain.Message) (*actor.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if parked, ok := s.migrating[msg.Target]; ok {
		s.migrating[msg.Target] = append(parked, msg)
		return nil, true
	}
	return s.actors[msg.Target], false
}

func (s *System) drop(msg domain.Message, reason string, err error) {
	s.dropped.Add(1)
	metrics.MessagesDropped.WithLabelValues(s.cfg.NodeID, reason).Inc()
	log.Printf("[system] dropped message %s for %s: %v", msg.ID, msg.Target, err)
	s.publish(events.Event{
		Type:      events.MessageProcessingError,
		NodeID:    s.cfg.NodeID,
		ActorID:   msg.Target,
		MessageID: msg.ID,
		Detail:    err.Error(),
	})
}

func (s *System) observeLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	metrics.DeliveryLatency.WithLabelValues(s.cfg.NodeID).Observe(d.Seconds())
	s.latMu.Lock()
	if s.avgLatency == 0 {
		s.avgLatency = d
	} else {
		s.avgLatency = time.Duration(float64(s.avgLatency)*(1-latencyWeight) + float64(d)*latencyWeight)
	}
	s.latMu.Unlock()
}
