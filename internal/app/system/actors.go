package system

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/tutu-network/troupe/internal/app/actor"
	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/metrics"
	"github.com/tutu-network/troupe/internal/infra/network"
	"github.com/tutu-network/troupe/internal/infra/placement"
)

// ─── Actor Creation ─────────────────────────────────────────────────────────

// CreateActor constructs an actor, registers it locally and asks the
// placement strategy for a node. If the chosen node is remote the actor is
// migrated there; a failed migration keeps it local and still returns its id.
func (s *System) CreateActor(ctx context.Context, actorType string, capabilities []string) (string, error) {
	if err := s.enter(); err != nil {
		return "", err
	}
	defer s.leave()

	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		return "", fmt.Errorf("%w: actor type is required", domain.ErrInvalidRequest)
	}

	id := uuid.NewString()
	target, err := s.strategy.SelectNode(placement.Request{
		ActorID:      id,
		ActorType:    actorType,
		Capabilities: capabilities,
	}, placement.Eligible(s.nodes.Nodes()))
	if err != nil {
		return "", fmt.Errorf("create %s actor: %w", actorType, err)
	}

	a := s.newActor(id, actorType, capabilities)
	a.Initialize()
	s.addActor(a)
	log.Printf("[system] created %s actor %s", actorType, id)
	s.publish(events.Event{Type: events.ActorCreated, NodeID: s.cfg.NodeID, ActorID: id, Detail: actorType})

	if target.ID != s.cfg.NodeID {
		if err := s.migrate(ctx, id, target.ID); err != nil {
			log.Printf("[system] placement of %s on %s failed, keeping local: %v", id, target.ID, err)
		}
	}
	return id, nil
}

func (s *System) newActor(id, actorType string, capabilities []string) *actor.Actor {
	return actor.New(id, actorType, capabilities, s.actorOptions())
}

func (s *System) actorOptions() actor.Options {
	return actor.Options{
		NodeID:    s.cfg.NodeID,
		Allocated: s.cfg.ActorMemory,
		Sender:    internalSender{s},
		Bus:       s.bus,
		Compute:   s.compute,
		Clock:     s.clock,
	}
}

// ─── Migration ──────────────────────────────────────────────────────────────

// MigrateActor moves a local actor to nodeID. The actor is deregistered only
// after the target acknowledges the handoff; otherwise it stays local and
// ErrMigrationFailed is returned.
func (s *System) MigrateActor(ctx context.Context, actorID, nodeID string) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()
	return s.migrate(ctx, actorID, nodeID)
}

func (s *System) migrate(ctx context.Context, actorID, nodeID string) error {
	a := s.actor(actorID)
	if a == nil {
		return fmt.Errorf("%w: %s", domain.ErrActorNotFound, actorID)
	}
	if nodeID == s.cfg.NodeID {
		return nil
	}
	if err := s.claimMigration(actorID); err != nil {
		return err
	}

	fail := func(cause error) error {
		s.abortMigration(actorID)
		metrics.Migrations.WithLabelValues("failed").Inc()
		s.publish(events.Event{
			Type:    events.ActorMigrationFailed,
			NodeID:  s.cfg.NodeID,
			ActorID: actorID,
			Detail:  fmt.Sprintf("%s: %v", nodeID, cause),
		})
		return fmt.Errorf("%w: %s to %s: %v", domain.ErrMigrationFailed, actorID, nodeID, cause)
	}

	data, err := a.Serialize()
	if err != nil {
		return fail(err)
	}
	reply, err := s.sendFrame(ctx, nodeID, network.Frame{
		Kind:     network.FrameMigrate,
		From:     s.cfg.NodeID,
		Snapshot: data,
	})
	if err != nil {
		return fail(err)
	}
	if reply.Kind != network.FrameAck {
		return fail(fmt.Errorf("unexpected reply %q", reply.Kind))
	}

	// Acknowledged: the remote copy is authoritative from here on.
	s.removeActor(actorID)
	a.Shutdown()
	if err := s.nodes.AddActor(nodeID, a.Ref()); err != nil {
		log.Printf("[system] %v", err)
	}
	s.completeMigration(context.WithoutCancel(ctx), actorID, nodeID)
	metrics.Migrations.WithLabelValues("ok").Inc()
	log.Printf("[system] migrated actor %s to %s", actorID, nodeID)
	s.publish(events.Event{Type: events.ActorMigrated, NodeID: nodeID, ActorID: actorID, Detail: s.cfg.NodeID})
	return nil
}

// claimMigration fences actorID for one handoff. It waits for a delivery in
// progress to that actor so the snapshot covers every processed message;
// later deliveries are parked until the handoff settles.
func (s *System) claimMigration(actorID string) error {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[actorID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrActorNotFound, actorID)
	}
	if _, busy := s.migrating[actorID]; busy {
		return fmt.Errorf("%w: %w: %s", domain.ErrMigrationFailed, domain.ErrActorMigrating, actorID)
	}
	s.migrating[actorID] = nil
	return nil
}

// abortMigration lifts the fence and puts parked messages back at the head
// of the inbound queue, in arrival order.
func (s *System) abortMigration(actorID string) {
	s.mu.Lock()
	parked := s.migrating[actorID]
	delete(s.migrating, actorID)
	if len(parked) > 0 {
		s.requeue(parked)
	}
	s.mu.Unlock()
}

// completeMigration forwards parked messages to the actor's new node, then
// lifts the fence. Messages parked while forwarding are picked up in the
// next round, so arrival order is kept.
func (s *System) completeMigration(ctx context.Context, actorID, nodeID string) {
	for {
		s.mu.Lock()
		parked := s.migrating[actorID]
		if len(parked) == 0 {
			delete(s.migrating, actorID)
			s.mu.Unlock()
			return
		}
		s.migrating[actorID] = nil
		s.mu.Unlock()

		for _, msg := range parked {
			if err := s.forward(ctx, nodeID, msg); err != nil {
				s.drop(msg, "unreachable", err)
			}
		}
	}
}

// adopt registers an actor restored from a migration snapshot.
func (s *System) adopt(snapshot []byte) (*actor.Actor, error) {
	a, err := actor.Restore(snapshot, s.actorOptions())
	if err != nil {
		return nil, err
	}
	if s.actor(a.ID()) != nil {
		return nil, fmt.Errorf("%w: actor %s already resident", domain.ErrInvalidRequest, a.ID())
	}
	s.addActor(a)
	return a, nil
}
