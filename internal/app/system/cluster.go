package system

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/metrics"
	"github.com/tutu-network/troupe/internal/infra/network"
)

// Join records a peer node as online so placement and routing can use it
// before its first heartbeat arrives.
func (s *System) Join(peer domain.Node) {
	if peer.ID == "" || peer.ID == s.cfg.NodeID {
		return
	}
	if peer.Status == "" {
		peer.Status = domain.NodeOnline
	}
	if peer.LastHeartbeat.IsZero() {
		peer.LastHeartbeat = s.clock()
	}
	s.nodes.Upsert(peer)
}

// ─── Heartbeat Monitor ──────────────────────────────────────────────────────

func (s *System) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

// heartbeat refreshes the local node, reports it to every remote and marks
// silent remotes offline. Offline is reported once per transition.
func (s *System) heartbeat(ctx context.Context) {
	now := s.clock()
	local := s.nodes.TouchLocal(s.localLoad(), now)
	metrics.NodeLoad.WithLabelValues(s.cfg.NodeID).Set(local.CurrentLoad)
	s.publish(events.Event{
		Type:   events.Heartbeat,
		NodeID: s.cfg.NodeID,
		Detail: fmt.Sprintf("load=%.3f status=%s", local.CurrentLoad, local.Status),
	})

	remotes := s.nodes.Remote()
	if s.transport != nil && len(remotes) > 0 {
		var g errgroup.Group
		for _, n := range remotes {
			g.Go(func() error {
				report := local.Clone()
				_, err := s.sendFrame(ctx, n.ID, network.Frame{
					Kind:   network.FrameHeartbeat,
					From:   s.cfg.NodeID,
					Report: &report,
				})
				if err != nil {
					metrics.Heartbeats.WithLabelValues("failed").Inc()
				} else {
					metrics.Heartbeats.WithLabelValues("ok").Inc()
				}
				return nil
			})
		}
		g.Wait()
	}

	for _, n := range s.nodes.SweepStale(s.clock(), s.cfg.LivenessTimeout) {
		s.reportOffline(n.ID, "heartbeat timeout")
	}

	online := 0
	for _, n := range s.nodes.Nodes() {
		if n.IsReachable() {
			online++
		}
	}
	metrics.NodesOnline.WithLabelValues(s.cfg.NodeID).Set(float64(online))
}

// localLoad is the summed actor load normalized by node capacity.
func (s *System) localLoad() float64 {
	var sum float64
	for _, a := range s.localActors() {
		sum += a.Load()
	}
	load := sum / float64(s.cfg.Capacity)
	if load > 1 {
		load = 1
	}
	return load
}

func (s *System) reportOffline(nodeID, reason string) {
	metrics.NodeOfflineTransitions.Inc()
	log.Printf("[system] node %s offline (%s)", nodeID, reason)
	s.publish(events.Event{Type: events.NodeOffline, NodeID: nodeID, Detail: reason})
}

// ─── Inbound Frames ─────────────────────────────────────────────────────────

// handleFrame is the transport handler for this node.
func (s *System) handleFrame(ctx context.Context, f network.Frame) (network.Frame, error) {
	ack := network.Ack(s.cfg.NodeID)
	switch f.Kind {
	case network.FrameDeliver:
		if !s.Running() {
			return network.Frame{}, domain.ErrNotRunning
		}
		if f.Message == nil {
			return network.Frame{}, fmt.Errorf("%w: deliver frame without message", domain.ErrInvalidRequest)
		}
		if s.actor(f.Message.Target) == nil {
			return network.Frame{}, fmt.Errorf("%w: %s on %s", domain.ErrActorNotFound, f.Message.Target, s.cfg.NodeID)
		}
		if err := s.enqueue(*f.Message); err != nil {
			return network.Frame{}, err
		}
		return ack, nil

	case network.FrameMigrate:
		if !s.Running() {
			return network.Frame{}, domain.ErrNotRunning
		}
		a, err := s.adopt(f.Snapshot)
		if err != nil {
			log.Printf("[system] rejected migration from %s: %v", f.From, err)
			return network.Frame{}, err
		}
		log.Printf("[system] adopted actor %s from %s", a.ID(), f.From)
		return ack, nil

	case network.FrameHeartbeat:
		if f.Report == nil {
			return network.Frame{}, fmt.Errorf("%w: heartbeat without report", domain.ErrInvalidRequest)
		}
		if s.nodes.Heartbeat(*f.Report, s.clock()) {
			log.Printf("[system] node %s back online", f.Report.ID)
			s.publish(events.Event{Type: events.NodeOnline, NodeID: f.Report.ID})
		}
		return ack, nil

	case network.FrameShutdown:
		if s.nodes.MarkOffline(f.From) {
			s.reportOffline(f.From, "shutdown")
		}
		return ack, nil

	default:
		return network.Frame{}, fmt.Errorf("%w: frame kind %q", domain.ErrInvalidRequest, f.Kind)
	}
}

// notifyShutdown tells every known remote node this node is leaving.
// Failures are logged and swallowed.
func (s *System) notifyShutdown(ctx context.Context) {
	if s.transport == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, n := range s.nodes.Remote() {
		g.Go(func() error {
			_, err := s.sendFrame(ctx, n.ID, network.Frame{Kind: network.FrameShutdown, From: s.cfg.NodeID})
			if err != nil {
				log.Printf("[system] shutdown notice to %s failed: %v", n.ID, err)
			}
			return nil
		})
	}
	g.Wait()
}
