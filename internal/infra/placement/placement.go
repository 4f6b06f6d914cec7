// Package placement implements the pluggable distribution strategies that
// choose a node for a new actor and an actor for a subtask.
//
// Strategies are pure selections over a candidate slice:
//   - weighted:        least-loaded node
//   - affinity:        shared capabilities + same-type bonus − load penalty
//   - round-robin:     strategy-owned rotating cursor
//   - consistent-hash: xxhash64(actorID) mod N
//
// Ties are always broken by first-seen order, so callers control tie
// resolution through the order of the slice they pass in.
package placement

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tutu-network/troupe/internal/domain"
)

// ─── Strategy Kinds ─────────────────────────────────────────────────────────

// Kind tags a distribution strategy.
type Kind string

const (
	Weighted       Kind = "weighted"
	Affinity       Kind = "affinity"
	RoundRobin     Kind = "round-robin"
	ConsistentHash Kind = "consistent-hash"
)

// ParseKind validates a strategy name from config or flags.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Weighted, Affinity, RoundRobin, ConsistentHash:
		return k, nil
	default:
		return "", fmt.Errorf("unknown distribution strategy %q", s)
	}
}

// Affinity scoring weights.
const (
	SameTypeBonus = 5.0
	LoadPenalty   = 2.0
)

// Request describes the actor being placed.
type Request struct {
	ActorID      string
	ActorType    string
	Capabilities []string
}

// Strategy selects one node from a candidate set.
type Strategy interface {
	Kind() Kind
	SelectNode(req Request, nodes []domain.Node) (domain.Node, error)
}

// New builds a fresh strategy instance. Stateful strategies (round-robin)
// keep their state per instance.
func New(kind Kind) (Strategy, error) {
	switch kind {
	case Weighted:
		return weighted{}, nil
	case Affinity:
		return affinity{}, nil
	case RoundRobin:
		return &roundRobin{}, nil
	case ConsistentHash:
		return consistentHash{}, nil
	default:
		return nil, fmt.Errorf("unknown distribution strategy %q", kind)
	}
}

// Eligible filters nodes that may accept a new actor, preserving order.
func Eligible(nodes []domain.Node) []domain.Node {
	out := make([]domain.Node, 0, len(nodes))
	for i := range nodes {
		if nodes[i].IsEligible() {
			out = append(out, nodes[i])
		}
	}
	return out
}

// ─── Weighted ───────────────────────────────────────────────────────────────

type weighted struct{}

func (weighted) Kind() Kind { return Weighted }

func (weighted) SelectNode(_ Request, nodes []domain.Node) (domain.Node, error) {
	if len(nodes) == 0 {
		return domain.Node{}, domain.ErrNoEligibleNode
	}
	best := 0
	for i := 1; i < len(nodes); i++ {
		if nodes[i].CurrentLoad < nodes[best].CurrentLoad {
			best = i
		}
	}
	return nodes[best], nil
}

// ─── Affinity ───────────────────────────────────────────────────────────────

type affinity struct{}

func (affinity) Kind() Kind { return Affinity }

func (affinity) SelectNode(req Request, nodes []domain.Node) (domain.Node, error) {
	if len(nodes) == 0 {
		return domain.Node{}, domain.ErrNoEligibleNode
	}
	best := 0
	bestScore := AffinityScore(req, nodes[0])
	for i := 1; i < len(nodes); i++ {
		if s := AffinityScore(req, nodes[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return nodes[best], nil
}

// AffinityScore measures how well an actor fits a node: one point per
// capability shared with each resident actor, a bonus when any resident has
// the same type, and a penalty proportional to the node's load.
func AffinityScore(req Request, node domain.Node) float64 {
	want := mapset.NewSet(req.Capabilities...)
	score := 0.0
	sameType := false
	for _, resident := range node.Actors {
		score += float64(want.Intersect(mapset.NewSet(resident.Capabilities...)).Cardinality())
		if resident.Type == req.ActorType {
			sameType = true
		}
	}
	if sameType {
		score += SameTypeBonus
	}
	return score - LoadPenalty*node.CurrentLoad
}

// ─── Round Robin ────────────────────────────────────────────────────────────

type roundRobin struct {
	cursor atomic.Uint64
}

func (*roundRobin) Kind() Kind { return RoundRobin }

func (r *roundRobin) SelectNode(_ Request, nodes []domain.Node) (domain.Node, error) {
	if len(nodes) == 0 {
		return domain.Node{}, domain.ErrNoEligibleNode
	}
	next := r.cursor.Add(1) - 1
	return nodes[next%uint64(len(nodes))], nil
}

// ─── Consistent Hash ────────────────────────────────────────────────────────

type consistentHash struct{}

func (consistentHash) Kind() Kind { return ConsistentHash }

func (consistentHash) SelectNode(req Request, nodes []domain.Node) (domain.Node, error) {
	if len(nodes) == 0 {
		return domain.Node{}, domain.ErrNoEligibleNode
	}
	return nodes[HashIndex(req.ActorID, len(nodes))], nil
}

// HashIndex maps an id onto [0, n) with a stable 64-bit hash.
func HashIndex(id string, n int) int {
	return int(xxhash.Sum64String(id) % uint64(n))
}

// ─── Actor Selection ────────────────────────────────────────────────────────

// Candidate is an actor considered for a subtask.
type Candidate struct {
	ID           string
	Load         float64
	Capabilities []string
}

// SelectActor keeps only actors holding every required capability and
// returns the least-loaded one. No qualifying actor is an error.
func SelectActor(candidates []Candidate, required []string) (Candidate, error) {
	need := mapset.NewSet(required...)
	best := -1
	for i := range candidates {
		if !mapset.NewSet(candidates[i].Capabilities...).IsSuperset(need) {
			continue
		}
		if best < 0 || candidates[i].Load < candidates[best].Load {
			best = i
		}
	}
	if best < 0 {
		return Candidate{}, fmt.Errorf("%w: requires %v", domain.ErrNoEligibleActor, required)
	}
	return candidates[best], nil
}
