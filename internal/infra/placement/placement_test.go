package placement

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tutu-network/troupe/internal/domain"
)

func node(id string, load float64, actors ...domain.ActorRef) domain.Node {
	return domain.Node{ID: id, Capacity: 8, CurrentLoad: load, Status: domain.NodeOnline, Actors: actors}
}

func mustNew(t *testing.T, k Kind) Strategy {
	t.Helper()
	s, err := New(k)
	if err != nil {
		t.Fatalf("New(%s) error: %v", k, err)
	}
	return s
}

// ─── Kinds ──────────────────────────────────────────────────────────────────

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Weighted, Affinity, RoundRobin, ConsistentHash} {
		if got, err := ParseKind(string(k)); err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("random"); err == nil {
		t.Error("ParseKind(random) should fail")
	}
}

func TestEmptyCandidates(t *testing.T) {
	for _, k := range []Kind{Weighted, Affinity, RoundRobin, ConsistentHash} {
		_, err := mustNew(t, k).SelectNode(Request{ActorID: "a"}, nil)
		if !errors.Is(err, domain.ErrNoEligibleNode) {
			t.Errorf("%s: SelectNode(empty) error = %v, want ErrNoEligibleNode", k, err)
		}
	}
}

func TestEligible(t *testing.T) {
	offline := node("off", 0)
	offline.Status = domain.NodeOffline
	full := node("full", 0)
	full.Capacity = 0
	nodes := []domain.Node{node("a", 0.1), offline, full, node("b", 0.2)}

	got := Eligible(nodes)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Eligible() = %v, want [a b]", got)
	}
}

// ─── Weighted ───────────────────────────────────────────────────────────────

func TestWeighted_PicksLeastLoaded(t *testing.T) {
	nodes := []domain.Node{node("n1", 0.2), node("n2", 0.5), node("n3", 0.1)}
	got, err := mustNew(t, Weighted).SelectNode(Request{}, nodes)
	if err != nil {
		t.Fatalf("SelectNode() error: %v", err)
	}
	if got.ID != "n3" {
		t.Errorf("SelectNode() = %s, want n3", got.ID)
	}
}

func TestWeighted_AscendingLoadsAlwaysFirst(t *testing.T) {
	s := mustNew(t, Weighted)
	for n := 1; n <= 6; n++ {
		nodes := make([]domain.Node, n)
		for i := range nodes {
			nodes[i] = node(fmt.Sprintf("n%d", i), 0.1*float64(i))
		}
		// Present in reverse so the minimum is last.
		for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
			nodes[i], nodes[j] = nodes[j], nodes[i]
		}
		got, _ := s.SelectNode(Request{}, nodes)
		if got.ID != "n0" {
			t.Errorf("n=%d: SelectNode() = %s, want n0", n, got.ID)
		}
	}
}

func TestWeighted_TieFirstSeen(t *testing.T) {
	nodes := []domain.Node{node("x", 0.3), node("y", 0.3)}
	got, _ := mustNew(t, Weighted).SelectNode(Request{}, nodes)
	if got.ID != "x" {
		t.Errorf("tie should resolve to first-seen, got %s", got.ID)
	}
}

// ─── Affinity ───────────────────────────────────────────────────────────────

func TestAffinityScore(t *testing.T) {
	req := Request{ActorType: "hasher", Capabilities: []string{"hash", "compress"}}
	n := node("n", 0.5,
		domain.ActorRef{ID: "a", Type: "hasher", Capabilities: []string{"hash"}},
		domain.ActorRef{ID: "b", Type: "signer", Capabilities: []string{"hash", "compress", "sign"}},
	)
	// shared: 1 + 2, same type: +5, load: -1
	if got, want := AffinityScore(req, n), 7.0; got != want {
		t.Errorf("AffinityScore() = %v, want %v", got, want)
	}
}

func TestAffinity_PrefersSameType(t *testing.T) {
	req := Request{ActorType: "hasher", Capabilities: []string{"hash"}}
	nodes := []domain.Node{
		node("empty", 0),
		node("colocated", 0.4, domain.ActorRef{ID: "h1", Type: "hasher", Capabilities: []string{"hash"}}),
	}
	got, err := mustNew(t, Affinity).SelectNode(req, nodes)
	if err != nil {
		t.Fatalf("SelectNode() error: %v", err)
	}
	if got.ID != "colocated" {
		t.Errorf("SelectNode() = %s, want colocated", got.ID)
	}
}

func TestAffinity_TieFirstSeen(t *testing.T) {
	nodes := []domain.Node{node("p", 0), node("q", 0)}
	got, _ := mustNew(t, Affinity).SelectNode(Request{ActorType: "t"}, nodes)
	if got.ID != "p" {
		t.Errorf("tie should resolve to first-seen, got %s", got.ID)
	}
}

// ─── Round Robin ────────────────────────────────────────────────────────────

func TestRoundRobin_Wraps(t *testing.T) {
	nodes := []domain.Node{node("a", 0), node("b", 0), node("c", 0)}
	s := mustNew(t, RoundRobin)

	var got []string
	for i := 0; i < len(nodes)+1; i++ {
		n, err := s.SelectNode(Request{}, nodes)
		if err != nil {
			t.Fatalf("SelectNode() error: %v", err)
		}
		got = append(got, n.ID)
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestRoundRobin_CursorPerInstance(t *testing.T) {
	nodes := []domain.Node{node("a", 0), node("b", 0)}
	s1 := mustNew(t, RoundRobin)
	s2 := mustNew(t, RoundRobin)
	s1.SelectNode(Request{}, nodes)
	got, _ := s2.SelectNode(Request{}, nodes)
	if got.ID != "a" {
		t.Errorf("fresh instance should start at the first node, got %s", got.ID)
	}
}

// ─── Consistent Hash ────────────────────────────────────────────────────────

func TestConsistentHash_Deterministic(t *testing.T) {
	nodes := []domain.Node{node("a", 0), node("b", 0), node("c", 0), node("d", 0)}
	s1 := mustNew(t, ConsistentHash)
	s2 := mustNew(t, ConsistentHash)

	ids := []string{"actor-1", "actor-2", "7d4f0c8e", "zzz"}
	first := make(map[string]string)
	for _, id := range ids {
		n, _ := s1.SelectNode(Request{ActorID: id}, nodes)
		first[id] = n.ID
	}
	// Reverse call order, different instance: same answers.
	for i := len(ids) - 1; i >= 0; i-- {
		n, _ := s2.SelectNode(Request{ActorID: ids[i]}, nodes)
		if n.ID != first[ids[i]] {
			t.Errorf("%s: got %s, want %s", ids[i], n.ID, first[ids[i]])
		}
	}
}

func TestHashIndex_InRange(t *testing.T) {
	for n := 1; n < 10; n++ {
		for i := 0; i < 50; i++ {
			idx := HashIndex(fmt.Sprintf("id-%d", i), n)
			if idx < 0 || idx >= n {
				t.Fatalf("HashIndex out of range: %d for n=%d", idx, n)
			}
		}
	}
}

// ─── Actor Selection ────────────────────────────────────────────────────────

func TestSelectActor_CapabilityFilterThenLoad(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Load: 0.1, Capabilities: []string{"reverse"}},
		{ID: "b", Load: 0.6, Capabilities: []string{"hash", "reverse"}},
		{ID: "c", Load: 0.3, Capabilities: []string{"hash"}},
	}
	got, err := SelectActor(cands, []string{"hash"})
	if err != nil {
		t.Fatalf("SelectActor() error: %v", err)
	}
	if got.ID != "c" {
		t.Errorf("SelectActor() = %s, want c", got.ID)
	}
}

func TestSelectActor_NoneQualifies(t *testing.T) {
	cands := []Candidate{{ID: "a", Capabilities: []string{"reverse"}}}
	_, err := SelectActor(cands, []string{"hash"})
	if !errors.Is(err, domain.ErrNoEligibleActor) {
		t.Errorf("SelectActor() error = %v, want ErrNoEligibleActor", err)
	}
}

func TestSelectActor_NoRequirement(t *testing.T) {
	cands := []Candidate{{ID: "a", Load: 0.5}, {ID: "b", Load: 0.5}}
	got, err := SelectActor(cands, nil)
	if err != nil || got.ID != "a" {
		t.Errorf("SelectActor() = %s, %v; want a", got.ID, err)
	}
}
