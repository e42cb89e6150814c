package mining

import (
	"context"
	"fmt"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/store"
)

func seed(t *testing.T, s store.Store, text string) ids.NodeID {
	t.Helper()
	id, err := s.UpsertNode(context.Background(), &store.Node{Type: store.NodeSymbol, Payload: []byte(text)})
	if err != nil {
		t.Fatalf("UpsertNode(%q) failed: %v", text, err)
	}
	return id
}

func TestPMIPromotesDistantPairToLeap(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	lightning := seed(t, s, "lightning")
	thunder := seed(t, s, "thunder")

	cfg := DefaultConfig()
	cfg.ThetaPMI = 1.0
	m := NewMiner(s, cfg, nil)

	// 100 sequences: lightning and thunder always co-occur at separation 6,
	// beyond the temporal distance cap of 5; fillers vary per sequence.
	for i := 0; i < 100; i++ {
		fillers := make([]ids.NodeID, 5)
		for j := range fillers {
			fillers[j] = seed(t, s, fmt.Sprintf("filler-%d-%d", i, j))
		}
		seq := append([]ids.NodeID{lightning}, fillers...)
		seq = append(seq, thunder)
		m.MineSequence(seq)
	}

	if err := m.RunMiningPass(ctx); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}

	leap := findLeapEdge(t, s, lightning, thunder)
	if leap == nil {
		t.Fatal("no LEAP edge materialized between the high-PMI pair")
	}
	if leap.Layer != 1 {
		t.Errorf("leap layer = %d, want 1", leap.Layer)
	}
	if leap.Flags&store.EdgeInferred == 0 {
		t.Error("leap edge missing the inferred flag")
	}
	if leap.W <= 0 {
		t.Errorf("leap weight = %f, want positive", leap.W)
	}
}

// findLeapEdge looks for a LEAP edge in either direction between the pair.
func findLeapEdge(t *testing.T, s store.Store, a, b ids.NodeID) *store.Edge {
	t.Helper()
	ctx := context.Background()
	for _, pair := range [][2]ids.NodeID{{a, b}, {b, a}} {
		out, err := s.OutEdges(ctx, pair[0], store.MaskOf(store.RelLeap))
		if err != nil {
			t.Fatalf("OutEdges failed: %v", err)
		}
		for _, e := range out {
			if e.Dst == pair[1] {
				return e
			}
		}
	}
	return nil
}

func TestAdjacentPairsDoNotCount(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "a")
	b := seed(t, s, "b")

	m := NewMiner(s, DefaultConfig(), nil)
	for i := 0; i < 50; i++ {
		m.MineSequence([]ids.NodeID{a, b})
	}

	m.mu.Lock()
	pairObservations := len(m.pairCounts)
	m.mu.Unlock()
	if pairObservations != 0 {
		t.Errorf("adjacent pair counted %d times; adjacency belongs to temporal edges", pairObservations)
	}
}

func TestGeneralizationRequiresFrequencyAndDiversity(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	hot := seed(t, s, "hot")
	dry := seed(t, s, "dry")

	cfg := DefaultConfig()
	cfg.ThetaPat = 8
	cfg.ThetaDiv = 0.4
	m := NewMiner(s, cfg, nil)

	// Below the frequency threshold: no generalization may appear.
	for i := 0; i < 5; i++ {
		ctxNode := seed(t, s, fmt.Sprintf("ctx-%d", i))
		m.MineSequence([]ids.NodeID{ctxNode, hot, dry})
	}
	if err := m.RunMiningPass(ctx); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}
	if g := findGeneralization(t, s, hot); g != nil {
		t.Fatal("generalization created below the frequency threshold")
	}

	// Ten diverse occurrences clear both gates.
	for i := 5; i < 10; i++ {
		ctxNode := seed(t, s, fmt.Sprintf("ctx-%d", i))
		m.MineSequence([]ids.NodeID{ctxNode, hot, dry})
	}
	if err := m.RunMiningPass(ctx); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}

	gen := findGeneralization(t, s, hot)
	if gen == nil {
		t.Fatal("no generalization node for a frequent, diverse pattern")
	}
	if gen.Flags&store.NodeGeneralized == 0 {
		t.Error("generalization node missing the generalized flag")
	}
	if gen.Type != store.NodePhrase {
		t.Errorf("two-node pattern type = %d, want phrase", gen.Type)
	}
}

// findGeneralization returns the target of a GENERALIZATION edge out of the
// constituent, if any.
func findGeneralization(t *testing.T, s store.Store, constituent ids.NodeID) *store.Node {
	t.Helper()
	ctx := context.Background()
	out, err := s.OutEdges(ctx, constituent, store.MaskOf(store.RelGeneralization))
	if err != nil {
		t.Fatalf("OutEdges failed: %v", err)
	}
	if len(out) == 0 {
		return nil
	}
	n, err := s.GetNode(ctx, out[0].Dst)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	return n
}

func TestGeneralizationEdgeShape(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	x := seed(t, s, "x")
	y := seed(t, s, "y")

	cfg := DefaultConfig()
	cfg.ThetaPat = 3
	cfg.ThetaDiv = 0.1
	m := NewMiner(s, cfg, nil)
	for i := 0; i < 4; i++ {
		ctxNode := seed(t, s, fmt.Sprintf("varying-%d", i))
		m.MineSequence([]ids.NodeID{ctxNode, x, y})
	}
	if err := m.RunMiningPass(ctx); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}

	out, _ := s.OutEdges(ctx, x, store.MaskOf(store.RelGeneralization))
	if len(out) == 0 {
		t.Fatal("no generalization edge")
	}
	e := out[0]
	if e.Layer != 2 {
		t.Errorf("layer = %d, want 2", e.Layer)
	}
	if e.Flags&store.EdgeGeneralized == 0 {
		t.Error("generalized flag missing")
	}
	if e.WCore != 0.8 {
		t.Errorf("w_core = %f, want 0.8", e.WCore)
	}
	if e.WCtx != 0 {
		t.Errorf("w_ctx = %f, want 0", e.WCtx)
	}
}

func TestCausalAnnotationBand(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	rain := seed(t, s, "rain")
	wet := seed(t, s, "wet")

	e := &store.Edge{Src: rain, Dst: wet, Rel: store.RelTemporal, WCore: 0.5, WCtx: 0.5}
	e.RefreshW()
	edgeID, err := s.UpsertEdge(ctx, e)
	if err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	m := NewMiner(s, DefaultConfig(), nil)
	// rain leads wet 7 times, lags 3: strength 0.7, inside [0.6, 0.9].
	for i := 0; i < 7; i++ {
		m.MineSequence([]ids.NodeID{rain, wet})
	}
	for i := 0; i < 3; i++ {
		m.MineSequence([]ids.NodeID{wet, rain})
	}
	if err := m.RunMiningPass(ctx); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}

	annotated, _ := s.GetEdge(ctx, edgeID)
	if annotated.Flags&store.EdgeCausal == 0 {
		t.Error("edge in the causal band not annotated")
	}
}

func TestPerfectLeadLagRejectedAsSpurious(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	a := seed(t, s, "a")
	b := seed(t, s, "b")

	e := &store.Edge{Src: a, Dst: b, Rel: store.RelTemporal, WCore: 0.5, WCtx: 0.5}
	e.RefreshW()
	edgeID, err := s.UpsertEdge(ctx, e)
	if err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	m := NewMiner(s, DefaultConfig(), nil)
	for i := 0; i < 10; i++ {
		m.MineSequence([]ids.NodeID{a, b})
	}
	if err := m.RunMiningPass(ctx); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}

	edge, _ := s.GetEdge(ctx, edgeID)
	if edge.Flags&store.EdgeCausal != 0 {
		t.Error("perfect 1.0 lead/lag strength should be rejected as spurious")
	}
}

func TestStatsDecayDropsRarePatterns(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "a")
	b := seed(t, s, "b")

	cfg := DefaultConfig()
	cfg.WindowSize = 0 // everything is immediately stale
	cfg.DecayFactor = 0.1
	m := NewMiner(s, cfg, nil)

	m.MineSequence([]ids.NodeID{a, b})
	if m.PatternCount() == 0 {
		t.Fatal("pattern not tracked")
	}
	if err := m.RunMiningPass(context.Background()); err != nil {
		t.Fatalf("RunMiningPass failed: %v", err)
	}
	if m.PatternCount() != 0 {
		t.Errorf("stale single-occurrence pattern survived decay: %d", m.PatternCount())
	}
}
