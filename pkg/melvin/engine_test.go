package melvin

import (
	"context"
	"strings"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// seedTaxonomy builds cats --EXACT-> mammals --GENERALIZATION-> animals.
func seedTaxonomy(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	s := e.Store()

	nodeIDs := make(map[string]ids.NodeID)
	for _, name := range []string{"cats", "mammals", "animals"} {
		id, err := s.UpsertNode(ctx, &store.Node{Type: store.NodeSymbol, Payload: []byte(name)})
		if err != nil {
			t.Fatalf("seed node %q failed: %v", name, err)
		}
		nodeIDs[name] = id
	}

	edges := []struct {
		src, dst string
		rel      store.Rel
	}{
		{"cats", "mammals", store.RelExact},
		{"mammals", "animals", store.RelGeneralization},
	}
	for _, def := range edges {
		edge := &store.Edge{
			Src:   nodeIDs[def.src],
			Dst:   nodeIDs[def.dst],
			Rel:   def.rel,
			WCore: 0.9,
		}
		edge.RefreshW()
		if _, err := s.UpsertEdge(ctx, edge); err != nil {
			t.Fatalf("seed edge %s->%s failed: %v", def.src, def.dst, err)
		}
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New("", DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestReasonDefineSingleHop(t *testing.T) {
	e := newEngine(t)
	seedTaxonomy(t, e)

	answer, err := e.Reason(context.Background(), "What are cats?")
	if err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if !strings.HasPrefix(answer, "Cats is mammals") {
		t.Errorf("answer = %q, want prefix %q", answer, "Cats is mammals")
	}
	lower := strings.ToLower(answer)
	if !strings.Contains(lower, "cats") || !strings.Contains(lower, "mammals") {
		t.Errorf("answer %q missing a seeded node text", answer)
	}
}

func TestReasonTwoHop(t *testing.T) {
	e := newEngine(t)
	seedTaxonomy(t, e)

	answer, err := e.Reason(context.Background(), "Are cats animals?")
	if err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	lower := strings.ToLower(answer)
	iCats := strings.Index(lower, "cats")
	iMammals := strings.Index(lower, "mammals")
	iAnimals := strings.Index(lower, "animals")
	if iCats < 0 || iMammals < 0 || iAnimals < 0 {
		t.Fatalf("answer %q missing node texts", answer)
	}
	if !(iCats < iMammals && iMammals < iAnimals) {
		t.Errorf("answer %q does not follow the reasoning chain order", answer)
	}
}

func TestReasonUnknownTokens(t *testing.T) {
	e := newEngine(t)
	seedTaxonomy(t, e)

	answer, err := e.Reason(context.Background(), "quasar neutrino flux")
	if err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if answer != DefaultConfig().NLG.InsufficientMessage {
		t.Errorf("unknown tokens answered %q, want the insufficient-information response", answer)
	}
}

func TestReasonEmptyText(t *testing.T) {
	e := newEngine(t)
	answer, err := e.Reason(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Reason on empty text failed: %v", err)
	}
	if answer != DefaultConfig().NLG.InsufficientMessage {
		t.Errorf("empty text answered %q", answer)
	}
}

func TestReasonReinforcesWinningPath(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedTaxonomy(t, e)

	before, _ := e.EdgeCount(ctx)
	if _, err := e.Reason(ctx, "What are cats?"); err != nil {
		t.Fatalf("Reason failed: %v", err)
	}

	after, _ := e.EdgeCount(ctx)
	if after < before {
		t.Errorf("edge count dropped from %d to %d", before, after)
	}
	paths, _ := e.PathCount(ctx)
	if paths == 0 {
		t.Error("winning path was not persisted")
	}

	// The traversed edge's support must have grown.
	catsID := ids.NodeIDFor(uint32(store.NodeSymbol), 0, []byte("cats"))
	out, err := e.Store().OutEdges(ctx, catsID, store.AllRelations())
	if err != nil || len(out) == 0 {
		t.Fatalf("adjacency lookup failed: %v", err)
	}
	if out[0].Count < 2 {
		t.Errorf("edge count = %d, want reinforcement past the seed", out[0].Count)
	}
}

func TestLearnBuildsGraph(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	if err := e.Learn(ctx, "The cat sat on the mat"); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}

	nodes, _ := e.NodeCount(ctx)
	// "the cat sat on the mat" tokenizes to six tokens, five distinct.
	if nodes != 5 {
		t.Errorf("node count = %d, want 5 distinct symbols", nodes)
	}
	edges, _ := e.EdgeCount(ctx)
	if edges != 5 {
		t.Errorf("edge count = %d, want 5 consecutive links", edges)
	}

	// Learning the same text again deduplicates.
	if err := e.Learn(ctx, "The cat sat on the mat"); err != nil {
		t.Fatalf("second Learn failed: %v", err)
	}
	nodes2, _ := e.NodeCount(ctx)
	if nodes2 != nodes {
		t.Errorf("repeated learning grew nodes from %d to %d", nodes, nodes2)
	}
}

func TestLearnThenReason(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	if err := e.Learn(ctx, "rain causes floods"); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	answer, err := e.Reason(ctx, "What happens after rain?")
	if err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if answer == DefaultConfig().NLG.InsufficientMessage {
		t.Errorf("learned knowledge not reachable: %q", answer)
	}
	if !strings.Contains(strings.ToLower(answer), "rain") {
		t.Errorf("answer %q missing the focus token", answer)
	}
}

func TestLearnFromSequence(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s := e.Store()

	var seq []ids.NodeID
	for _, name := range []string{"spark", "flame", "smoke"} {
		id, err := s.UpsertNode(ctx, &store.Node{Type: store.NodeSymbol, Payload: []byte(name)})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		seq = append(seq, id)
	}

	if err := e.LearnFromSequence(ctx, seq); err != nil {
		t.Fatalf("LearnFromSequence failed: %v", err)
	}
	out, err := s.OutEdges(ctx, seq[0], store.MaskOf(store.RelTemporal))
	if err != nil || len(out) != 1 {
		t.Errorf("sequence did not create temporal edges: %d, %v", len(out), err)
	}
}

func TestDecayPassAndMaintenance(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedTaxonomy(t, e)

	if err := e.DecayPass(ctx); err != nil {
		t.Fatalf("DecayPass failed: %v", err)
	}
	if err := e.RunMaintenancePass(ctx); err != nil {
		t.Fatalf("RunMaintenancePass failed: %v", err)
	}

	// Seeded edges carry enough weight to survive maintenance.
	edges, _ := e.EdgeCount(ctx)
	if edges != 2 {
		t.Errorf("edge count after maintenance = %d, want 2", edges)
	}
}

func TestConcurrentReasonCalls(t *testing.T) {
	e := newEngine(t)
	seedTaxonomy(t, e)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := e.Reason(context.Background(), "What are cats?")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent reason failed: %v", err)
		}
	}
}

func TestExternalScorerReinforces(t *testing.T) {
	ctx := context.Background()
	called := false
	e, err := New("", DefaultConfig(), WithExternalScorer(func(q, a string) float64 {
		called = true
		return 1.0
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()
	seedTaxonomy(t, e)

	if _, err := e.Reason(ctx, "What are cats?"); err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if !called {
		t.Error("external scorer was not invoked")
	}
}

func TestIngestorBackpressure(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	ing := NewIngestor(e, 2)
	texts := []string{
		"storms bring rain",
		"rain brings floods",
		"floods damage crops",
		"crops feed towns",
		"towns store grain",
	}
	for _, text := range texts {
		if err := ing.Submit(ctx, text); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	ing.Close()

	nodes, _ := e.NodeCount(ctx)
	if nodes == 0 {
		t.Error("ingested observations never reached the store")
	}
	if err := ing.Submit(ctx, "late"); err == nil {
		t.Error("closed ingestor accepted work")
	}
}
