package nlg

import (
	"context"
	"strings"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/beam"
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

func link(t *testing.T, s store.Store, src, dst ids.NodeID, rel store.Rel) *store.Edge {
	t.Helper()
	e := &store.Edge{Src: src, Dst: dst, Rel: rel, WCore: 0.9, WCtx: 0.9}
	e.RefreshW()
	if _, err := s.UpsertEdge(context.Background(), e); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}
	stored, err := s.GetEdge(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetEdge failed: %v", err)
	}
	return stored
}

func pathOf(nodes []ids.NodeID, edges ...*store.Edge) *beam.Path {
	return &beam.Path{Edges: edges, Nodes: nodes, Score: 3.0, Confidence: 0.9, Complete: true}
}

func TestRenderSingleHop(t *testing.T) {
	s := store.NewMemStore()
	cats := seed(t, s, "cats")
	mammals := seed(t, s, "mammals")
	edge := link(t, s, cats, mammals, store.RelExact)

	r := NewRenderer(s, DefaultConfig())
	got := r.RenderPath(context.Background(), pathOf([]ids.NodeID{cats, mammals}, edge))

	if !strings.HasPrefix(got, "Cats is mammals") {
		t.Errorf("rendering = %q, want prefix %q", got, "Cats is mammals")
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("rendering %q missing terminal punctuation", got)
	}
}

func TestRenderTwoHopOrdering(t *testing.T) {
	s := store.NewMemStore()
	cats := seed(t, s, "cats")
	mammals := seed(t, s, "mammals")
	animals := seed(t, s, "animals")
	e1 := link(t, s, cats, mammals, store.RelExact)
	e2 := link(t, s, mammals, animals, store.RelGeneralization)

	r := NewRenderer(s, DefaultConfig())
	got := strings.ToLower(r.RenderPath(context.Background(), pathOf([]ids.NodeID{cats, mammals, animals}, e1, e2)))

	iCats := strings.Index(got, "cats")
	iMammals := strings.Index(got, "mammals")
	iAnimals := strings.Index(got, "animals")
	if iCats < 0 || iMammals < 0 || iAnimals < 0 {
		t.Fatalf("rendering %q missing a node text", got)
	}
	if !(iCats < iMammals && iMammals < iAnimals) {
		t.Errorf("rendering %q lists nodes out of order", got)
	}
	if strings.Count(got, "mammals") != 1 {
		t.Errorf("shared node emitted twice in %q", got)
	}
}

func TestRenderConnectors(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "smoke")
	b := seed(t, s, "fire")

	cases := []struct {
		rel  store.Rel
		want string
	}{
		{store.RelLeap, "might relate to"},
		{store.RelGeneralization, "is a type of"},
	}
	r := NewRenderer(s, DefaultConfig())
	for _, tc := range cases {
		edge := link(t, s, a, b, tc.rel)
		got := r.RenderPath(context.Background(), pathOf([]ids.NodeID{a, b}, edge))
		if !strings.Contains(got, tc.want) {
			t.Errorf("relation %v rendering %q missing connector %q", tc.rel, got, tc.want)
		}
	}
}

func TestRenderTemporalFlows(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "rain")
	b := seed(t, s, "flood")
	edge := link(t, s, a, b, store.RelTemporal)

	r := NewRenderer(s, DefaultConfig())
	got := r.RenderPath(context.Background(), pathOf([]ids.NodeID{a, b}, edge))
	if got != "Rain flood." {
		t.Errorf("temporal rendering = %q, want words to flow without a connector", got)
	}
}

func TestRenderPure(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "alpha")
	b := seed(t, s, "beta")
	edge := link(t, s, a, b, store.RelExact)

	r := NewRenderer(s, DefaultConfig())
	p := pathOf([]ids.NodeID{a, b}, edge)
	first := r.RenderPath(context.Background(), p)
	second := r.RenderPath(context.Background(), p)
	if first != second {
		t.Errorf("identical inputs rendered differently: %q vs %q", first, second)
	}
}

func TestReservedTokensSkipped(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "alpha")
	unk := seed(t, s, "<UNK>")
	edge := link(t, s, a, unk, store.RelExact)

	r := NewRenderer(s, DefaultConfig())
	got := r.RenderPath(context.Background(), pathOf([]ids.NodeID{a, unk}, edge))
	if strings.Contains(got, "<UNK>") {
		t.Errorf("reserved token leaked into rendering %q", got)
	}
}

func TestEmptyResultsGiveInsufficientMessage(t *testing.T) {
	s := store.NewMemStore()
	r := NewRenderer(s, DefaultConfig())

	got := r.RenderResponse(context.Background(), nil, "define")
	if got != DefaultConfig().InsufficientMessage {
		t.Errorf("empty path set rendered %q", got)
	}
}

func TestLowConfidenceFallback(t *testing.T) {
	s := store.NewMemStore()
	a := seed(t, s, "comet")
	b := seed(t, s, "omen")
	edge := link(t, s, a, b, store.RelLeap)

	r := NewRenderer(s, DefaultConfig())
	p := pathOf([]ids.NodeID{a, b}, edge)
	p.Confidence = 0.1 // below the confidence floor

	got := r.RenderResponse(context.Background(), []*beam.Path{p}, "general")
	if !strings.HasPrefix(got, "Based on available information:") {
		t.Errorf("low-confidence response = %q, want the cited-clause fallback", got)
	}
	if !strings.Contains(got, "comet suggests omen") {
		t.Errorf("fallback %q missing the leap clause template", got)
	}
}

func TestTemplateFallbackOnDegenerateRendering(t *testing.T) {
	s := store.NewMemStore()
	// Single-character nodes make the direct rendering shorter than the
	// degeneracy floor, forcing the template path.
	a := seed(t, s, "x")
	b := seed(t, s, "y")
	edge := link(t, s, a, b, store.RelTemporal)

	r := NewRenderer(s, DefaultConfig())
	p := pathOf([]ids.NodeID{a, b}, edge)
	got := r.RenderResponse(context.Background(), []*beam.Path{p}, "why")
	if !strings.Contains(got, "leads to") {
		t.Errorf("degenerate rendering did not fall back to templates: %q", got)
	}
}
