package policy

import (
	"context"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/scoring"
	"github.com/Jak3Gil/melvin/pkg/store"
)

func TestIntentClassification(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"What is gravity?", IntentDefine},
		{"What are cats?", IntentDefine},
		{"Are cats animals?", IntentDefine},
		{"Define entropy", IntentDefine},
		{"Why does thunder follow lightning?", IntentWhy},
		{"How does photosynthesis work?", IntentWhy},
		{"Compare cats and dogs", IntentCompare},
		{"What causes rain?", IntentCausal},
		{"What happens after sunset?", IntentTemporal},
		{"tell me something interesting", IntentGeneral},
	}
	for _, tc := range cases {
		got := Classify(tc.text)
		if got.Intent != tc.want {
			t.Errorf("Classify(%q).Intent = %s, want %s", tc.text, got.Intent, tc.want)
		}
	}
}

func TestComplexityClassification(t *testing.T) {
	simple := Classify("What is rain?")
	if simple.Complexity != ComplexitySimple {
		t.Errorf("short query complexity = %s, want simple", simple.Complexity)
	}

	complex := Classify(`If "Global Warming" continues and "Sea Levels" rise, which is worse for Coastal Cities and Island Nations, and why does it matter more than Inland Drought?`)
	if complex.Complexity == ComplexitySimple {
		t.Errorf("conditional multi-entity query complexity = %s, want above simple", complex.Complexity)
	}
}

func TestEntityExtraction(t *testing.T) {
	class := Classify(`Compare "dark matter" and Newton`)
	foundQuoted := false
	foundCapitalized := false
	for _, e := range class.Entities {
		if e == "dark matter" {
			foundQuoted = true
		}
		if e == "Newton" {
			foundCapitalized = true
		}
	}
	if !foundQuoted {
		t.Errorf("quoted entity missing from %v", class.Entities)
	}
	if !foundCapitalized {
		t.Errorf("capitalized entity missing from %v", class.Entities)
	}
}

func TestBundleDivergenceAcrossIntents(t *testing.T) {
	w := scoring.DefaultWeights()
	define := BundleFor(Classification{Intent: IntentDefine, Complexity: ComplexityModerate}, w)
	why := BundleFor(Classification{Intent: IntentWhy, Complexity: ComplexityModerate}, w)

	if define.Beam.BeamWidth != 16 || why.Beam.BeamWidth != 24 {
		t.Errorf("beam widths = %d/%d, want 16/24", define.Beam.BeamWidth, why.Beam.BeamWidth)
	}
	if define.Relations == why.Relations {
		t.Error("define and why should traverse different relation masks")
	}
	if !define.Relations.Test(store.RelExact) || !define.Relations.Test(store.RelGeneralization) {
		t.Error("define mask missing exact/generalization")
	}
	if define.Relations.Test(store.RelTemporal) {
		t.Error("define mask should exclude temporal")
	}
	if !why.Relations.Test(store.RelTemporal) || !why.Relations.Test(store.RelLeap) {
		t.Error("why mask missing temporal/leap")
	}
	if define.Bias.Exact == why.Bias.Exact {
		t.Error("relation-bias rows should differ across intents")
	}
}

func TestComplexityAdjustment(t *testing.T) {
	w := scoring.DefaultWeights()
	base := BundleFor(Classification{Intent: IntentWhy, Complexity: ComplexityModerate}, w)
	simple := BundleFor(Classification{Intent: IntentWhy, Complexity: ComplexitySimple}, w)
	complex := BundleFor(Classification{Intent: IntentWhy, Complexity: ComplexityComplex}, w)

	if simple.Beam.BeamWidth >= base.Beam.BeamWidth {
		t.Error("simple queries should narrow the beam")
	}
	if simple.Beam.MaxDepth >= base.Beam.MaxDepth {
		t.Error("simple queries should shorten the depth")
	}
	if complex.Beam.BeamWidth <= base.Beam.BeamWidth {
		t.Error("complex queries should widen the beam")
	}
	if complex.Beam.StopThreshold >= base.Beam.StopThreshold {
		t.Error("complex queries should tighten the stop threshold")
	}
}

func TestComplexityAdjustmentFloors(t *testing.T) {
	w := scoring.DefaultWeights()
	simple := BundleFor(Classification{Intent: IntentDefine, Complexity: ComplexitySimple}, w)
	if simple.Beam.BeamWidth < 8 {
		t.Errorf("beam width %d below floor", simple.Beam.BeamWidth)
	}
	if simple.Beam.MaxDepth < 2 {
		t.Errorf("max depth %d below floor", simple.Beam.MaxDepth)
	}
}

func TestRouteResolvesFocusNodes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	if _, err := s.UpsertNode(ctx, &store.Node{Type: store.NodeSymbol, Payload: []byte("cats")}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	r := NewRouter(s, scoring.DefaultWeights())
	q, class, bundle := r.Route(ctx, "What are cats?")

	if class.Intent != IntentDefine {
		t.Errorf("intent = %s, want define", class.Intent)
	}
	if len(q.FocusNodes) != 1 {
		t.Fatalf("focus nodes = %d, want 1 (only 'cats' exists)", len(q.FocusNodes))
	}
	if bundle.ConfidenceThreshold != 0.6 {
		t.Errorf("define confidence threshold = %f, want 0.6", bundle.ConfidenceThreshold)
	}
}

func TestRouteNoFocusNodes(t *testing.T) {
	r := NewRouter(store.NewMemStore(), scoring.DefaultWeights())
	q, _, _ := r.Route(context.Background(), "completely unknown words")
	if len(q.FocusNodes) != 0 {
		t.Errorf("empty store resolved %d focus nodes", len(q.FocusNodes))
	}
}
