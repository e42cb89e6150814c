package scoring

import (
	"math"
	"testing"

	"github.com/Jak3Gil/melvin/pkg/query"
	"github.com/Jak3Gil/melvin/pkg/store"
)

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Sigmoid(0) = %f, want 0.5", got)
	}
	if Sigmoid(10) <= Sigmoid(-10) {
		t.Error("sigmoid not monotone")
	}
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1, 2, 3})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("softmax sums to %f", sum)
	}
	if !(probs[2] > probs[1] && probs[1] > probs[0]) {
		t.Error("softmax not order preserving")
	}
	if Softmax(nil) != nil {
		t.Error("empty softmax should be nil")
	}
	// Large logits must not overflow.
	big := Softmax([]float64{1000, 1001})
	if math.IsNaN(big[0]) || math.IsNaN(big[1]) {
		t.Error("softmax overflowed on large logits")
	}
}

func TestRelBiasRows(t *testing.T) {
	bias := RelBias{Exact: 1.0, Temporal: 0.6, Leap: 0.2, Generalize: 1.0, Default: 0.5}
	if bias.For(store.RelExact) != 1.0 {
		t.Error("exact bias wrong")
	}
	if bias.For(store.RelLeap) != 0.2 {
		t.Error("leap bias wrong")
	}
	if bias.For(store.RelCauses) != bias.For(store.RelTemporal) {
		t.Error("causes should ride the temporal bias")
	}
	if bias.For(store.RelPartOf) != 0.5 {
		t.Error("non-core relation should use the default bias")
	}
}

func TestNodePriorAnchorBonus(t *testing.T) {
	w := DefaultWeights()
	q := query.New("what is gravity")

	plain := &store.Node{Type: store.NodeSymbol, Payload: []byte("gravity")}
	anchored := &store.Node{Type: store.NodeSymbol, Payload: []byte("gravity"), Flags: store.NodeAnchor}

	if w.NodePrior(q, anchored, 0) <= w.NodePrior(q, plain, 0) {
		t.Error("anchor bonus missing from node prior")
	}
	if w.NodePrior(q, plain, 50) <= w.NodePrior(q, plain, 0) {
		t.Error("degree frequency proxy missing from node prior")
	}
}

func TestStepScorePrefersStrongEdges(t *testing.T) {
	w := DefaultWeights()
	q := query.New("why does thunder follow lightning")
	bias := NeutralBias()
	dst := &store.Node{Type: store.NodeSymbol, Payload: []byte("thunder")}

	strong := &store.Edge{Rel: store.RelTemporal, WCore: 0.9, WCtx: 0.9}
	weak := &store.Edge{Rel: store.RelTemporal, WCore: 0.1, WCtx: 0.1}

	if w.StepScore(q, strong, dst, bias) <= w.StepScore(q, weak, dst, bias) {
		t.Error("stronger edge should score higher")
	}
}

func TestPathScoreComponents(t *testing.T) {
	w := DefaultWeights()

	base := w.PathScore(0.5, 2.0, 0, 0)
	withSupport := w.PathScore(0.5, 2.0, 3, 0)
	if withSupport <= base {
		t.Error("alternative-path support should raise the score")
	}
	withRepeats := w.PathScore(0.5, 2.0, 0, 2)
	if withRepeats >= base {
		t.Error("revisits should lower the score")
	}
}

func TestConfidenceBounds(t *testing.T) {
	for _, score := range []float64{-100, -1, 0, 1, 100} {
		c := Confidence(score, 0)
		if c < 0 || c > 1 {
			t.Errorf("confidence %f out of [0,1] for score %f", c, score)
		}
	}
	if Confidence(1, 2) <= Confidence(1, 0) {
		t.Error("support should raise confidence")
	}
}
