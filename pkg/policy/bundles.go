package policy

import (
	"context"

	"github.com/Jak3Gil/melvin/pkg/beam"
	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/query"
	"github.com/Jak3Gil/melvin/pkg/scoring"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// relation-bias rows per intent.
var (
	defineBias  = scoring.RelBias{Exact: 1.0, Temporal: 0.6, Leap: 0.2, Generalize: 1.0, Default: 0.5}
	whyBias     = scoring.RelBias{Exact: 0.3, Temporal: 1.0, Leap: 0.6, Generalize: 0.3, Default: 0.5}
	compareBias = scoring.RelBias{Exact: 0.8, Temporal: 0.4, Leap: 0.8, Generalize: 1.2, Default: 0.5}
)

// BundleFor maps a classification to its policy bundle: base parameters per
// intent, then a multiplicative complexity adjustment.
func BundleFor(class Classification, weights scoring.Weights) Bundle {
	b := baseBundle(class.Intent, weights)
	return adjustForComplexity(b, class.Complexity)
}

func baseBundle(intent Intent, weights scoring.Weights) Bundle {
	params := beam.DefaultParams()
	b := Bundle{Weights: weights}

	switch intent {
	case IntentDefine:
		params.BeamWidth = 16
		params.MaxDepth = 3
		b.Bias = defineBias
		b.Relations = store.MaskOf(store.RelExact, store.RelGeneralization)
		b.ConfidenceThreshold = 0.6
	case IntentWhy:
		params.BeamWidth = 24
		params.MaxDepth = 5
		b.Bias = whyBias
		b.Relations = store.MaskOf(store.RelTemporal, store.RelLeap, store.RelCauses)
		b.ConfidenceThreshold = 0.5
	case IntentCompare:
		params.BeamWidth = 32
		params.MaxDepth = 4
		b.Bias = compareBias
		b.Relations = store.MaskOf(store.RelExact, store.RelLeap, store.RelGeneralization)
		b.ConfidenceThreshold = 0.7
	case IntentCausal:
		params.BeamWidth = 20
		params.MaxDepth = 6
		b.Bias = whyBias
		b.Relations = store.MaskOf(store.RelTemporal, store.RelLeap, store.RelCauses)
		b.ConfidenceThreshold = 0.5
	case IntentTemporal:
		params.BeamWidth = 16
		params.MaxDepth = 4
		b.Bias = whyBias
		b.Relations = store.MaskOf(store.RelTemporal, store.RelCauses)
		b.ConfidenceThreshold = 0.6
	default: // general and unknown
		params.BeamWidth = 20
		params.MaxDepth = 4
		b.Bias = scoring.NeutralBias()
		b.Relations = store.MaskOf(store.RelExact, store.RelTemporal, store.RelLeap, store.RelGeneralization)
		b.ConfidenceThreshold = 0.5
	}
	b.Beam = params
	return b
}

// adjustForComplexity narrows simple queries and widens complex ones.
func adjustForComplexity(b Bundle, complexity Complexity) Bundle {
	switch complexity {
	case ComplexitySimple:
		b.Beam.BeamWidth = maxInt(8, b.Beam.BeamWidth/2)
		b.Beam.MaxDepth = maxInt(2, int(float64(b.Beam.MaxDepth)*0.7))
	case ComplexityComplex:
		b.Beam.BeamWidth = int(float64(b.Beam.BeamWidth) * 1.5)
		b.Beam.MaxDepth = int(float64(b.Beam.MaxDepth) * 1.3)
		b.Beam.StopThreshold *= 0.8
	}
	return b
}

// Router resolves queries to policies and start nodes against a store.
type Router struct {
	store   store.Store
	weights scoring.Weights
}

// NewRouter creates a router over the store.
func NewRouter(s store.Store, weights scoring.Weights) *Router {
	return &Router{store: s, weights: weights}
}

// SetWeights replaces the scoring weights embedded in produced bundles.
func (r *Router) SetWeights(w scoring.Weights) { r.weights = w }

// Route preprocesses, classifies and resolves one query. The returned query
// carries the focus nodes found in the store; when none exist the caller
// answers "don't know" without invoking the beam engine.
func (r *Router) Route(ctx context.Context, text string) (*query.Query, Classification, Bundle) {
	q := query.New(text)
	class := Classify(text)
	bundle := BundleFor(class, r.weights)
	q.FocusNodes = r.startNodes(ctx, q)
	return q, class, bundle
}

// startNodes hashes each token into its candidate symbol-node ID and keeps
// the ones the store resolves.
func (r *Router) startNodes(ctx context.Context, q *query.Query) []ids.NodeID {
	var focus []ids.NodeID
	seen := make(map[ids.NodeID]struct{})
	for _, tok := range q.Tokens {
		candidate := ids.NodeIDFor(uint32(store.NodeSymbol), 0, []byte(tok))
		if _, dup := seen[candidate]; dup {
			continue
		}
		if _, err := r.store.GetNode(ctx, candidate); err != nil {
			continue
		}
		seen[candidate] = struct{}{}
		focus = append(focus, candidate)
	}
	return focus
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
