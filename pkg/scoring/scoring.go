// Package scoring implements the three scoring levels used by the beam
// engine: node priors, per-step edge scores and whole-path scores. Every
// function is pure in its inputs and the configured weights.
package scoring

import (
	"math"

	"github.com/Jak3Gil/melvin/pkg/fingerprint"
	"github.com/Jak3Gil/melvin/pkg/query"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Weights holds every tunable scoring coefficient.
type Weights struct {
	// Node prior.
	BetaText   float64 `yaml:"beta_text"`
	BetaFreq   float64 `yaml:"beta_freq"`
	BetaAnchor float64 `yaml:"beta_anchor"`

	// Edge step.
	GammaRel  float64 `yaml:"gamma_rel"`
	GammaSem  float64 `yaml:"gamma_sem"`
	GammaCtx  float64 `yaml:"gamma_ctx"`
	GammaCore float64 `yaml:"gamma_core"`
	GammaLen  float64 `yaml:"gamma_len"`

	// Path.
	DeltaStart   float64 `yaml:"delta_start"`
	DeltaSupport float64 `yaml:"delta_support"`
	DeltaRedund  float64 `yaml:"delta_redund"`
}

// DefaultWeights returns the tuned defaults.
func DefaultWeights() Weights {
	return Weights{
		BetaText:     1.0,
		BetaFreq:     0.3,
		BetaAnchor:   2.0,
		GammaRel:     1.0,
		GammaSem:     1.5,
		GammaCtx:     0.8,
		GammaCore:    1.2,
		GammaLen:     0.1,
		DeltaStart:   1.0,
		DeltaSupport: 0.5,
		DeltaRedund:  0.3,
	}
}

// RelBias is one per-intent row of relation preference multipliers. Default
// covers relations outside the core four.
type RelBias struct {
	Exact      float64 `yaml:"exact"`
	Temporal   float64 `yaml:"temporal"`
	Leap       float64 `yaml:"leap"`
	Generalize float64 `yaml:"generalize"`
	Default    float64 `yaml:"default"`
}

// For returns the bias multiplier for a relation. CAUSES rides the temporal
// bias since causal edges answer the same question shapes.
func (b RelBias) For(rel store.Rel) float64 {
	switch rel {
	case store.RelExact:
		return b.Exact
	case store.RelTemporal:
		return b.Temporal
	case store.RelLeap:
		return b.Leap
	case store.RelGeneralization:
		return b.Generalize
	case store.RelCauses:
		return b.Temporal
	}
	return b.Default
}

// NeutralBias treats all relations equally.
func NeutralBias() RelBias {
	return RelBias{Exact: 1, Temporal: 1, Leap: 1, Generalize: 1, Default: 0.5}
}

// NodePrior computes P(n | Q): a sigmoid over semantic similarity, a
// log-degree frequency proxy and the anchor bonus.
func (w Weights) NodePrior(q *query.Query, n *store.Node, outDegree int) float64 {
	sim := fingerprint.Cosine(q.Fingerprint, fingerprint.Compute(n.Text()))
	score := w.BetaText*sim + w.BetaFreq*math.Log1p(float64(outDegree))
	if n.IsAnchor() {
		score += w.BetaAnchor
	}
	return Sigmoid(score)
}

// StepScore scores traversing one edge given the query and the intent's
// relation-bias row. The step penalty is one unit per step.
func (w Weights) StepScore(q *query.Query, e *store.Edge, dst *store.Node, bias RelBias) float64 {
	var sem float64
	if dst != nil {
		sem = fingerprint.Cosine(q.Fingerprint, fingerprint.Compute(dst.Text()))
	}
	return w.GammaRel*bias.For(e.Rel) +
		w.GammaSem*sem +
		w.GammaCtx*Sigmoid(float64(e.WCtx)) +
		w.GammaCore*Sigmoid(float64(e.WCore)) -
		w.GammaLen
}

// PathScore combines the start prior, accumulated step scores, support from
// alternative routes to the same end node and the revisit penalty.
func (w Weights) PathScore(startPrior float64, stepSum float64, altPaths int, repeats int) float64 {
	return w.DeltaStart*startPrior +
		stepSum +
		w.DeltaSupport*math.Log1p(float64(altPaths)) -
		w.DeltaRedund*float64(repeats)
}

// Confidence maps a path score plus support into [0,1].
func Confidence(pathScore float64, support float64) float64 {
	c := Sigmoid(pathScore + 0.5*support)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Softmax normalizes logits into a probability distribution, shifted by the
// maximum for numeric stability. Empty input yields nil.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	result := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		result[i] = math.Exp(v - maxLogit)
		sum += result[i]
	}
	if sum > 0 {
		for i := range result {
			result[i] /= sum
		}
	}
	return result
}

// SafeLog guards against non-positive input.
func SafeLog(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return math.Log(x)
}
