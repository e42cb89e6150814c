// Package learn implements Hebbian reinforcement over the dual weight
// tracks, the recent-context window, dual-rate decay and gated inferred-edge
// materialization.
package learn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Params holds the learning coefficients.
type Params struct {
	// Hebbian increments. Explicit observations use AlphaCore; inferred or
	// implicit ones substitute AlphaInfer.
	AlphaCore  float64 `yaml:"alpha_core"`
	AlphaCtx   float64 `yaml:"alpha_ctx"`
	AlphaInfer float64 `yaml:"alpha_infer"`

	// Per-pass decay rates. The context track decays an order of magnitude
	// faster than the core track.
	BetaCore float64 `yaml:"beta_core"`
	BetaCtx  float64 `yaml:"beta_ctx"`

	// Inference gate.
	MinInferenceConfidence float64 `yaml:"min_inference_confidence"`

	// Recent-context FIFO size.
	ContextWindowSize int `yaml:"context_window_size"`
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		AlphaCore:              1.0,
		AlphaCtx:               0.5,
		AlphaInfer:             0.2,
		BetaCore:               0.001,
		BetaCtx:                0.01,
		MinInferenceConfidence: 0.3,
		ContextWindowSize:      10,
	}
}

// Learner applies reinforcement and decay through the store contract. Safe
// for concurrent use; the context window has its own lock.
type Learner struct {
	store  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	params Params
	window []ids.NodeID
}

// NewLearner creates a learner over the store.
func NewLearner(s store.Store, params Params, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{store: s, params: params, logger: logger}
}

// SetParams replaces the learning coefficients.
func (l *Learner) SetParams(p Params) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = p
}

// Params returns the current learning coefficients.
func (l *Learner) Params() Params {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params
}

// PushContext appends nodes to the recent-context FIFO, evicting the oldest
// entries past the configured size.
func (l *Learner) PushContext(nodes []ids.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = append(l.window, nodes...)
	if excess := len(l.window) - l.params.ContextWindowSize; excess > 0 {
		l.window = append([]ids.NodeID(nil), l.window[excess:]...)
	}
}

// ContextWindow returns a copy of the recent-context FIFO.
func (l *Learner) ContextWindow() []ids.NodeID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ids.NodeID(nil), l.window...)
}

// ReinforceEdge strengthens one edge used in a successful path or an
// explicit observation. The context increment is scaled by the Jaccard
// similarity between the recent-context window and the path's node set; both
// increments are scaled by the store's size factor.
func (l *Learner) ReinforceEdge(ctx context.Context, edgeID ids.EdgeID, pathNodes []ids.NodeID, explicit bool) error {
	l.mu.Lock()
	p := l.params
	window := append([]ids.NodeID(nil), l.window...)
	l.mu.Unlock()

	s := l.store.SizeScaling()
	alpha := p.AlphaCore
	if !explicit {
		alpha = p.AlphaInfer
	}
	ctxSim := jaccard(window, pathNodes)

	dCore := alpha * s
	dCtx := p.AlphaCtx * ctxSim * s
	if _, err := l.store.ReinforceEdge(ctx, edgeID, dCore, dCtx); err != nil {
		return fmt.Errorf("failed to reinforce edge %s: %w", edgeID.Short(), err)
	}
	return nil
}

// ReinforcePath strengthens every edge of a used path. A failed inner update
// aborts only that edge; the rest of the path still learns.
func (l *Learner) ReinforcePath(ctx context.Context, edgeIDs []ids.EdgeID, pathNodes []ids.NodeID, explicit bool) {
	for _, id := range edgeIDs {
		if err := l.ReinforceEdge(ctx, id, pathNodes, explicit); err != nil {
			l.logger.Warn("path reinforcement skipped an edge", "edge", id.Short(), "error", err)
		}
	}
	l.PushContext(pathNodes)
}

// ReinforceStoredPath strengthens every edge of a previously composed path,
// treating the stored trace as a single reasoning unit. Missing paths return
// ErrNotFound; a missing member edge skips only itself.
func (l *Learner) ReinforceStoredPath(ctx context.Context, pathID ids.PathID) error {
	p, err := l.store.GetPath(ctx, pathID)
	if err != nil {
		return fmt.Errorf("failed to resolve stored path: %w", err)
	}
	nodes := make([]ids.NodeID, 0, len(p.Edges)+1)
	for _, edgeID := range p.Edges {
		e, err := l.store.GetEdge(ctx, edgeID)
		if err != nil {
			l.logger.Warn("stored path references a missing edge", "edge", edgeID.Short(), "error", err)
			continue
		}
		if len(nodes) == 0 {
			nodes = append(nodes, e.Src)
		}
		nodes = append(nodes, e.Dst)
	}
	l.ReinforcePath(ctx, p.Edges, nodes, true)
	return nil
}

// DecayPass runs one dual-rate decay pass over all non-anchor edges.
func (l *Learner) DecayPass(ctx context.Context) error {
	p := l.Params()
	if err := l.store.DecayPass(ctx, p.BetaCtx, p.BetaCore); err != nil {
		return fmt.Errorf("failed to run decay pass: %w", err)
	}
	return nil
}

// MaterializeInferred creates (or merges into) an inferred edge when the
// confidence clears the gate and both endpoints exist. The merge rule makes
// the operation idempotent, so a cancelled search that already materialized
// the edge leaves a consistent record.
func (l *Learner) MaterializeInferred(ctx context.Context, src, dst ids.NodeID, rel store.Rel, confidence float64) (ids.EdgeID, error) {
	p := l.Params()
	if confidence < p.MinInferenceConfidence {
		return ids.EdgeID{}, fmt.Errorf("confidence %.3f below inference threshold: %w", confidence, store.ErrInvariant)
	}
	if _, err := l.store.GetNode(ctx, src); err != nil {
		return ids.EdgeID{}, fmt.Errorf("failed to resolve source: %w", err)
	}
	if _, err := l.store.GetNode(ctx, dst); err != nil {
		return ids.EdgeID{}, fmt.Errorf("failed to resolve destination: %w", err)
	}

	w := confidence * l.store.SizeScaling()
	if w > 1 {
		w = 1
	}
	edge := &store.Edge{
		Src:   src,
		Dst:   dst,
		Rel:   rel,
		Layer: 1,
		WCore: float32(w * p.AlphaInfer),
		WCtx:  float32(w),
		Flags: store.EdgeInferred,
	}
	edge.RefreshW()
	id, err := l.store.UpsertEdge(ctx, edge)
	if err != nil {
		return ids.EdgeID{}, fmt.Errorf("failed to materialize inferred edge: %w", err)
	}
	return id, nil
}

// jaccard computes set overlap between two node ID lists.
func jaccard(a, b []ids.NodeID) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[ids.NodeID]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	setB := make(map[ids.NodeID]struct{}, len(b))
	for _, id := range b {
		setB[id] = struct{}{}
	}
	inter := 0
	for id := range setA {
		if _, ok := setB[id]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
