package store

import (
	"context"
	"errors"
	"math"

	"github.com/Jak3Gil/melvin/pkg/ids"
)

// ErrNotFound indicates that an ID does not resolve. Non-fatal; callers
// convert it to an empty result.
var ErrNotFound = errors.New("not found")

// ErrInvariant indicates an attempted write that violates a store invariant
// (zero endpoint, weight out of range, corrupted payload length). Rejected at
// the store boundary.
var ErrInvariant = errors.New("invariant violation")

// ErrFormat indicates an on-disk magic/version mismatch or checksum failure.
// Fatal for that store; other stores are unaffected.
var ErrFormat = errors.New("incompatible store format")

// Store is the contract every backend conforms to. Implementations must
// guarantee that reads never observe torn records; a single writer lock
// around the indices is sufficient.
type Store interface {
	// UpsertNode creates the node or, when a node with identical canonical
	// content exists, returns the existing ID after bumping ts_updated and
	// confirm_count.
	UpsertNode(ctx context.Context, n *Node) (ids.NodeID, error)

	// GetNode retrieves a node by ID. Returns ErrNotFound when absent.
	GetNode(ctx context.Context, id ids.NodeID) (*Node, error)

	// UpsertEdge creates the edge or merges into the existing record with the
	// same (src, rel, dst, layer) tuple: weights accumulate, count increments,
	// ts_last advances. Rejects zero endpoints and out-of-range weights.
	UpsertEdge(ctx context.Context, e *Edge) (ids.EdgeID, error)

	// GetEdge retrieves an edge by ID. Returns ErrNotFound when absent.
	GetEdge(ctx context.Context, id ids.EdgeID) (*Edge, error)

	// ReinforceEdge applies additive weight deltas to both tracks, clamped to
	// [0,1], increments count, advances ts_last and refreshes the cached mix.
	ReinforceEdge(ctx context.Context, id ids.EdgeID, dCore, dCtx float64) (*Edge, error)

	// OutEdges returns the outgoing adjacency of a node filtered by the
	// relation mask. Unknown nodes yield an empty slice, not an error.
	OutEdges(ctx context.Context, node ids.NodeID, mask RelMask) ([]*Edge, error)

	// InEdges returns the incoming adjacency of a node filtered by the
	// relation mask. Unknown nodes yield an empty slice, not an error.
	InEdges(ctx context.Context, node ids.NodeID, mask RelMask) ([]*Edge, error)

	// ComposePath stores the ordered edge sequence as a first-class path with
	// an aggregate score. Any missing edge fails the composition.
	ComposePath(ctx context.Context, edges []ids.EdgeID) (*Path, error)

	// GetPath retrieves a stored path by ID. Returns ErrNotFound when absent.
	GetPath(ctx context.Context, id ids.PathID) (*Path, error)

	// DecayPass multiplies both weight tracks of every non-anchor edge by
	// (1-beta), refreshes the cached mix and queues prune candidates.
	DecayPass(ctx context.Context, betaCtx, betaCore float64) error

	// Compact removes queued prune candidates and reclaims space.
	Compact(ctx context.Context) error

	// NodeCount returns the number of stored nodes.
	NodeCount(ctx context.Context) (int64, error)

	// EdgeCount returns the number of stored edges.
	EdgeCount(ctx context.Context) (int64, error)

	// PathCount returns the number of stored paths.
	PathCount(ctx context.Context) (int64, error)

	// SizeScaling returns the size-relative reinforcement multiplier
	// clamp(10 / (N*E)^0.25, 0.01, 10). Early facts in a small graph weigh
	// more; a saturated graph responds less.
	SizeScaling() float64

	// Close releases resources. Persistent backends flush first.
	Close() error
}

// sizeScaling computes the reinforcement multiplier for a graph of n nodes
// and e edges.
func sizeScaling(n, e int64) float64 {
	prod := float64(n) * float64(e)
	if prod < 1 {
		prod = 1
	}
	s := 10.0 / math.Sqrt(math.Sqrt(prod))
	if s < 0.01 {
		return 0.01
	}
	if s > 10 {
		return 10
	}
	return s
}

// validateEdge enforces I1 (weights in range) and I2 (non-zero endpoints).
func validateEdge(e *Edge) error {
	if e.Src.IsZero() || e.Dst.IsZero() {
		return ErrInvariant
	}
	for _, w := range []float32{e.W, e.WCore, e.WCtx} {
		if w < 0 || w > 1 || math.IsNaN(float64(w)) {
			return ErrInvariant
		}
	}
	return nil
}

// mergeWeight accumulates two weight-track values without leaving [0,1]:
// 1 - (1-a)(1-b). Strictly increasing while both operands are in (0,1).
func mergeWeight(a, b float32) float32 {
	return 1 - (1-a)*(1-b)
}

// clamp01 bounds a weight computation result to [0,1].
func clamp01(v float64) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return float32(v)
}
