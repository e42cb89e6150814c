package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Jak3Gil/melvin/pkg/ids"
)

// MemStore is the volatile in-memory backend. It also serves as the working
// set of the file-backed store. All mutation goes through a single writer
// lock; reads hand out cloned records so observations never tear.
type MemStore struct {
	mu sync.RWMutex

	nodes map[ids.NodeID]*Node
	edges map[ids.EdgeID]*Edge
	paths map[ids.PathID]*Path

	out map[ids.NodeID][]ids.EdgeID
	in  map[ids.NodeID][]ids.EdgeID

	pruneCandidates map[ids.EdgeID]struct{}

	now func() int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:           make(map[ids.NodeID]*Node),
		edges:           make(map[ids.EdgeID]*Edge),
		paths:           make(map[ids.PathID]*Path),
		out:             make(map[ids.NodeID][]ids.EdgeID),
		in:              make(map[ids.NodeID][]ids.EdgeID),
		pruneCandidates: make(map[ids.EdgeID]struct{}),
		now:             func() int64 { return time.Now().UnixNano() },
	}
}

var _ Store = (*MemStore)(nil)

// UpsertNode creates or confirms a node. The ID is the canonical hash of
// (type, flags, payload) computed at creation time; later statistic updates
// do not re-key the record.
func (s *MemStore) UpsertNode(ctx context.Context, n *Node) (ids.NodeID, error) {
	if n == nil {
		return ids.NodeID{}, ErrInvariant
	}
	id := ids.NodeIDFor(uint32(n.Type), uint32(n.Flags), n.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	if existing, ok := s.nodes[id]; ok {
		existing.TSUpdated = ts
		existing.ConfirmCount++
		n.ID = id
		return id, nil
	}

	stored := n.Clone()
	stored.ID = id
	if stored.TSCreated == 0 {
		stored.TSCreated = ts
	}
	stored.TSUpdated = ts
	s.nodes[id] = stored
	n.ID = id
	return id, nil
}

// GetNode retrieves a node by ID.
func (s *MemStore) GetNode(ctx context.Context, id ids.NodeID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

// UpsertEdge creates the edge or merges into the existing (src, rel, dst,
// layer) record. Both endpoints must exist.
func (s *MemStore) UpsertEdge(ctx context.Context, e *Edge) (ids.EdgeID, error) {
	if e == nil {
		return ids.EdgeID{}, ErrInvariant
	}
	if err := validateEdge(e); err != nil {
		return ids.EdgeID{}, err
	}
	id := ids.EdgeIDFor(e.Src, uint32(e.Rel), e.Dst, e.Layer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e.Src]; !ok {
		return ids.EdgeID{}, ErrInvariant
	}
	if _, ok := s.nodes[e.Dst]; !ok {
		return ids.EdgeID{}, ErrInvariant
	}

	ts := s.now()
	if existing, ok := s.edges[id]; ok {
		existing.WCore = mergeWeight(existing.WCore, e.WCore)
		existing.WCtx = mergeWeight(existing.WCtx, e.WCtx)
		existing.RefreshW()
		existing.Count++
		if ts > existing.TSLast {
			existing.TSLast = ts
		}
		existing.Flags |= e.Flags
		delete(s.pruneCandidates, id)
		e.ID = id
		return id, nil
	}

	stored := e.Clone()
	stored.ID = id
	if stored.TSLast == 0 {
		stored.TSLast = ts
	}
	if stored.Count == 0 {
		stored.Count = 1
	}
	stored.RefreshW()
	s.edges[id] = stored
	s.out[e.Src] = append(s.out[e.Src], id)
	s.in[e.Dst] = append(s.in[e.Dst], id)
	if n, ok := s.nodes[e.Src]; ok {
		n.DegreeHint = uint32(len(s.out[e.Src]))
	}
	e.ID = id
	return id, nil
}

// GetEdge retrieves an edge by ID.
func (s *MemStore) GetEdge(ctx context.Context, id ids.EdgeID) (*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// ReinforceEdge applies additive weight deltas to both tracks.
func (s *MemStore) ReinforceEdge(ctx context.Context, id ids.EdgeID, dCore, dCtx float64) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.WCore = clamp01(float64(e.WCore) + dCore)
	e.WCtx = clamp01(float64(e.WCtx) + dCtx)
	e.RefreshW()
	e.Count++
	ts := s.now()
	if ts > e.TSLast {
		e.TSLast = ts
	}
	delete(s.pruneCandidates, id)
	return e.Clone(), nil
}

// OutEdges returns the outgoing adjacency filtered by the relation mask.
func (s *MemStore) OutEdges(ctx context.Context, node ids.NodeID, mask RelMask) ([]*Edge, error) {
	return s.adjacency(node, mask, true)
}

// InEdges returns the incoming adjacency filtered by the relation mask.
func (s *MemStore) InEdges(ctx context.Context, node ids.NodeID, mask RelMask) ([]*Edge, error) {
	return s.adjacency(node, mask, false)
}

func (s *MemStore) adjacency(node ids.NodeID, mask RelMask, outgoing bool) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edgeIDs []ids.EdgeID
	if outgoing {
		edgeIDs = s.out[node]
	} else {
		edgeIDs = s.in[node]
	}
	result := make([]*Edge, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		e, ok := s.edges[id]
		if !ok {
			continue
		}
		if !mask.Test(e.Rel) {
			continue
		}
		result = append(result, e.Clone())
	}
	return result, nil
}

// ComposePath stores the edge sequence as a path. The aggregate score is the
// mean effective weight of the member edges.
func (s *MemStore) ComposePath(ctx context.Context, edges []ids.EdgeID) (*Path, error) {
	if len(edges) == 0 {
		return nil, ErrInvariant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sum float64
	for _, id := range edges {
		e, ok := s.edges[id]
		if !ok {
			return nil, ErrNotFound
		}
		sum += float64(e.W)
	}
	p := &Path{
		ID:    ids.PathIDFor(edges),
		Edges: append([]ids.EdgeID(nil), edges...),
		Score: float32(sum / float64(len(edges))),
	}
	s.paths[p.ID] = p
	return p.Clone(), nil
}

// GetPath retrieves a stored path by ID.
func (s *MemStore) GetPath(ctx context.Context, id ids.PathID) (*Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.paths[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// DecayPass multiplies both tracks of every non-anchor edge by (1-beta) and
// queues prune candidates whose effective weight fell below the threshold
// with support below two.
func (s *MemStore) DecayPass(ctx context.Context, betaCtx, betaCore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.edges {
		if e.IsAnchor() {
			continue
		}
		e.WCtx = clamp01(float64(e.WCtx) * (1 - betaCtx))
		e.WCore = clamp01(float64(e.WCore) * (1 - betaCore))
		e.RefreshW()
		if float64(e.W) < PruneThreshold && e.Count < 2 {
			s.pruneCandidates[id] = struct{}{}
		}
	}
	return nil
}

// Compact removes prune candidates that still qualify and repairs the
// adjacency indices and degree hints.
func (s *MemStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[ids.NodeID]struct{})
	for id := range s.pruneCandidates {
		e, ok := s.edges[id]
		if !ok {
			continue
		}
		if e.IsAnchor() || e.Count >= 2 || float64(e.W) >= PruneThreshold {
			continue
		}
		delete(s.edges, id)
		s.out[e.Src] = removeEdgeID(s.out[e.Src], id)
		s.in[e.Dst] = removeEdgeID(s.in[e.Dst], id)
		touched[e.Src] = struct{}{}
	}
	s.pruneCandidates = make(map[ids.EdgeID]struct{})

	for nodeID := range touched {
		if n, ok := s.nodes[nodeID]; ok {
			n.DegreeHint = uint32(len(s.out[nodeID]))
		}
	}
	return nil
}

func removeEdgeID(list []ids.EdgeID, id ids.EdgeID) []ids.EdgeID {
	for i, candidate := range list {
		if candidate == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// NodeCount returns the number of stored nodes.
func (s *MemStore) NodeCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.nodes)), nil
}

// EdgeCount returns the number of stored edges.
func (s *MemStore) EdgeCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.edges)), nil
}

// PathCount returns the number of stored paths.
func (s *MemStore) PathCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.paths)), nil
}

// SizeScaling returns the current size-relative reinforcement multiplier.
func (s *MemStore) SizeScaling() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sizeScaling(int64(len(s.nodes)), int64(len(s.edges)))
}

// Close releases nothing for the volatile backend.
func (s *MemStore) Close() error { return nil }

// snapshot returns all records ordered by ID bytes, for deterministic
// serialization.
func (s *MemStore) snapshot() ([]*Node, []*Edge, []*Path) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool {
		return lessBytes(nodes[i].ID[:], nodes[j].ID[:])
	})

	edges := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, e.Clone())
	}
	sort.Slice(edges, func(i, j int) bool {
		return lessBytes(edges[i].ID[:], edges[j].ID[:])
	})

	paths := make([]*Path, 0, len(s.paths))
	for _, p := range s.paths {
		paths = append(paths, p.Clone())
	}
	sort.Slice(paths, func(i, j int) bool {
		return lessBytes(paths[i].ID[:], paths[j].ID[:])
	})
	return nodes, edges, paths
}

// restore replaces the working set with loaded records, rebuilding the
// adjacency indices.
func (s *MemStore) restore(nodes []*Node, edges []*Edge, paths []*Path) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[ids.NodeID]*Node, len(nodes))
	s.edges = make(map[ids.EdgeID]*Edge, len(edges))
	s.paths = make(map[ids.PathID]*Path, len(paths))
	s.out = make(map[ids.NodeID][]ids.EdgeID)
	s.in = make(map[ids.NodeID][]ids.EdgeID)
	s.pruneCandidates = make(map[ids.EdgeID]struct{})

	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	for _, e := range edges {
		s.edges[e.ID] = e
		s.out[e.Src] = append(s.out[e.Src], e.ID)
		s.in[e.Dst] = append(s.in[e.Dst], e.ID)
	}
	for _, p := range paths {
		s.paths[p.ID] = p
	}
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
