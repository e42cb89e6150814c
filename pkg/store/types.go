// Package store provides the node/edge/path data model, the Store contract
// and its conforming backends: volatile in-memory, the persistent `.melvin`
// file format, and a SQLite mirror.
package store

import (
	"github.com/Jak3Gil/melvin/pkg/ids"
)

// NodeType enumerates node kinds.
type NodeType uint32

const (
	NodeSymbol NodeType = iota + 1
	NodePhrase
	NodeConcept
	NodeAbstraction
	NodeMetaCogStep
)

// NodeFlags is a bitfield of node properties.
type NodeFlags uint32

const (
	// NodeAnchor marks a node exempt from decay and pruning.
	NodeAnchor NodeFlags = 1 << iota
	// NodeGeneralized marks a node created by the miner.
	NodeGeneralized
)

// Rel enumerates relation codes. Codes must stay below 128 so they fit the
// relation mask.
type Rel uint32

const (
	RelExact Rel = iota + 1
	RelTemporal
	RelLeap
	RelGeneralization
	RelISA
	RelHasProperty
	RelPartOf
	RelCauses
)

// String returns the lowercase name of the relation.
func (r Rel) String() string {
	switch r {
	case RelExact:
		return "exact"
	case RelTemporal:
		return "temporal"
	case RelLeap:
		return "leap"
	case RelGeneralization:
		return "generalization"
	case RelISA:
		return "isa"
	case RelHasProperty:
		return "has_property"
	case RelPartOf:
		return "part_of"
	case RelCauses:
		return "causes"
	}
	return "unknown"
}

// EdgeFlags is a bitfield of edge properties.
type EdgeFlags uint32

const (
	// EdgeInferred marks an edge materialized by dynamic inference.
	EdgeInferred EdgeFlags = 1 << iota
	// EdgeGeneralized marks an edge created by the miner.
	EdgeGeneralized
	// EdgeAnchor marks an edge exempt from decay and pruning.
	EdgeAnchor
	// EdgeDeprecated marks an edge scheduled for removal.
	EdgeDeprecated
	// EdgeCausal marks an edge whose lead/lag statistics passed the causal test.
	EdgeCausal
)

// LambdaMix is the context share of the cached effective weight:
// w = LambdaMix*w_ctx + (1-LambdaMix)*w_core. The core track dominates.
const LambdaMix = 0.3

// PruneThreshold is the effective weight below which a low-support,
// non-anchor edge becomes a prune candidate.
const PruneThreshold = 0.2

// Node is a knowledge graph entity. Payload holds UTF-8 text for symbols and
// concepts, structured bytes for other kinds.
type Node struct {
	ID           ids.NodeID
	Type         NodeType
	Flags        NodeFlags
	TSCreated    int64 // ns since epoch
	TSUpdated    int64 // ns
	Payload      []byte
	DegreeHint   uint32 // cached out-degree, may be stale
	ConfirmCount uint32
	PinExpiry    int64
}

// Text returns the payload interpreted as UTF-8.
func (n *Node) Text() string { return string(n.Payload) }

// IsAnchor reports whether the node is exempt from decay and pruning.
func (n *Node) IsAnchor() bool { return n.Flags&NodeAnchor != 0 }

// Clone returns a deep copy so concurrent readers never observe torn records.
func (n *Node) Clone() *Node {
	c := *n
	c.Payload = append([]byte(nil), n.Payload...)
	return &c
}

// Edge is a weighted typed relation between two nodes. The dual-weight split
// keeps a slow durable track (WCore) apart from a fast situational track
// (WCtx); W caches the mix and must always be recomputable from the tracks.
type Edge struct {
	ID     ids.EdgeID
	Src    ids.NodeID
	Dst    ids.NodeID
	Rel    Rel
	Layer  uint16 // 0 explicit, 1 inferred, 2 generalized
	W      float32
	WCore  float32
	WCtx   float32
	TSLast int64 // last reinforcement ns
	Count  uint32
	Flags  EdgeFlags
}

// IsAnchor reports whether the edge is exempt from decay and pruning.
func (e *Edge) IsAnchor() bool { return e.Flags&EdgeAnchor != 0 }

// RefreshW recomputes the cached effective weight from the two tracks.
func (e *Edge) RefreshW() {
	e.W = float32(LambdaMix*float64(e.WCtx) + (1-LambdaMix)*float64(e.WCore))
}

// Clone returns a copy of the edge record.
func (e *Edge) Clone() *Edge {
	c := *e
	return &c
}

// Path is an ordered list of edge IDs with an aggregate score. Paths are
// first-class so successful reasoning traces can be stored and reinforced as
// a unit.
type Path struct {
	ID    ids.PathID
	Edges []ids.EdgeID
	Score float32
}

// Clone returns a copy of the path record.
func (p *Path) Clone() *Path {
	c := *p
	c.Edges = append([]ids.EdgeID(nil), p.Edges...)
	return &c
}

// RelMask is a 128-bit bitmap selecting relation codes for adjacency queries.
type RelMask struct {
	Low  uint64 // relations 0-63
	High uint64 // relations 64-127
}

// MaskOf builds a mask selecting exactly the given relations.
func MaskOf(rels ...Rel) RelMask {
	var m RelMask
	for _, r := range rels {
		m.Set(r)
	}
	return m
}

// AllRelations returns a mask with every relation code selected.
func AllRelations() RelMask {
	return RelMask{Low: ^uint64(0), High: ^uint64(0)}
}

// Set adds a relation to the mask.
func (m *RelMask) Set(r Rel) {
	if r < 64 {
		m.Low |= 1 << uint(r)
	} else if r < 128 {
		m.High |= 1 << uint(r-64)
	}
}

// Clear removes a relation from the mask.
func (m *RelMask) Clear(r Rel) {
	if r < 64 {
		m.Low &^= 1 << uint(r)
	} else if r < 128 {
		m.High &^= 1 << uint(r-64)
	}
}

// Test reports whether the mask selects the relation.
func (m RelMask) Test(r Rel) bool {
	if r < 64 {
		return m.Low&(1<<uint(r)) != 0
	}
	if r < 128 {
		return m.High&(1<<uint(r-64)) != 0
	}
	return false
}

// IsEmpty reports whether no relation is selected.
func (m RelMask) IsEmpty() bool { return m.Low == 0 && m.High == 0 }
