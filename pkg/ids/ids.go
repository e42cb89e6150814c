// Package ids provides the content-addressed 32-byte identifiers used for
// nodes, edges and paths. Two records with identical canonical content always
// produce identical IDs, so upsert doubles as merge and persistence replay is
// deterministic. IDs are never generated from counters.
package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
)

// NodeID identifies a node. The zero value means "absent".
type NodeID [32]byte

// EdgeID identifies an edge. The zero value means "absent".
type EdgeID [32]byte

// PathID identifies a stored path. The zero value means "absent".
type PathID [32]byte

// Domain separation prefixes keep node, edge and path hashes from colliding
// even when their canonical tuples happen to serialize identically.
var (
	nodePrefix = []byte("melvin/node\x00")
	edgePrefix = []byte("melvin/edge\x00")
	pathPrefix = []byte("melvin/path\x00")
)

// NodeIDFor derives the canonical ID for a node from (type, flags, payload).
func NodeIDFor(nodeType, flags uint32, payload []byte) NodeID {
	h := sha256.New()
	h.Write(nodePrefix)
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], nodeType)
	binary.BigEndian.PutUint32(buf[4:8], flags)
	h.Write(buf[:])
	h.Write(payload)
	var id NodeID
	h.Sum(id[:0])
	return id
}

// EdgeIDFor derives the canonical ID for an edge from (src, rel, dst, layer).
func EdgeIDFor(src NodeID, rel uint32, dst NodeID, layer uint16) EdgeID {
	h := sha256.New()
	h.Write(edgePrefix)
	h.Write(src[:])
	var buf [6]byte
	binary.BigEndian.PutUint32(buf[0:4], rel)
	binary.BigEndian.PutUint16(buf[4:6], layer)
	h.Write(buf[:])
	h.Write(dst[:])
	var id EdgeID
	h.Sum(id[:0])
	return id
}

// PathIDFor derives the canonical ID for a path from its ordered edge list.
func PathIDFor(edges []EdgeID) PathID {
	h := sha256.New()
	h.Write(pathPrefix)
	for i := range edges {
		h.Write(edges[i][:])
	}
	var id PathID
	h.Sum(id[:0])
	return id
}

// IsZero reports whether every byte of the ID is zero.
func (id NodeID) IsZero() bool { return id == NodeID{} }

// IsZero reports whether every byte of the ID is zero.
func (id EdgeID) IsZero() bool { return id == EdgeID{} }

// IsZero reports whether every byte of the ID is zero.
func (id PathID) IsZero() bool { return id == PathID{} }

// String returns the full hex form of the ID.
func (id NodeID) String() string { return hex.EncodeToString(id[:]) }

// String returns the full hex form of the ID.
func (id EdgeID) String() string { return hex.EncodeToString(id[:]) }

// String returns the full hex form of the ID.
func (id PathID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first eight hex characters, for logs.
func (id NodeID) Short() string { return hex.EncodeToString(id[:4]) }

// Short returns the first eight hex characters, for logs.
func (id EdgeID) Short() string { return hex.EncodeToString(id[:4]) }

// Hash64 folds an ID into a 64-bit FNV-1a hash for bucketing and signatures.
func Hash64(id []byte) uint64 {
	h := fnv.New64a()
	h.Write(id)
	return h.Sum64()
}

// Less orders two node IDs by byte comparison.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}
