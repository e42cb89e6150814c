package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Jak3Gil/melvin/pkg/ids"
)

// On-disk constants. All multi-byte integers are big-endian regardless of
// host endianness.
const (
	fileMagic     = 0x4D454C56 // "MELV"
	fileVersion   = 2
	fileHeaderLen = 64

	nodesFileName = "nodes.melvin"
	edgesFileName = "edges.melvin"
	pathsFileName = "paths.melvin"
)

// fileHeader is the fixed 64-byte header of every .melvin file.
type fileHeader struct {
	magic      uint32
	version    uint32
	endianness uint8 // 0 = big-endian on disk
	alignment  uint8 // always 1
	checksum   uint64
	tsCreated  uint64
	tsUpdated  uint64
	numNodes   uint32
	numEdges   uint32
	numPaths   uint32
}

// FileStore is the persistent directory-backed store: three append-oriented
// files holding nodes, edges and paths. The working set lives in an embedded
// MemStore; Flush serializes it with write-then-swap so a failed write leaves
// the previous files intact.
type FileStore struct {
	*MemStore
	dir       string
	tsCreated uint64
}

var _ Store = (*FileStore)(nil)

// OpenFileStore opens (creating if absent) a store directory. An existing
// directory with an incompatible magic, version or checksum fails with
// ErrFormat.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	fs := &FileStore{
		MemStore:  NewMemStore(),
		dir:       dir,
		tsCreated: uint64(time.Now().UnixNano()),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Flush serializes the working set to the three .melvin files. Each file is
// written to a temporary sibling and atomically renamed into place; on any
// I/O failure the in-memory state and the previous files stay consistent.
func (fs *FileStore) Flush() error {
	nodes, edges, paths := fs.snapshot()

	nodeBody := encodeNodes(nodes)
	edgeBody := encodeEdges(edges)
	pathBody := encodePaths(paths)

	counts := [3]uint32{uint32(len(nodes)), uint32(len(edges)), uint32(len(paths))}
	bodies := [3][]byte{nodeBody, edgeBody, pathBody}
	names := [3]string{nodesFileName, edgesFileName, pathsFileName}

	for i := range names {
		hdr := fileHeader{
			magic:      fileMagic,
			version:    fileVersion,
			endianness: 0,
			alignment:  1,
			checksum:   bodyChecksum(bodies[i]),
			tsCreated:  fs.tsCreated,
			tsUpdated:  uint64(time.Now().UnixNano()),
			numNodes:   counts[0],
			numEdges:   counts[1],
			numPaths:   counts[2],
		}
		if err := writeFileAtomic(filepath.Join(fs.dir, names[i]), hdr, bodies[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and releases the store.
func (fs *FileStore) Close() error {
	return fs.Flush()
}

// Compact prunes in memory, then rewrites the files so reclaimed space is
// actually released on disk.
func (fs *FileStore) Compact(ctx context.Context) error {
	if err := fs.MemStore.Compact(ctx); err != nil {
		return err
	}
	return fs.Flush()
}

func (fs *FileStore) load() error {
	nodeBody, nodeHdr, err := readMelvinFile(filepath.Join(fs.dir, nodesFileName))
	if err != nil {
		return err
	}
	edgeBody, _, err := readMelvinFile(filepath.Join(fs.dir, edgesFileName))
	if err != nil {
		return err
	}
	pathBody, _, err := readMelvinFile(filepath.Join(fs.dir, pathsFileName))
	if err != nil {
		return err
	}
	if nodeHdr != nil {
		fs.tsCreated = nodeHdr.tsCreated
	}
	if nodeBody == nil && edgeBody == nil && pathBody == nil {
		return nil // fresh directory
	}

	nodes, err := decodeNodes(nodeBody)
	if err != nil {
		return err
	}
	edges, err := decodeEdges(edgeBody)
	if err != nil {
		return err
	}
	paths, err := decodePaths(pathBody)
	if err != nil {
		return err
	}
	fs.restore(nodes, edges, paths)
	return nil
}

// readMelvinFile returns (nil, nil, nil) for a missing file, ErrFormat for a
// corrupt one, and the verified body otherwise.
func readMelvinFile(path string) ([]byte, *fileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(raw) < fileHeaderLen {
		return nil, nil, fmt.Errorf("%w: %s truncated header", ErrFormat, filepath.Base(path))
	}
	hdr, err := decodeHeader(raw[:fileHeaderLen])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrFormat, filepath.Base(path), err)
	}
	body := raw[fileHeaderLen:]
	if bodyChecksum(body) != hdr.checksum {
		return nil, nil, fmt.Errorf("%w: %s checksum mismatch", ErrFormat, filepath.Base(path))
	}
	return body, hdr, nil
}

func writeFileAtomic(path string, hdr fileHeader, body []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(encodeHeader(hdr)); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write body: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to swap %s into place: %w", path, err)
	}
	return nil
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, fileHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.magic)
	binary.BigEndian.PutUint32(buf[4:8], h.version)
	buf[8] = h.endianness
	buf[9] = h.alignment
	// buf[10:12] reserved
	binary.BigEndian.PutUint64(buf[12:20], h.checksum)
	binary.BigEndian.PutUint64(buf[20:28], h.tsCreated)
	binary.BigEndian.PutUint64(buf[28:36], h.tsUpdated)
	binary.BigEndian.PutUint32(buf[36:40], h.numNodes)
	binary.BigEndian.PutUint32(buf[40:44], h.numEdges)
	binary.BigEndian.PutUint32(buf[44:48], h.numPaths)
	// buf[48:64] reserved
	return buf
}

func decodeHeader(buf []byte) (*fileHeader, error) {
	h := &fileHeader{
		magic:      binary.BigEndian.Uint32(buf[0:4]),
		version:    binary.BigEndian.Uint32(buf[4:8]),
		endianness: buf[8],
		alignment:  buf[9],
		checksum:   binary.BigEndian.Uint64(buf[12:20]),
		tsCreated:  binary.BigEndian.Uint64(buf[20:28]),
		tsUpdated:  binary.BigEndian.Uint64(buf[28:36]),
		numNodes:   binary.BigEndian.Uint32(buf[36:40]),
		numEdges:   binary.BigEndian.Uint32(buf[40:44]),
		numPaths:   binary.BigEndian.Uint32(buf[44:48]),
	}
	if h.magic != fileMagic {
		return nil, fmt.Errorf("bad magic 0x%08X", h.magic)
	}
	if h.version != fileVersion {
		return nil, fmt.Errorf("unsupported version %d", h.version)
	}
	if h.endianness != 0 {
		return nil, fmt.Errorf("unexpected endianness byte %d", h.endianness)
	}
	return h, nil
}

func bodyChecksum(body []byte) uint64 {
	h := fnv.New64a()
	h.Write(body)
	return h.Sum64()
}

// Node record: 32-byte id, packed header (type u32, flags u32, ts_created
// u64, ts_updated u64, confirm_count u32, pin_expiry u64, degree_hint u32,
// payload_len u32), payload bytes.
func encodeNodes(nodes []*Node) []byte {
	var buf bytes.Buffer
	scratch := make([]byte, 8)
	for _, n := range nodes {
		buf.Write(n.ID[:])
		putU32(&buf, scratch, uint32(n.Type))
		putU32(&buf, scratch, uint32(n.Flags))
		putU64(&buf, scratch, uint64(n.TSCreated))
		putU64(&buf, scratch, uint64(n.TSUpdated))
		putU32(&buf, scratch, n.ConfirmCount)
		putU64(&buf, scratch, uint64(n.PinExpiry))
		putU32(&buf, scratch, n.DegreeHint)
		putU32(&buf, scratch, uint32(len(n.Payload)))
		buf.Write(n.Payload)
	}
	return buf.Bytes()
}

func decodeNodes(body []byte) ([]*Node, error) {
	var nodes []*Node
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		var id ids.NodeID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("%w: node record truncated", ErrFormat)
		}
		fixed := make([]byte, 44)
		if _, err := io.ReadFull(r, fixed); err != nil {
			return nil, fmt.Errorf("%w: node header truncated", ErrFormat)
		}
		n := &Node{
			ID:           id,
			Type:         NodeType(binary.BigEndian.Uint32(fixed[0:4])),
			Flags:        NodeFlags(binary.BigEndian.Uint32(fixed[4:8])),
			TSCreated:    int64(binary.BigEndian.Uint64(fixed[8:16])),
			TSUpdated:    int64(binary.BigEndian.Uint64(fixed[16:24])),
			ConfirmCount: binary.BigEndian.Uint32(fixed[24:28]),
			PinExpiry:    int64(binary.BigEndian.Uint64(fixed[28:36])),
			DegreeHint:   binary.BigEndian.Uint32(fixed[36:40]),
		}
		payloadLen := binary.BigEndian.Uint32(fixed[40:44])
		if int(payloadLen) > r.Len() {
			return nil, fmt.Errorf("%w: node payload length %d exceeds file", ErrFormat, payloadLen)
		}
		n.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, n.Payload); err != nil {
			return nil, fmt.Errorf("%w: node payload truncated", ErrFormat)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Edge record: 32-byte id, src (32), rel u32, dst (32), layer u16, w f32,
// w_core f32, w_ctx f32, ts_last u64, count u32, flags u32.
func encodeEdges(edges []*Edge) []byte {
	var buf bytes.Buffer
	scratch := make([]byte, 8)
	for _, e := range edges {
		buf.Write(e.ID[:])
		buf.Write(e.Src[:])
		putU32(&buf, scratch, uint32(e.Rel))
		buf.Write(e.Dst[:])
		putU16(&buf, scratch, e.Layer)
		putF32(&buf, scratch, e.W)
		putF32(&buf, scratch, e.WCore)
		putF32(&buf, scratch, e.WCtx)
		putU64(&buf, scratch, uint64(e.TSLast))
		putU32(&buf, scratch, e.Count)
		putU32(&buf, scratch, uint32(e.Flags))
	}
	return buf.Bytes()
}

const edgeRecLen = 32 + 32 + 4 + 32 + 2 + 4 + 4 + 4 + 8 + 4 + 4

func decodeEdges(body []byte) ([]*Edge, error) {
	if len(body)%edgeRecLen != 0 {
		return nil, fmt.Errorf("%w: edge section length %d not a record multiple", ErrFormat, len(body))
	}
	edges := make([]*Edge, 0, len(body)/edgeRecLen)
	for off := 0; off < len(body); off += edgeRecLen {
		rec := body[off : off+edgeRecLen]
		e := &Edge{}
		copy(e.ID[:], rec[0:32])
		copy(e.Src[:], rec[32:64])
		e.Rel = Rel(binary.BigEndian.Uint32(rec[64:68]))
		copy(e.Dst[:], rec[68:100])
		e.Layer = binary.BigEndian.Uint16(rec[100:102])
		e.W = f32FromBits(binary.BigEndian.Uint32(rec[102:106]))
		e.WCore = f32FromBits(binary.BigEndian.Uint32(rec[106:110]))
		e.WCtx = f32FromBits(binary.BigEndian.Uint32(rec[110:114]))
		e.TSLast = int64(binary.BigEndian.Uint64(rec[114:122]))
		e.Count = binary.BigEndian.Uint32(rec[122:126])
		e.Flags = EdgeFlags(binary.BigEndian.Uint32(rec[126:130]))
		if err := validateEdge(e); err != nil {
			return nil, fmt.Errorf("%w: corrupt edge record at offset %d", ErrFormat, off)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Path record: 32-byte id, 4-byte edge count, count x 32-byte edge IDs,
// score f32.
func encodePaths(paths []*Path) []byte {
	var buf bytes.Buffer
	scratch := make([]byte, 8)
	for _, p := range paths {
		buf.Write(p.ID[:])
		putU32(&buf, scratch, uint32(len(p.Edges)))
		for i := range p.Edges {
			buf.Write(p.Edges[i][:])
		}
		putF32(&buf, scratch, p.Score)
	}
	return buf.Bytes()
}

func decodePaths(body []byte) ([]*Path, error) {
	var paths []*Path
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		var id ids.PathID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("%w: path record truncated", ErrFormat)
		}
		var countBuf [4]byte
		if _, err := io.ReadFull(r, countBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: path count truncated", ErrFormat)
		}
		count := binary.BigEndian.Uint32(countBuf[:])
		if int(count)*32 > r.Len() {
			return nil, fmt.Errorf("%w: path edge count %d exceeds file", ErrFormat, count)
		}
		p := &Path{ID: id, Edges: make([]ids.EdgeID, count)}
		for i := range p.Edges {
			if _, err := io.ReadFull(r, p.Edges[i][:]); err != nil {
				return nil, fmt.Errorf("%w: path edge truncated", ErrFormat)
			}
		}
		var scoreBuf [4]byte
		if _, err := io.ReadFull(r, scoreBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: path score truncated", ErrFormat)
		}
		p.Score = f32FromBits(binary.BigEndian.Uint32(scoreBuf[:]))
		paths = append(paths, p)
	}
	return paths, nil
}

func putU16(buf *bytes.Buffer, scratch []byte, v uint16) {
	binary.BigEndian.PutUint16(scratch[:2], v)
	buf.Write(scratch[:2])
}

func putU32(buf *bytes.Buffer, scratch []byte, v uint32) {
	binary.BigEndian.PutUint32(scratch[:4], v)
	buf.Write(scratch[:4])
}

func putU64(buf *bytes.Buffer, scratch []byte, v uint64) {
	binary.BigEndian.PutUint64(scratch[:8], v)
	buf.Write(scratch[:8])
}

func putF32(buf *bytes.Buffer, scratch []byte, v float32) {
	binary.BigEndian.PutUint32(scratch[:4], math.Float32bits(v))
	buf.Write(scratch[:4])
}

func f32FromBits(b uint32) float32 { return math.Float32frombits(b) }
