package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/Jak3Gil/melvin/pkg/ids"
)

// SQLiteStore is a conforming Store backend over SQLite. The `.melvin` file
// store stays the canonical persistent format; the SQLite mirror exists for
// inspection with ordinary SQL tooling and for callers that already operate a
// SQLite deployment. dbPath may be ":memory:".
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating tables if needed) a SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serves all reads and writes, so they are serialized.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id BLOB PRIMARY KEY,
		type INTEGER NOT NULL,
		flags INTEGER NOT NULL,
		ts_created INTEGER NOT NULL,
		ts_updated INTEGER NOT NULL,
		confirm_count INTEGER NOT NULL DEFAULT 0,
		pin_expiry INTEGER NOT NULL DEFAULT 0,
		degree_hint INTEGER NOT NULL DEFAULT 0,
		payload BLOB
	);

	CREATE TABLE IF NOT EXISTS edges (
		id BLOB PRIMARY KEY,
		src BLOB NOT NULL,
		rel INTEGER NOT NULL,
		dst BLOB NOT NULL,
		layer INTEGER NOT NULL,
		w REAL NOT NULL,
		w_core REAL NOT NULL,
		w_ctx REAL NOT NULL,
		ts_last INTEGER NOT NULL,
		count INTEGER NOT NULL,
		flags INTEGER NOT NULL,
		prune_candidate INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src);
	CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst);

	CREATE TABLE IF NOT EXISTS paths (
		id BLOB PRIMARY KEY,
		edge_ids BLOB NOT NULL,
		score REAL NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertNode creates or confirms a node.
func (s *SQLiteStore) UpsertNode(ctx context.Context, n *Node) (ids.NodeID, error) {
	if n == nil {
		return ids.NodeID{}, ErrInvariant
	}
	id := ids.NodeIDFor(uint32(n.Type), uint32(n.Flags), n.Payload)
	ts := time.Now().UnixNano()

	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET ts_updated = ?, confirm_count = confirm_count + 1 WHERE id = ?`,
		ts, id[:])
	if err != nil {
		return ids.NodeID{}, fmt.Errorf("failed to confirm node: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		n.ID = id
		return id, nil
	}

	created := n.TSCreated
	if created == 0 {
		created = ts
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, type, flags, ts_created, ts_updated, confirm_count, pin_expiry, degree_hint, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id[:], uint32(n.Type), uint32(n.Flags), created, ts, n.ConfirmCount, n.PinExpiry, n.DegreeHint, n.Payload)
	if err != nil {
		return ids.NodeID{}, fmt.Errorf("failed to insert node: %w", err)
	}
	n.ID = id
	return id, nil
}

// GetNode retrieves a node by ID.
func (s *SQLiteStore) GetNode(ctx context.Context, id ids.NodeID) (*Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT type, flags, ts_created, ts_updated, confirm_count, pin_expiry, degree_hint, payload
		 FROM nodes WHERE id = ?`, id[:])

	n := &Node{ID: id}
	var typ, flags uint32
	err := row.Scan(&typ, &flags, &n.TSCreated, &n.TSUpdated, &n.ConfirmCount, &n.PinExpiry, &n.DegreeHint, &n.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	n.Type = NodeType(typ)
	n.Flags = NodeFlags(flags)
	return n, nil
}

// UpsertEdge creates the edge or merges into the existing tuple record.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e *Edge) (ids.EdgeID, error) {
	if e == nil {
		return ids.EdgeID{}, ErrInvariant
	}
	if err := validateEdge(e); err != nil {
		return ids.EdgeID{}, err
	}
	for _, endpoint := range []ids.NodeID{e.Src, e.Dst} {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, endpoint[:]).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ids.EdgeID{}, ErrInvariant
		}
		if err != nil {
			return ids.EdgeID{}, fmt.Errorf("failed to check endpoint: %w", err)
		}
	}

	id := ids.EdgeIDFor(e.Src, uint32(e.Rel), e.Dst, e.Layer)
	ts := time.Now().UnixNano()

	existing, err := s.GetEdge(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ids.EdgeID{}, err
	}
	if existing != nil {
		existing.WCore = mergeWeight(existing.WCore, e.WCore)
		existing.WCtx = mergeWeight(existing.WCtx, e.WCtx)
		existing.RefreshW()
		existing.Count++
		existing.Flags |= e.Flags
		_, err = s.db.ExecContext(ctx,
			`UPDATE edges SET w = ?, w_core = ?, w_ctx = ?, ts_last = ?, count = ?, flags = ?, prune_candidate = 0 WHERE id = ?`,
			existing.W, existing.WCore, existing.WCtx, ts, existing.Count, uint32(existing.Flags), id[:])
		if err != nil {
			return ids.EdgeID{}, fmt.Errorf("failed to merge edge: %w", err)
		}
		e.ID = id
		return id, nil
	}

	stored := e.Clone()
	stored.RefreshW()
	if stored.Count == 0 {
		stored.Count = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO edges (id, src, rel, dst, layer, w, w_core, w_ctx, ts_last, count, flags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id[:], e.Src[:], uint32(e.Rel), e.Dst[:], e.Layer,
		stored.W, stored.WCore, stored.WCtx, ts, stored.Count, uint32(stored.Flags))
	if err != nil {
		return ids.EdgeID{}, fmt.Errorf("failed to insert edge: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE nodes SET degree_hint = (SELECT COUNT(*) FROM edges WHERE src = ?) WHERE id = ?`,
		e.Src[:], e.Src[:])
	if err != nil {
		return ids.EdgeID{}, fmt.Errorf("failed to refresh degree hint: %w", err)
	}
	e.ID = id
	return id, nil
}

// GetEdge retrieves an edge by ID.
func (s *SQLiteStore) GetEdge(ctx context.Context, id ids.EdgeID) (*Edge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT src, rel, dst, layer, w, w_core, w_ctx, ts_last, count, flags FROM edges WHERE id = ?`, id[:])
	return scanEdge(row, id)
}

func scanEdge(row *sql.Row, id ids.EdgeID) (*Edge, error) {
	e := &Edge{ID: id}
	var src, dst []byte
	var rel, flags uint32
	err := row.Scan(&src, &rel, &dst, &e.Layer, &e.W, &e.WCore, &e.WCtx, &e.TSLast, &e.Count, &flags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}
	copy(e.Src[:], src)
	copy(e.Dst[:], dst)
	e.Rel = Rel(rel)
	e.Flags = EdgeFlags(flags)
	return e, nil
}

// ReinforceEdge applies additive weight deltas to both tracks.
func (s *SQLiteStore) ReinforceEdge(ctx context.Context, id ids.EdgeID, dCore, dCtx float64) (*Edge, error) {
	e, err := s.GetEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	e.WCore = clamp01(float64(e.WCore) + dCore)
	e.WCtx = clamp01(float64(e.WCtx) + dCtx)
	e.RefreshW()
	e.Count++
	ts := time.Now().UnixNano()
	if ts > e.TSLast {
		e.TSLast = ts
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE edges SET w = ?, w_core = ?, w_ctx = ?, ts_last = ?, count = ?, prune_candidate = 0 WHERE id = ?`,
		e.W, e.WCore, e.WCtx, e.TSLast, e.Count, id[:])
	if err != nil {
		return nil, fmt.Errorf("failed to reinforce edge: %w", err)
	}
	return e, nil
}

// OutEdges returns the outgoing adjacency filtered by the relation mask.
func (s *SQLiteStore) OutEdges(ctx context.Context, node ids.NodeID, mask RelMask) ([]*Edge, error) {
	return s.adjacency(ctx, `SELECT id, src, rel, dst, layer, w, w_core, w_ctx, ts_last, count, flags FROM edges WHERE src = ?`, node, mask)
}

// InEdges returns the incoming adjacency filtered by the relation mask.
func (s *SQLiteStore) InEdges(ctx context.Context, node ids.NodeID, mask RelMask) ([]*Edge, error) {
	return s.adjacency(ctx, `SELECT id, src, rel, dst, layer, w, w_core, w_ctx, ts_last, count, flags FROM edges WHERE dst = ?`, node, mask)
}

func (s *SQLiteStore) adjacency(ctx context.Context, query string, node ids.NodeID, mask RelMask) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, node[:])
	if err != nil {
		return nil, fmt.Errorf("failed to query adjacency: %w", err)
	}
	defer rows.Close()

	var result []*Edge
	for rows.Next() {
		e := &Edge{}
		var id, src, dst []byte
		var rel, flags uint32
		if err := rows.Scan(&id, &src, &rel, &dst, &e.Layer, &e.W, &e.WCore, &e.WCtx, &e.TSLast, &e.Count, &flags); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		copy(e.ID[:], id)
		copy(e.Src[:], src)
		copy(e.Dst[:], dst)
		e.Rel = Rel(rel)
		e.Flags = EdgeFlags(flags)
		if !mask.Test(e.Rel) {
			continue
		}
		result = append(result, e)
	}
	if result == nil {
		result = []*Edge{}
	}
	return result, rows.Err()
}

// ComposePath stores the edge sequence as a path.
func (s *SQLiteStore) ComposePath(ctx context.Context, edges []ids.EdgeID) (*Path, error) {
	if len(edges) == 0 {
		return nil, ErrInvariant
	}
	var sum float64
	for _, id := range edges {
		e, err := s.GetEdge(ctx, id)
		if err != nil {
			return nil, err
		}
		sum += float64(e.W)
	}
	p := &Path{
		ID:    ids.PathIDFor(edges),
		Edges: append([]ids.EdgeID(nil), edges...),
		Score: float32(sum / float64(len(edges))),
	}
	blob := make([]byte, 0, len(edges)*32)
	for i := range edges {
		blob = append(blob, edges[i][:]...)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO paths (id, edge_ids, score) VALUES (?, ?, ?)`,
		p.ID[:], blob, p.Score)
	if err != nil {
		return nil, fmt.Errorf("failed to store path: %w", err)
	}
	return p, nil
}

// GetPath retrieves a stored path by ID.
func (s *SQLiteStore) GetPath(ctx context.Context, id ids.PathID) (*Path, error) {
	var blob []byte
	var score float32
	err := s.db.QueryRowContext(ctx, `SELECT edge_ids, score FROM paths WHERE id = ?`, id[:]).Scan(&blob, &score)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get path: %w", err)
	}
	if len(blob)%32 != 0 {
		return nil, fmt.Errorf("%w: corrupt path edge list", ErrFormat)
	}
	p := &Path{ID: id, Score: score, Edges: make([]ids.EdgeID, len(blob)/32)}
	for i := range p.Edges {
		copy(p.Edges[i][:], blob[i*32:(i+1)*32])
	}
	return p, nil
}

// DecayPass multiplies both tracks of every non-anchor edge by (1-beta) and
// marks prune candidates.
func (s *SQLiteStore) DecayPass(ctx context.Context, betaCtx, betaCore float64) error {
	anchorBit := uint32(EdgeAnchor)
	_, err := s.db.ExecContext(ctx, `
		UPDATE edges SET
			w_ctx = MAX(0, w_ctx * (1 - ?)),
			w_core = MAX(0, w_core * (1 - ?)),
			w = ? * MAX(0, w_ctx * (1 - ?)) + (1 - ?) * MAX(0, w_core * (1 - ?))
		WHERE (flags & ?) = 0`,
		betaCtx, betaCore, LambdaMix, betaCtx, LambdaMix, betaCore, anchorBit)
	if err != nil {
		return fmt.Errorf("failed to decay edges: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE edges SET prune_candidate = 1 WHERE (flags & ?) = 0 AND w < ? AND count < 2`,
		anchorBit, PruneThreshold)
	if err != nil {
		return fmt.Errorf("failed to mark prune candidates: %w", err)
	}
	return nil
}

// Compact deletes queued prune candidates that still qualify.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	anchorBit := uint32(EdgeAnchor)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM edges WHERE prune_candidate = 1 AND (flags & ?) = 0 AND w < ? AND count < 2`,
		anchorBit, PruneThreshold)
	if err != nil {
		return fmt.Errorf("failed to compact edges: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE edges SET prune_candidate = 0`)
	if err != nil {
		return fmt.Errorf("failed to clear prune candidates: %w", err)
	}
	return nil
}

// NodeCount returns the number of stored nodes.
func (s *SQLiteStore) NodeCount(ctx context.Context) (int64, error) {
	return s.count(ctx, "nodes")
}

// EdgeCount returns the number of stored edges.
func (s *SQLiteStore) EdgeCount(ctx context.Context) (int64, error) {
	return s.count(ctx, "edges")
}

// PathCount returns the number of stored paths.
func (s *SQLiteStore) PathCount(ctx context.Context) (int64, error) {
	return s.count(ctx, "paths")
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// SizeScaling returns the current size-relative reinforcement multiplier.
func (s *SQLiteStore) SizeScaling() float64 {
	ctx := context.Background()
	n, err := s.NodeCount(ctx)
	if err != nil {
		return 1.0
	}
	e, err := s.EdgeCount(ctx)
	if err != nil {
		return 1.0
	}
	return sizeScaling(n, e)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
