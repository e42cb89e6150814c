// Package mining grows the graph from observed node sequences: frequent
// diverse n-grams become generalization nodes, high-PMI distant pairs become
// LEAP edges, and consistent lead/lag pairs annotate edges as causal.
package mining

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Config holds the mining thresholds.
type Config struct {
	ThetaPat float64 `yaml:"theta_pat"` // minimum pattern frequency
	ThetaDiv float64 `yaml:"theta_div"` // minimum pattern diversity
	ThetaPMI float64 `yaml:"theta_pmi"` // minimum PMI for LEAP edges

	MinPatternLength int `yaml:"min_pattern_length"`
	MaxPatternLength int `yaml:"max_pattern_length"`

	WindowSize  int     `yaml:"window_size"`  // staleness horizon, in minutes since last seen
	DecayFactor float64 `yaml:"decay_factor"` // applied to stale pattern counts

	MaxGeneralizationsPerBatch int `yaml:"max_generalizations_per_batch"`

	MinCooccurrenceCount int `yaml:"min_cooccurrence_count"`
	MaxTemporalDistance  int `yaml:"max_temporal_distance"`

	// Causal strength bounds. Perfect 1.0 strength is suspected spurious and
	// rejected by the upper bound.
	CausalMinStrength float64 `yaml:"causal_min_strength"`
	CausalMaxStrength float64 `yaml:"causal_max_strength"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ThetaPat:                   8,
		ThetaDiv:                   0.4,
		ThetaPMI:                   1.0,
		MinPatternLength:           2,
		MaxPatternLength:           4,
		WindowSize:                 100,
		DecayFactor:                0.99,
		MaxGeneralizationsPerBatch: 10,
		MinCooccurrenceCount:       3,
		MaxTemporalDistance:        5,
		CausalMinStrength:          0.6,
		CausalMaxStrength:          0.9,
	}
}

// ngramStat tracks one observed pattern.
type ngramStat struct {
	nodes       []ids.NodeID
	count       float64
	contexts    map[uint64]struct{}
	firstSeen   int64
	lastSeen    int64
	generalized bool
}

func (s *ngramStat) diversity() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(len(s.contexts)) / s.count
}

type nodePair struct {
	a, b ids.NodeID
}

// Miner coordinates the three sub-miners. Statistics are private; graph
// writes go through the store's upsert contract.
type Miner struct {
	store  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	config Config

	// Pattern mining.
	ngrams       map[string]*ngramStat
	seqProcessed int64

	// PMI mining.
	nodeCounts   map[ids.NodeID]float64
	pairCounts   map[nodePair]float64
	totalObs     float64
	leapCreated  map[nodePair]struct{}

	// Causal mining.
	leadCounts map[nodePair]uint32
}

// NewMiner creates a miner over the store.
func NewMiner(s store.Store, config Config, logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{
		store:       s,
		logger:      logger,
		config:      config,
		ngrams:      make(map[string]*ngramStat),
		nodeCounts:  make(map[ids.NodeID]float64),
		pairCounts:  make(map[nodePair]float64),
		leapCreated: make(map[nodePair]struct{}),
		leadCounts:  make(map[nodePair]uint32),
	}
}

// SetConfig replaces the mining thresholds.
func (m *Miner) SetConfig(c Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = c
}

// Config returns the current mining thresholds.
func (m *Miner) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// MineSequence feeds one observed node sequence to all three sub-miners.
func (m *Miner) MineSequence(seq []ids.NodeID) {
	if len(seq) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano()
	m.seqProcessed++
	m.minePatterns(seq, now)
	m.minePMI(seq)
	m.mineCausal(seq)
}

// minePatterns extracts all qualifying n-grams and updates their statistics.
func (m *Miner) minePatterns(seq []ids.NodeID, now int64) {
	maxN := m.config.MaxPatternLength
	if maxN > len(seq) {
		maxN = len(seq)
	}
	for n := m.config.MinPatternLength; n <= maxN; n++ {
		for i := 0; i+n <= len(seq); i++ {
			gram := seq[i : i+n]
			key := gramKey(gram)
			stat, ok := m.ngrams[key]
			if !ok {
				stat = &ngramStat{
					nodes:     append([]ids.NodeID(nil), gram...),
					contexts:  make(map[uint64]struct{}),
					firstSeen: now,
				}
				m.ngrams[key] = stat
			}
			stat.count++
			stat.lastSeen = now
			stat.contexts[contextSignature(seq, i, n)] = struct{}{}
		}
	}
}

// minePMI updates marginal and joint counts. Only pairs separated by more
// than the temporal distance cap count; adjacency is handled by explicit
// temporal edges.
func (m *Miner) minePMI(seq []ids.NodeID) {
	for _, id := range seq {
		m.nodeCounts[id]++
		m.totalObs++
	}
	for i := 0; i < len(seq); i++ {
		for j := i + m.config.MaxTemporalDistance + 1; j < len(seq); j++ {
			m.pairCounts[orderedPair(seq[i], seq[j])]++
		}
	}
}

// mineCausal updates lead/lag counts for all ordered pairs.
func (m *Miner) mineCausal(seq []ids.NodeID) {
	for i := 0; i < len(seq); i++ {
		for j := i + 1; j < len(seq); j++ {
			if seq[i] == seq[j] {
				continue
			}
			m.leadCounts[nodePair{seq[i], seq[j]}]++
		}
	}
}

// pmi computes log(P(a,b) / (P(a) P(b))) over the accumulated observations.
func (m *Miner) pmi(pair nodePair) float64 {
	if m.totalObs == 0 {
		return math.Inf(-1)
	}
	joint := m.pairCounts[pair] / m.totalObs
	pa := m.nodeCounts[pair.a] / m.totalObs
	pb := m.nodeCounts[pair.b] / m.totalObs
	if joint == 0 || pa == 0 || pb == 0 {
		return math.Inf(-1)
	}
	return math.Log(joint / (pa * pb))
}

// RunMiningPass refreshes pattern statistics, creates generalization nodes
// for qualified candidates, promotes PMI candidates to LEAP edges and
// propagates causal annotations. Inner failures abort only the affected
// candidate.
func (m *Miner) RunMiningPass(ctx context.Context) error {
	m.mu.Lock()
	m.decayStats()
	genCandidates := m.generalizationCandidates()
	leapCandidates := m.leapCandidates()
	causalCandidates := m.causalCandidates()
	m.mu.Unlock()

	created := 0
	for _, stat := range genCandidates {
		if created >= m.Config().MaxGeneralizationsPerBatch {
			break
		}
		if err := m.createGeneralization(ctx, stat); err != nil {
			m.logger.Warn("generalization skipped", "error", err)
			continue
		}
		created++
	}

	promoted := 0
	for _, cand := range leapCandidates {
		if err := m.createLeapEdge(ctx, cand.pair, cand.pmi); err != nil {
			m.logger.Warn("leap promotion skipped", "error", err)
			continue
		}
		promoted++
	}

	annotated := 0
	for _, pair := range causalCandidates {
		n, err := m.annotateCausal(ctx, pair)
		if err != nil {
			m.logger.Warn("causal annotation skipped", "error", err)
			continue
		}
		annotated += n
	}

	m.logger.Info("mining pass complete",
		"generalizations", created, "leap_edges", promoted, "causal_annotations", annotated)
	return nil
}

// decayStats ages patterns untouched for longer than the window and drops
// those that fell below two occurrences. Graph records are untouched.
func (m *Miner) decayStats() {
	horizon := time.Now().Add(-time.Duration(m.config.WindowSize) * time.Minute).UnixNano()
	for key, stat := range m.ngrams {
		if stat.lastSeen < horizon {
			stat.count *= m.config.DecayFactor
		}
		if stat.count < 2 {
			delete(m.ngrams, key)
		}
	}
}

type leapCandidate struct {
	pair nodePair
	pmi  float64
}

// generalizationCandidates returns patterns passing both the frequency and
// diversity thresholds, not yet generalized, most frequent first.
func (m *Miner) generalizationCandidates() []*ngramStat {
	var out []*ngramStat
	for _, stat := range m.ngrams {
		if stat.generalized {
			continue
		}
		if stat.count >= m.config.ThetaPat && stat.diversity() >= m.config.ThetaDiv {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return gramKey(out[i].nodes) < gramKey(out[j].nodes)
	})
	return out
}

func (m *Miner) leapCandidates() []leapCandidate {
	var out []leapCandidate
	for pair, count := range m.pairCounts {
		if count < float64(m.config.MinCooccurrenceCount) {
			continue
		}
		if _, done := m.leapCreated[pair]; done {
			continue
		}
		if p := m.pmi(pair); p >= m.config.ThetaPMI {
			out = append(out, leapCandidate{pair: pair, pmi: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pmi > out[j].pmi })
	return out
}

// causalCandidates returns ordered pairs whose lead/lag strength falls inside
// the accepted band. Strength 1.0 means the reverse ordering was never seen,
// which is suspected spurious on small counts, hence the upper bound.
func (m *Miner) causalCandidates() []nodePair {
	var out []nodePair
	for pair := range m.leadCounts {
		lead := m.leadCounts[pair]
		lag := m.leadCounts[nodePair{pair.b, pair.a}]
		total := lead + lag
		if total == 0 {
			continue
		}
		strength := float64(lead) / float64(total)
		if strength >= m.config.CausalMinStrength && strength <= m.config.CausalMaxStrength {
			out = append(out, pair)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessNodeID(out[i].a, out[j].a) || (out[i].a == out[j].a && lessNodeID(out[i].b, out[j].b))
	})
	return out
}

// createGeneralization materializes a pattern as a generalization node plus
// one GENERALIZATION edge from each constituent.
func (m *Miner) createGeneralization(ctx context.Context, stat *ngramStat) error {
	label, err := m.patternLabel(ctx, stat.nodes)
	if err != nil {
		return err
	}

	var nodeType store.NodeType
	switch {
	case len(stat.nodes) <= 2:
		nodeType = store.NodePhrase
	case len(stat.nodes) <= 4:
		nodeType = store.NodeConcept
	default:
		nodeType = store.NodeAbstraction
	}

	gen := &store.Node{
		Type:    nodeType,
		Flags:   store.NodeGeneralized,
		Payload: []byte(label),
	}
	genID, err := m.store.UpsertNode(ctx, gen)
	if err != nil {
		return fmt.Errorf("failed to create generalization node: %w", err)
	}

	for _, constituent := range stat.nodes {
		edge := &store.Edge{
			Src:   constituent,
			Dst:   genID,
			Rel:   store.RelGeneralization,
			Layer: 2,
			WCore: 0.8,
			WCtx:  0,
			Flags: store.EdgeGeneralized,
		}
		edge.RefreshW()
		if _, err := m.store.UpsertEdge(ctx, edge); err != nil {
			m.logger.Warn("generalization edge skipped", "constituent", constituent.Short(), "error", err)
		}
	}

	m.mu.Lock()
	stat.generalized = true
	m.mu.Unlock()
	return nil
}

// createLeapEdge materializes one LEAP edge with weight clamp((pmi+2)/4, 0, 1).
func (m *Miner) createLeapEdge(ctx context.Context, pair nodePair, pmi float64) error {
	w := (pmi + 2) / 4
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	edge := &store.Edge{
		Src:   pair.a,
		Dst:   pair.b,
		Rel:   store.RelLeap,
		Layer: 1,
		WCore: float32(w),
		WCtx:  0,
		Flags: store.EdgeInferred,
	}
	edge.RefreshW()
	if _, err := m.store.UpsertEdge(ctx, edge); err != nil {
		return fmt.Errorf("failed to create leap edge: %w", err)
	}
	m.mu.Lock()
	m.leapCreated[pair] = struct{}{}
	m.mu.Unlock()
	return nil
}

// annotateCausal sets the causal flag on every existing edge between the
// pair, in lead direction. Returns how many edges were annotated.
func (m *Miner) annotateCausal(ctx context.Context, pair nodePair) (int, error) {
	edges, err := m.store.OutEdges(ctx, pair.a, store.AllRelations())
	if err != nil {
		return 0, err
	}
	annotated := 0
	for _, e := range edges {
		if e.Dst != pair.b || e.Flags&store.EdgeCausal != 0 {
			continue
		}
		mark := e.Clone()
		mark.Flags |= store.EdgeCausal
		mark.WCore = 0
		mark.WCtx = 0
		mark.W = 0
		if _, err := m.store.UpsertEdge(ctx, mark); err != nil {
			m.logger.Warn("causal flag skipped", "edge", e.ID.Short(), "error", err)
			continue
		}
		annotated++
	}
	return annotated, nil
}

// patternLabel joins the constituent node texts into the generalization
// payload.
func (m *Miner) patternLabel(ctx context.Context, nodes []ids.NodeID) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, id := range nodes {
		n, err := m.store.GetNode(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to resolve constituent %s: %w", id.Short(), err)
		}
		parts = append(parts, n.Text())
	}
	return strings.Join(parts, " "), nil
}

// SequencesProcessed returns how many sequences the miner has consumed.
func (m *Miner) SequencesProcessed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seqProcessed
}

// PatternCount returns the current number of tracked n-gram statistics.
func (m *Miner) PatternCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ngrams)
}

func gramKey(nodes []ids.NodeID) string {
	var b strings.Builder
	b.Grow(len(nodes) * 65)
	for i := range nodes {
		b.WriteString(nodes[i].String())
		b.WriteByte('/')
	}
	return b.String()
}

// contextSignature reduces the surrounding sequence (up to two nodes either
// side of the gram) to a 64-bit hash.
func contextSignature(seq []ids.NodeID, start, n int) uint64 {
	h := fnv.New64a()
	lo := start - 2
	if lo < 0 {
		lo = 0
	}
	hi := start + n + 2
	if hi > len(seq) {
		hi = len(seq)
	}
	var buf [8]byte
	for i := lo; i < hi; i++ {
		if i >= start && i < start+n {
			continue
		}
		binary.BigEndian.PutUint64(buf[:], ids.Hash64(seq[i][:]))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func orderedPair(a, b ids.NodeID) nodePair {
	if lessNodeID(b, a) {
		return nodePair{b, a}
	}
	return nodePair{a, b}
}

func lessNodeID(a, b ids.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
