// Package beam implements bounded multi-path exploration over the graph:
// a score-ordered beam expanded with top-k or nucleus (top-p) selection,
// per-path loop detection, duplicate suppression and an optional dynamic
// inference step that materializes missing edges through the store.
package beam

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/Jak3Gil/melvin/pkg/fingerprint"
	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/query"
	"github.com/Jak3Gil/melvin/pkg/scoring"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Params bounds one search invocation.
type Params struct {
	BeamWidth           int     `yaml:"beam_width"`
	MaxDepth            int     `yaml:"max_depth"`
	TopK                int     `yaml:"top_k"`
	TopP                float64 `yaml:"top_p"`
	StopThreshold       float64 `yaml:"stop_threshold"`
	LoopDetection       bool    `yaml:"loop_detection"`
	StochasticExpansion bool    `yaml:"stochastic_expansion"`
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		BeamWidth:           32,
		MaxDepth:            5,
		TopK:                8,
		TopP:                0.9,
		StopThreshold:       0.05,
		LoopDetection:       true,
		StochasticExpansion: true,
	}
}

// Path is one candidate reasoning chain under construction.
type Path struct {
	Edges      []*store.Edge
	Nodes      []ids.NodeID // visited nodes in order, starting node first
	Score      float64
	Confidence float64
	Complete   bool

	startPrior float64
	stepSum    float64

	visitedNodes map[ids.NodeID]struct{}
	visitedEdges map[ids.EdgeID]struct{}
}

// End returns the path's current end node.
func (p *Path) End() ids.NodeID {
	return p.Nodes[len(p.Nodes)-1]
}

// EdgeIDs returns the ordered edge ID list.
func (p *Path) EdgeIDs() []ids.EdgeID {
	out := make([]ids.EdgeID, len(p.Edges))
	for i, e := range p.Edges {
		out[i] = e.ID
	}
	return out
}

// fingerprintID canonically identifies the ordered edge list, for
// deduplication across a generation.
func (p *Path) fingerprintID() ids.PathID {
	return ids.PathIDFor(p.EdgeIDs())
}

func (p *Path) clone() *Path {
	c := &Path{
		Edges:        append([]*store.Edge(nil), p.Edges...),
		Nodes:        append([]ids.NodeID(nil), p.Nodes...),
		Score:        p.Score,
		Confidence:   p.Confidence,
		startPrior:   p.startPrior,
		stepSum:      p.stepSum,
		visitedNodes: make(map[ids.NodeID]struct{}, len(p.visitedNodes)+1),
		visitedEdges: make(map[ids.EdgeID]struct{}, len(p.visitedEdges)+1),
	}
	for id := range p.visitedNodes {
		c.visitedNodes[id] = struct{}{}
	}
	for id := range p.visitedEdges {
		c.visitedEdges[id] = struct{}{}
	}
	return c
}

// Engine runs searches against a store. Each search allocates its own state,
// so concurrent searches never interfere.
type Engine struct {
	store   store.Store
	weights scoring.Weights
	logger  *slog.Logger

	seed             int64
	enableInference  bool
	minInferenceConf float64
	explorationBonus float64
}

// NewEngine creates a search engine over the store.
func NewEngine(s store.Store, weights scoring.Weights, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:            s,
		weights:          weights,
		logger:           logger,
		minInferenceConf: 0.3,
		explorationBonus: 0.1,
	}
}

// SetSeed fixes the random source so expansion order is reproducible.
func (e *Engine) SetSeed(seed int64) { e.seed = seed }

// SetWeights replaces the scoring weights for subsequent searches.
func (e *Engine) SetWeights(w scoring.Weights) { e.weights = w }

// EnableInference toggles dynamic edge materialization during expansion.
func (e *Engine) EnableInference(enabled bool, minConfidence float64) {
	e.enableInference = enabled
	if minConfidence > 0 {
		e.minInferenceConf = minConfidence
	}
}

// scoredEdge pairs an edge with its step score and resolved destination.
type scoredEdge struct {
	edge  *store.Edge
	dst   *store.Node
	score float64
}

// Search explores from the start node under the given relation mask, bias
// row and parameters. A zero start node yields an empty result. The search
// honors the context's deadline: when it expires the best completed paths so
// far are returned. Search never panics and never returns an error; a failed
// store lookup terminates only the affected branch.
func (e *Engine) Search(ctx context.Context, q *query.Query, start ids.NodeID, mask store.RelMask, bias scoring.RelBias, params Params) []*Path {
	if start.IsZero() {
		return nil
	}
	startNode, err := e.store.GetNode(ctx, start)
	if err != nil {
		return nil
	}
	rng := rand.New(rand.NewSource(e.seed))

	outDeg := int(startNode.DegreeHint)
	prior := e.weights.NodePrior(q, startNode, outDeg)

	root := &Path{
		Nodes:        []ids.NodeID{start},
		startPrior:   prior,
		stepSum:      0,
		visitedNodes: map[ids.NodeID]struct{}{start: {}},
		visitedEdges: map[ids.EdgeID]struct{}{},
	}
	root.Score = e.weights.PathScore(prior, 0, 0, 0)
	root.Confidence = scoring.Confidence(root.Score, 0)

	beam := []*Path{root}
	var completed []*Path
	bestPrev := root.Score

	for depth := 0; depth < params.MaxDepth && len(beam) > 0; depth++ {
		if deadlineExceeded(ctx) {
			break
		}

		// Best beamWidth incomplete paths expand this generation.
		sortPaths(beam)
		frontier := beam
		if len(frontier) > params.BeamWidth {
			frontier = frontier[:params.BeamWidth]
		}

		var generation []*Path
		seen := make(map[ids.PathID]struct{})
		for _, path := range frontier {
			expansions := e.expand(ctx, q, path, mask, bias, params, rng)
			if len(expansions) == 0 {
				path.Complete = true
				completed = append(completed, path)
				continue
			}
			for _, next := range expansions {
				fp := next.fingerprintID()
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}
				generation = append(generation, next)
			}
		}
		if len(generation) == 0 {
			break
		}

		bestNew := generation[0].Score
		for _, p := range generation[1:] {
			if p.Score > bestNew {
				bestNew = p.Score
			}
		}
		beam = generation
		if bestNew-bestPrev < params.StopThreshold {
			break
		}
		bestPrev = bestNew
	}

	// Whatever is still on the beam when depth or deadline runs out counts
	// as complete.
	for _, p := range beam {
		if !p.Complete {
			p.Complete = true
			completed = append(completed, p)
		}
	}

	e.finalize(completed)
	return completed
}

// expand grows one path by every selected outgoing edge.
func (e *Engine) expand(ctx context.Context, q *query.Query, path *Path, mask store.RelMask, bias scoring.RelBias, params Params, rng *rand.Rand) []*Path {
	current := path.End()
	edges, err := e.store.OutEdges(ctx, current, mask)
	if err != nil {
		e.logger.Warn("adjacency lookup failed, terminating branch", "node", current.Short(), "error", err)
		return nil
	}

	if len(edges) == 0 && e.enableInference {
		if inferred := e.inferEdge(ctx, q, path, current); inferred != nil {
			edges = append(edges, inferred)
		}
	}
	if len(edges) == 0 {
		return nil
	}

	scored := make([]scoredEdge, 0, len(edges))
	for _, edge := range edges {
		dst, err := e.store.GetNode(ctx, edge.Dst)
		if err != nil {
			continue // dangling edge, skip this expansion only
		}
		scored = append(scored, scoredEdge{
			edge:  edge,
			dst:   dst,
			score: e.weights.StepScore(q, edge, dst, bias),
		})
	}
	if len(scored) == 0 {
		return nil
	}

	selected := e.selectEdges(scored, params, rng)

	var out []*Path
	for _, se := range selected {
		if params.LoopDetection {
			if _, visited := path.visitedNodes[se.edge.Dst]; visited {
				continue
			}
			if _, visited := path.visitedEdges[se.edge.ID]; visited {
				continue
			}
		}
		next := path.clone()
		next.Edges = append(next.Edges, se.edge)
		next.Nodes = append(next.Nodes, se.edge.Dst)
		next.visitedNodes[se.edge.Dst] = struct{}{}
		next.visitedEdges[se.edge.ID] = struct{}{}
		next.stepSum += se.score
		next.Score = e.weights.PathScore(next.startPrior, next.stepSum, 0, 0)
		next.Confidence = scoring.Confidence(next.Score, 0)
		out = append(out, next)
	}
	return out
}

// selectEdges picks the expansion set: the smallest softmax-nucleus prefix
// reaching top_p when stochastic expansion is on (always at least one), the
// plain top_k otherwise. With stochastic expansion the seeded source may
// admit one extra edge past the nucleus as exploration.
func (e *Engine) selectEdges(scored []scoredEdge, params Params, rng *rand.Rand) []scoredEdge {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return lessID(scored[i].edge.ID, scored[j].edge.ID)
	})

	if !params.StochasticExpansion {
		if len(scored) > params.TopK {
			return scored[:params.TopK]
		}
		return scored
	}

	logits := make([]float64, len(scored))
	for i, se := range scored {
		logits[i] = se.score
	}
	probs := scoring.Softmax(logits)

	cut := len(scored)
	var cum float64
	for i, p := range probs {
		cum += p
		if cum >= params.TopP {
			cut = i + 1
			break
		}
	}
	if cut < 1 {
		cut = 1
	}
	if cut < len(scored) && rng.Float64() < e.explorationBonus {
		cut++
	}
	return scored[:cut]
}

// inferEdge materializes a LEAP edge from a dead-end node to the most
// similar query focus node, when the similarity clears the inference
// threshold. The weight is confidence x size scaling x (1 - margin), where
// margin is the similarity gap to the runner-up candidate.
func (e *Engine) inferEdge(ctx context.Context, q *query.Query, path *Path, current ids.NodeID) *store.Edge {
	currentNode, err := e.store.GetNode(ctx, current)
	if err != nil {
		return nil
	}

	var best, second float64
	var bestID ids.NodeID
	for _, focus := range q.FocusNodes {
		if focus == current {
			continue
		}
		if _, visited := path.visitedNodes[focus]; visited {
			continue
		}
		candidate, err := e.store.GetNode(ctx, focus)
		if err != nil {
			continue
		}
		sim := similarity(currentNode.Text(), candidate.Text())
		if sim > best {
			second = best
			best = sim
			bestID = focus
		} else if sim > second {
			second = sim
		}
	}
	if bestID.IsZero() || best < e.minInferenceConf {
		return nil
	}

	margin := best - second
	w := clampWeight(best * e.store.SizeScaling() * (1 - margin))
	edge := &store.Edge{
		Src:   current,
		Dst:   bestID,
		Rel:   store.RelLeap,
		Layer: 1,
		WCore: w,
		WCtx:  w,
		Flags: store.EdgeInferred,
	}
	edge.RefreshW()
	if _, err := e.store.UpsertEdge(ctx, edge); err != nil {
		e.logger.Warn("inferred edge rejected", "error", err)
		return nil
	}
	stored, err := e.store.GetEdge(ctx, edge.ID)
	if err != nil {
		return nil
	}
	return stored
}

// finalize recomputes each completed path's score with alternative-route
// support and sorts by score with deterministic tie-breaks.
func (e *Engine) finalize(completed []*Path) {
	endCounts := make(map[ids.NodeID]int, len(completed))
	for _, p := range completed {
		endCounts[p.End()]++
	}
	for _, p := range completed {
		alt := endCounts[p.End()] - 1
		repeats := p.repeatCount()
		p.Score = e.weights.PathScore(p.startPrior, p.stepSum, alt, repeats)
		p.Confidence = scoring.Confidence(p.Score, float64(alt))
	}
	sortPaths(completed)
}

// repeatCount counts node revisits within the path; zero when loop detection
// held.
func (p *Path) repeatCount() int {
	seen := make(map[ids.NodeID]struct{}, len(p.Nodes))
	repeats := 0
	for _, n := range p.Nodes {
		if _, ok := seen[n]; ok {
			repeats++
			continue
		}
		seen[n] = struct{}{}
	}
	return repeats
}

// Sort orders paths by score descending with the engine's deterministic
// tie-breaks. Exposed so multi-start callers can merge result sets.
func Sort(paths []*Path) { sortPaths(paths) }

// sortPaths orders by score descending; ties break by shorter length, then
// higher confidence, then lexicographic end-node ID.
func sortPaths(paths []*Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Edges) != len(b.Edges) {
			return len(a.Edges) < len(b.Edges)
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		ae, be := a.End(), b.End()
		return ae.Less(be)
	})
}

func deadlineExceeded(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func lessID(a, b ids.EdgeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func clampWeight(v float64) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return float32(v)
}

func similarity(a, b string) float64 {
	return fingerprint.Cosine(fingerprint.Compute(a), fingerprint.Compute(b))
}
