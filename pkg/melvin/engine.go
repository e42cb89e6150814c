package melvin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Jak3Gil/melvin/pkg/beam"
	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/learn"
	"github.com/Jak3Gil/melvin/pkg/metrics"
	"github.com/Jak3Gil/melvin/pkg/mining"
	"github.com/Jak3Gil/melvin/pkg/nlg"
	"github.com/Jak3Gil/melvin/pkg/policy"
	"github.com/Jak3Gil/melvin/pkg/query"
	"github.com/Jak3Gil/melvin/pkg/store"
	"github.com/Jak3Gil/melvin/pkg/trace"
)

// ExternalScorer rates a (query, answer) pair in [0,1] for ex-post path
// reinforcement. Absence means identity: no extra reinforcement.
type ExternalScorer func(queryText, answer string) float64

// Engine is the top-level reasoning system: a store plus the router, beam
// engine, learner, miner and renderer, wired to metrics and tracing.
// Concurrent Reason calls against the same engine are independent.
type Engine struct {
	store     store.Store
	fileStore *store.FileStore // non-nil only for the directory backend

	router   *policy.Router
	learner  *learn.Learner
	miner    *mining.Miner
	renderer *nlg.Renderer

	collector metrics.Collector
	tracer    trace.Exporter
	logger    *slog.Logger
	extScorer ExternalScorer

	mu              sync.RWMutex
	cfg             Config
	lastMaintenance time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithTracer sets the trace exporter.
func WithTracer(t trace.Exporter) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithExternalScorer installs the optional ex-post scoring callback.
func WithExternalScorer(s ExternalScorer) Option {
	return func(e *Engine) { e.extScorer = s }
}

// WithStore substitutes a custom store backend (for example the SQLite
// mirror). Overrides the directory argument of New.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// New opens an engine. An empty dir selects the volatile in-memory backend;
// otherwise the directory-backed .melvin store is opened, created if absent.
func New(dir string, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		logger:    slog.Default(),
		collector: metrics.NewNoopCollector(),
		tracer:    trace.NewNoopExporter(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		if dir == "" {
			e.store = store.NewMemStore()
		} else {
			fs, err := store.OpenFileStore(dir)
			if err != nil {
				return nil, fmt.Errorf("failed to open store: %w", err)
			}
			e.store = fs
			e.fileStore = fs
		}
	}

	e.router = policy.NewRouter(e.store, cfg.Scoring)
	e.learner = learn.NewLearner(e.store, cfg.Learning, e.logger)
	e.miner = mining.NewMiner(e.store, cfg.Mining, e.logger)
	e.renderer = nlg.NewRenderer(e.store, cfg.NLG)
	e.lastMaintenance = time.Now()
	return e, nil
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig replaces the configuration and pushes it to every component.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	e.router.SetWeights(cfg.Scoring)
	e.learner.SetParams(cfg.Learning)
	e.miner.SetConfig(cfg.Mining)
	e.renderer.SetConfig(cfg.NLG)
}

// Reason answers a natural-language query by replaying the highest-scoring
// paths through the graph. It never returns an error for reasoning failures;
// insufficient knowledge yields the "don't know" response.
func (e *Engine) Reason(ctx context.Context, text string) (string, error) {
	cfg := e.Config()
	started := time.Now()
	rec := &trace.Record{
		Timestamp:   started,
		OperationID: uuid.New().String(),
		Operation:   "reason",
		Counters:    map[string]int64{},
	}
	defer func() {
		rec.DurationMs = time.Since(started).Milliseconds()
		if rec.Status == "" {
			rec.Status = "success"
		}
		if err := e.tracer.Export(ctx, rec); err != nil {
			e.logger.Warn("trace export failed", "error", err)
		}
		e.collector.RecordOperation(ctx, "reason", rec.Status, rec.DurationMs)
	}()

	routeStart := time.Now()
	q, class, bundle := e.router.Route(ctx, text)
	e.span(rec, "route", routeStart, nil)
	e.collector.RecordStage(ctx, "reason", "route", time.Since(routeStart).Milliseconds())

	if len(q.Tokens) == 0 || len(q.FocusNodes) == 0 {
		rec.Counters["focus_nodes"] = 0
		return cfg.NLG.InsufficientMessage, nil
	}
	rec.Counters["focus_nodes"] = int64(len(q.FocusNodes))

	searchStart := time.Now()
	paths := e.searchAllStarts(ctx, cfg, q, bundle)
	e.span(rec, "search", searchStart, nil)
	e.collector.RecordStage(ctx, "reason", "search", time.Since(searchStart).Milliseconds())
	rec.Counters["paths"] = int64(len(paths))

	if cfg.EnableLearning && len(paths) > 0 {
		reinforceStart := time.Now()
		e.reinforce(ctx, paths[0], bundle.ConfidenceThreshold)
		e.span(rec, "reinforce", reinforceStart, nil)
	}

	renderStart := time.Now()
	response := e.renderer.RenderResponse(ctx, paths, string(class.Intent))
	e.span(rec, "render", renderStart, nil)
	e.collector.RecordStage(ctx, "reason", "render", time.Since(renderStart).Milliseconds())

	if e.extScorer != nil && len(paths) > 0 {
		if score := e.extScorer(text, response); score >= 0.5 {
			e.learner.ReinforcePath(ctx, paths[0].EdgeIDs(), paths[0].Nodes, false)
		}
	}

	e.maybeRunMaintenance(ctx, cfg)
	e.refreshStorageGauges(ctx)
	return response, nil
}

// searchAllStarts runs one beam search per focus node under the policy
// bundle and merges the ranked results. Each call builds a fresh engine so
// concurrent Reason calls cannot share mutable search state.
func (e *Engine) searchAllStarts(ctx context.Context, cfg Config, q *query.Query, bundle policy.Bundle) []*beam.Path {
	searchCtx := ctx
	if cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, cfg.SearchTimeout)
		defer cancel()
	}

	be := beam.NewEngine(e.store, bundle.Weights, e.logger)
	be.SetSeed(cfg.SearchSeed)
	be.EnableInference(cfg.EnableInference, cfg.Learning.MinInferenceConfidence)

	var merged []*beam.Path
	for _, start := range q.FocusNodes {
		merged = append(merged, be.Search(searchCtx, q, start, bundle.Relations, bundle.Bias, bundle.Beam)...)
	}
	beam.Sort(merged)
	return merged
}

// reinforce strengthens the winning path's edges, persists it as a stored
// path and feeds its node sequence to the miner.
func (e *Engine) reinforce(ctx context.Context, best *beam.Path, confidenceThreshold float64) {
	if len(best.Edges) == 0 || best.Confidence < confidenceThreshold {
		return
	}
	edgeIDs := best.EdgeIDs()
	e.learner.ReinforcePath(ctx, edgeIDs, best.Nodes, true)
	if _, err := e.store.ComposePath(ctx, edgeIDs); err != nil {
		e.logger.Warn("failed to persist winning path", "error", err)
	}
	cfg := e.Config()
	if cfg.EnableMining {
		e.miner.MineSequence(best.Nodes)
	}
}

// Learn ingests one text observation: every token becomes a symbol node,
// consecutive tokens get a temporal edge, and the sequence feeds the miner
// and the context window.
func (e *Engine) Learn(ctx context.Context, text string) error {
	cfg := e.Config()
	started := time.Now()
	status := "success"
	defer func() {
		e.collector.RecordOperation(ctx, "learn", status, time.Since(started).Milliseconds())
	}()

	tokens := query.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	seq := make([]ids.NodeID, 0, len(tokens))
	for _, tok := range tokens {
		n := &store.Node{Type: store.NodeSymbol, Payload: []byte(tok)}
		id, err := e.store.UpsertNode(ctx, n)
		if err != nil {
			status = "error"
			e.collector.RecordError(ctx, "learn", ClassifyError(err))
			return fmt.Errorf("failed to upsert symbol node: %w", err)
		}
		seq = append(seq, id)
	}

	for i := 0; i+1 < len(seq); i++ {
		edge := &store.Edge{
			Src:   seq[i],
			Dst:   seq[i+1],
			Rel:   store.RelTemporal,
			Layer: 0,
			WCore: 0.5,
			WCtx:  0.5,
		}
		edge.RefreshW()
		if _, err := e.store.UpsertEdge(ctx, edge); err != nil {
			e.logger.Warn("observation edge skipped", "error", err)
		}
	}

	e.learner.PushContext(seq)
	if cfg.EnableMining {
		e.miner.MineSequence(seq)
	}
	e.refreshStorageGauges(ctx)
	return nil
}

// LearnFromSequence ingests an already-resolved node sequence: temporal
// edges between consecutive members, context push and mining. Missing nodes
// abort only their own edge.
func (e *Engine) LearnFromSequence(ctx context.Context, seq []ids.NodeID) error {
	cfg := e.Config()
	if len(seq) == 0 {
		return nil
	}
	for i := 0; i+1 < len(seq); i++ {
		edge := &store.Edge{
			Src:   seq[i],
			Dst:   seq[i+1],
			Rel:   store.RelTemporal,
			Layer: 0,
			WCore: 0.5,
			WCtx:  0.5,
		}
		edge.RefreshW()
		if _, err := e.store.UpsertEdge(ctx, edge); err != nil {
			e.logger.Warn("sequence edge skipped", "index", i, "error", err)
		}
	}
	e.learner.PushContext(seq)
	if cfg.EnableMining {
		e.miner.MineSequence(seq)
	}
	return nil
}

// DecayPass runs one dual-rate decay pass.
func (e *Engine) DecayPass(ctx context.Context) error {
	return e.learner.DecayPass(ctx)
}

// RunMaintenancePass runs decay, compaction and the mining pass. Decay and
// mining run concurrently; both synchronize at the store boundary.
func (e *Engine) RunMaintenancePass(ctx context.Context) error {
	cfg := e.Config()
	started := time.Now()
	status := "success"
	defer func() {
		e.collector.RecordOperation(ctx, "maintenance", status, time.Since(started).Milliseconds())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.learner.DecayPass(gctx); err != nil {
			return err
		}
		return e.store.Compact(gctx)
	})
	if cfg.EnableMining {
		g.Go(func() error {
			return e.miner.RunMiningPass(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		status = "error"
		e.collector.RecordError(ctx, "maintenance", ClassifyError(err))
		return fmt.Errorf("maintenance pass failed: %w", err)
	}

	if e.fileStore != nil {
		if err := e.fileStore.Flush(); err != nil {
			status = "error"
			e.collector.RecordError(ctx, "maintenance", ClassifyError(err))
			return err
		}
	}

	e.mu.Lock()
	e.lastMaintenance = time.Now()
	e.mu.Unlock()
	e.refreshStorageGauges(ctx)
	return nil
}

// maybeRunMaintenance opportunistically runs the maintenance pass when the
// configured interval has elapsed.
func (e *Engine) maybeRunMaintenance(ctx context.Context, cfg Config) {
	if cfg.MaintenanceInterval <= 0 {
		return
	}
	e.mu.RLock()
	due := time.Since(e.lastMaintenance) >= cfg.MaintenanceInterval
	e.mu.RUnlock()
	if !due {
		return
	}
	if err := e.RunMaintenancePass(ctx); err != nil {
		e.logger.Warn("opportunistic maintenance failed", "error", err)
	}
}

// NodeCount returns the number of stored nodes.
func (e *Engine) NodeCount(ctx context.Context) (int64, error) {
	return e.store.NodeCount(ctx)
}

// EdgeCount returns the number of stored edges.
func (e *Engine) EdgeCount(ctx context.Context) (int64, error) {
	return e.store.EdgeCount(ctx)
}

// PathCount returns the number of stored paths.
func (e *Engine) PathCount(ctx context.Context) (int64, error) {
	return e.store.PathCount(ctx)
}

// Store exposes the underlying store for seeding and inspection.
func (e *Engine) Store() store.Store { return e.store }

// Close flushes persistent state and closes the trace exporter.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.store.Close(); err != nil {
		firstErr = err
	}
	if err := e.tracer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) refreshStorageGauges(ctx context.Context) {
	if n, err := e.store.NodeCount(ctx); err == nil {
		e.collector.SetStorageCount(ctx, "nodes", n)
	}
	if n, err := e.store.EdgeCount(ctx); err == nil {
		e.collector.SetStorageCount(ctx, "edges", n)
	}
	if n, err := e.store.PathCount(ctx); err == nil {
		e.collector.SetStorageCount(ctx, "paths", n)
	}
}

func (e *Engine) span(rec *trace.Record, name string, started time.Time, err error) {
	s := trace.Span{
		Name:       name,
		DurationMs: time.Since(started).Milliseconds(),
		OK:         err == nil,
	}
	if err != nil {
		s.ErrorType = ClassifyError(err)
	}
	rec.Spans = append(rec.Spans, s)
}
