// Package nlg renders reasoning paths as prose. The primary renderer walks
// the best path and joins node texts with relation-coded connectors; a
// template fallback takes over when the direct rendering degenerates.
package nlg

import (
	"context"
	"strings"

	"github.com/Jak3Gil/melvin/pkg/beam"
	"github.com/Jak3Gil/melvin/pkg/ids"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Config bounds the rendering.
type Config struct {
	MaxClauses          int     `yaml:"max_clauses"`
	HighConfidence      float64 `yaml:"high_confidence"`
	MinPathConfidence   float64 `yaml:"min_path_confidence"`
	MaxResponseLength   int     `yaml:"max_response_length"`
	AntiRepeatWindow    int     `yaml:"anti_repeat_window"`
	InsufficientMessage string  `yaml:"-"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MaxClauses:          4,
		HighConfidence:      0.7,
		MinPathConfidence:   0.45,
		MaxResponseLength:   200,
		AntiRepeatWindow:    8,
		InsufficientMessage: "I don't have enough information to answer that question.",
	}
}

// reserved tokens never rendered.
var reservedTokens = map[string]struct{}{
	"<UNK>": {},
	"<PAD>": {},
	"<BOS>": {},
	"<EOS>": {},
}

// Renderer converts paths to sentences. Rendering is a pure function of
// (path, store) except for the anti-repeat window, which only suppresses
// duplicate clauses within one response.
type Renderer struct {
	store  store.Store
	config Config
}

// NewRenderer creates a renderer over the store.
func NewRenderer(s store.Store, config Config) *Renderer {
	return &Renderer{store: s, config: config}
}

// SetConfig replaces the rendering configuration.
func (r *Renderer) SetConfig(c Config) { r.config = c }

// connector returns the inline connector for a relation in the primary
// rendering.
func connector(rel store.Rel) string {
	switch rel {
	case store.RelExact:
		return "is"
	case store.RelTemporal:
		return "" // words flow
	case store.RelLeap:
		return "might relate to"
	case store.RelGeneralization:
		return "is a type of"
	}
	return "relates to"
}

// clauseTemplate returns the fallback clause for one edge.
func clauseTemplate(src, dst string, rel store.Rel) string {
	switch rel {
	case store.RelExact, store.RelGeneralization:
		return src + " is " + dst
	case store.RelTemporal, store.RelCauses:
		return src + " leads to " + dst
	case store.RelLeap:
		return src + " suggests " + dst
	}
	return src + " relates to " + dst
}

// intentConnector joins fallback clauses.
func intentConnector(intent string) string {
	switch intent {
	case "why", "causal":
		return "because"
	case "temporal":
		return "therefore"
	}
	return "and"
}

// RenderPath emits one sentence for a single path: source text, connector,
// destination text per edge, duplicate node texts collapsed, reserved tokens
// skipped, then whitespace normalization, capitalization and terminal
// punctuation.
func (r *Renderer) RenderPath(ctx context.Context, path *beam.Path) string {
	if path == nil || len(path.Edges) == 0 {
		return ""
	}
	var words []string
	last := ""
	for _, edge := range path.Edges {
		src := r.nodeText(ctx, edge.Src)
		dst := r.nodeText(ctx, edge.Dst)
		if src != "" && src != last {
			words = append(words, src)
			last = src
		}
		if conn := connector(edge.Rel); conn != "" {
			words = append(words, conn)
		}
		if dst != "" {
			words = append(words, dst)
			last = dst
		}
	}
	return polish(strings.Join(words, " "), r.config.MaxResponseLength)
}

// RenderResponse renders the ranked paths into the final answer: the best
// path directly, the template fallback when the direct rendering is
// degenerate, and the low-confidence fallback when nothing clears the
// confidence floor.
func (r *Renderer) RenderResponse(ctx context.Context, paths []*beam.Path, intent string) string {
	if len(paths) == 0 {
		return r.config.InsufficientMessage
	}

	best := paths[0]
	if best.Confidence >= r.config.MinPathConfidence {
		if direct := r.RenderPath(ctx, best); !degenerate(direct) {
			return direct
		}
		if templated := r.renderTemplated(ctx, best, intent); !degenerate(templated) {
			return templated
		}
	}

	// The best path is below the confidence floor, or both of its renderings
	// are degenerate: cite the top clauses instead.
	clauses := r.topClauses(ctx, paths, r.config.MaxClauses)
	if len(clauses) == 0 {
		return r.config.InsufficientMessage
	}
	return polish("Based on available information: "+strings.Join(clauses, "; "), r.config.MaxResponseLength)
}

// renderTemplated chains clause templates with intent-aware connectors and a
// confidence hedge.
func (r *Renderer) renderTemplated(ctx context.Context, path *beam.Path, intent string) string {
	clauses := r.pathClauses(ctx, path, r.config.MaxClauses)
	if len(clauses) == 0 {
		return ""
	}
	joined := strings.Join(clauses, " "+intentConnector(intent)+" ")
	if path.Confidence < r.config.HighConfidence {
		joined = hedge(path.Confidence) + ", " + joined
	}
	return polish(joined, r.config.MaxResponseLength)
}

// pathClauses converts each edge of a path into a template clause, with
// anti-repeat suppression inside the response.
func (r *Renderer) pathClauses(ctx context.Context, path *beam.Path, maxClauses int) []string {
	var clauses []string
	recent := make(map[string]struct{}, r.config.AntiRepeatWindow)
	for _, edge := range path.Edges {
		if len(clauses) >= maxClauses {
			break
		}
		src := r.nodeText(ctx, edge.Src)
		dst := r.nodeText(ctx, edge.Dst)
		if src == "" || dst == "" {
			continue
		}
		clause := clauseTemplate(src, dst, edge.Rel)
		if _, repeated := recent[clause]; repeated {
			continue
		}
		if len(recent) < r.config.AntiRepeatWindow {
			recent[clause] = struct{}{}
		}
		clauses = append(clauses, clause)
	}
	return clauses
}

// topClauses collects clauses from the highest-confidence paths.
func (r *Renderer) topClauses(ctx context.Context, paths []*beam.Path, maxClauses int) []string {
	var clauses []string
	for _, p := range paths {
		for _, c := range r.pathClauses(ctx, p, maxClauses-len(clauses)) {
			clauses = append(clauses, c)
		}
		if len(clauses) >= maxClauses {
			break
		}
	}
	return clauses
}

func hedge(confidence float64) string {
	if confidence >= 0.5 {
		return "likely"
	}
	return "possibly"
}

// nodeText resolves a node's payload text, skipping reserved tokens. Lookup
// failures render as empty; the response continues without the node.
func (r *Renderer) nodeText(ctx context.Context, id ids.NodeID) string {
	n, err := r.store.GetNode(ctx, id)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(n.Text())
	if _, reserved := reservedTokens[text]; reserved {
		return ""
	}
	return text
}

// degenerate reports whether a rendering is empty, too short, or purely
// punctuation.
func degenerate(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 6 {
		return true
	}
	for _, r := range trimmed {
		if r != ' ' && !strings.ContainsRune(".,;:!?-", r) {
			return false
		}
	}
	return true
}

// polish collapses whitespace runs, capitalizes the first letter, ensures
// terminal punctuation and bounds the length.
func polish(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return s
	}
	runes := []rune(s)
	if runes[0] >= 'a' && runes[0] <= 'z' {
		runes[0] = runes[0] - 'a' + 'A'
	}
	s = string(runes)
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimSpace(s[:maxLen])
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
	default:
		s += "."
	}
	return s
}
