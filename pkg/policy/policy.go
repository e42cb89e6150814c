// Package policy classifies incoming queries by intent and complexity and
// maps each classification to a bundle of beam parameters, scoring weights,
// a relation-bias row and a traversal mask.
package policy

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Jak3Gil/melvin/pkg/beam"
	"github.com/Jak3Gil/melvin/pkg/scoring"
	"github.com/Jak3Gil/melvin/pkg/store"
)

// Intent classifies what a query asks for.
type Intent string

const (
	IntentDefine   Intent = "define"
	IntentWhy      Intent = "why"
	IntentCompare  Intent = "compare"
	IntentCausal   Intent = "causal"
	IntentTemporal Intent = "temporal"
	IntentGeneral  Intent = "general"
	IntentUnknown  Intent = "unknown"
)

// Complexity classifies how much reasoning a query needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Classification is the result of routing one query.
type Classification struct {
	Intent     Intent
	Complexity Complexity
	Confidence float64
	KeyTerms   []string
	Entities   []string
}

// Bundle is the per-intent configuration handed to the beam engine.
type Bundle struct {
	Beam                beam.Params
	Weights             scoring.Weights
	Bias                scoring.RelBias
	Relations           store.RelMask
	ConfidenceThreshold float64
}

// Pattern-matched intent heads, tried in order.
var intentPatterns = []struct {
	re     *regexp.Regexp
	intent Intent
}{
	{regexp.MustCompile(`^(what is|what are|define|meaning of|what does .* mean)`), IntentDefine},
	{regexp.MustCompile(`^(is|are|was|were)\b`), IntentDefine},
	{regexp.MustCompile(`^(why does|why is|why are|why do|how does|how do)`), IntentWhy},
	{regexp.MustCompile(`^(compare|which is better|difference between|versus)`), IntentCompare},
	{regexp.MustCompile(`^(what causes|what leads to|what results in)`), IntentCausal},
	{regexp.MustCompile(`^(what happens after|what comes before|what happens when|what follows)`), IntentTemporal},
}

// Keyword fallback weights when no pattern head matches.
var intentKeywords = map[string]struct {
	intent Intent
	weight float64
}{
	"what":    {IntentDefine, 0.6},
	"define":  {IntentDefine, 1.0},
	"meaning": {IntentDefine, 0.9},
	"is":      {IntentDefine, 0.2},
	"why":     {IntentWhy, 1.0},
	"how":     {IntentWhy, 0.7},
	"compare": {IntentCompare, 1.0},
	"better":  {IntentCompare, 0.6},
	"versus":  {IntentCompare, 0.9},
	"vs":      {IntentCompare, 0.9},
	"cause":   {IntentCausal, 1.0},
	"causes":  {IntentCausal, 1.0},
	"leads":   {IntentCausal, 0.7},
	"because": {IntentCausal, 0.5},
	"after":   {IntentTemporal, 0.8},
	"before":  {IntentTemporal, 0.8},
	"then":    {IntentTemporal, 0.5},
	"when":    {IntentTemporal, 0.4},
}

var logicalConnectors = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "because": {}, "therefore": {},
	"however": {}, "although": {}, "unless": {}, "while": {},
}

var conditionalWords = map[string]struct{}{
	"if": {}, "when": {}, "whenever": {}, "assuming": {}, "given": {},
}

var comparativeWords = map[string]struct{}{
	"better": {}, "worse": {}, "more": {}, "less": {}, "than": {},
	"compare": {}, "versus": {}, "vs": {}, "between": {},
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"do": {}, "does": {}, "did": {}, "what": {}, "why": {}, "how": {},
	"which": {}, "who": {}, "where": {}, "when": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "for": {}, "and": {}, "or": {}, "it": {}, "that": {},
	"this": {}, "with": {}, "as": {}, "by": {}, "at": {}, "be": {},
}

// Classify determines intent and complexity for a query text.
func Classify(text string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(stripPunct(normalized))

	intent := matchPatterns(normalized)
	confidence := 0.9
	if intent == IntentUnknown {
		intent, confidence = matchKeywords(tokens)
	}

	entities := extractEntities(text)
	keyTerms := extractKeyTerms(tokens)
	complexity := analyzeComplexity(tokens, entities)

	return Classification{
		Intent:     intent,
		Complexity: complexity,
		Confidence: confidence,
		KeyTerms:   keyTerms,
		Entities:   entities,
	}
}

func matchPatterns(normalized string) Intent {
	for _, p := range intentPatterns {
		if p.re.MatchString(normalized) {
			return p.intent
		}
	}
	return IntentUnknown
}

func matchKeywords(tokens []string) (Intent, float64) {
	scores := make(map[Intent]float64)
	for _, tok := range tokens {
		if kw, ok := intentKeywords[tok]; ok {
			scores[kw.intent] += kw.weight
		}
	}
	best := IntentGeneral
	bestScore := 0.0
	for intent, score := range scores {
		if score > bestScore {
			best = intent
			bestScore = score
		}
	}
	if bestScore == 0 {
		if len(tokens) == 0 {
			return IntentUnknown, 0
		}
		return IntentGeneral, 0.3
	}
	confidence := bestScore / (bestScore + 1)
	return best, confidence
}

// extractEntities pulls quoted phrases and capitalized tokens from the raw
// text.
func extractEntities(text string) []string {
	var entities []string
	seen := make(map[string]struct{})

	quoted := regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	for _, m := range quoted.FindAllStringSubmatch(text, -1) {
		phrase := m[1]
		if phrase == "" {
			phrase = m[2]
		}
		addEntity(&entities, seen, phrase)
	}

	for i, tok := range strings.Fields(text) {
		trimmed := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			continue
		}
		first := []rune(trimmed)[0]
		// Sentence-initial capitals are not entities.
		if i > 0 && unicode.IsUpper(first) {
			addEntity(&entities, seen, trimmed)
		}
	}
	return entities
}

func addEntity(entities *[]string, seen map[string]struct{}, e string) {
	key := strings.ToLower(e)
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	*entities = append(*entities, e)
}

func extractKeyTerms(tokens []string) []string {
	var terms []string
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		terms = append(terms, tok)
	}
	return terms
}

// analyzeComplexity aggregates entity count, logical connectors and
// conditional or comparative vocabulary into a normalized score, thresholded
// at 0.3 and 0.7.
func analyzeComplexity(tokens []string, entities []string) Complexity {
	score := 0.0
	score += 0.15 * float64(len(entities))
	for _, tok := range tokens {
		if _, ok := logicalConnectors[tok]; ok {
			score += 0.2
		}
		if _, ok := conditionalWords[tok]; ok {
			score += 0.25
		}
		if _, ok := comparativeWords[tok]; ok {
			score += 0.15
		}
	}
	if len(tokens) > 12 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	switch {
	case score < 0.3:
		return ComplexitySimple
	case score < 0.7:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

func stripPunct(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
