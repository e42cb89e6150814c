// Package query holds the transient query representation shared by the
// scorer, the beam engine and the policy router, plus the default tokenizer.
package query

import (
	"strings"
	"time"
	"unicode"

	"github.com/Jak3Gil/melvin/pkg/fingerprint"
	"github.com/Jak3Gil/melvin/pkg/ids"
)

// Query is the preprocessed form of one incoming question. Fingerprints are
// deterministic sign vectors, not learned embeddings.
type Query struct {
	Text        string
	Tokens      []string
	Fingerprint []float32            // fingerprint of the normalized text
	TokenPrints map[string][]float32 // per-token fingerprints
	FocusNodes  []ids.NodeID         // tokens resolved to existing nodes
	Timestamp   int64
}

// New tokenizes and fingerprints the text. Focus nodes are filled in by the
// router once the store has been consulted.
func New(text string) *Query {
	tokens := Tokenize(text)
	q := &Query{
		Text:        text,
		Tokens:      tokens,
		Fingerprint: fingerprint.Compute(strings.Join(tokens, " ")),
		TokenPrints: make(map[string][]float32, len(tokens)),
		Timestamp:   time.Now().UnixNano(),
	}
	for _, tok := range tokens {
		if _, ok := q.TokenPrints[tok]; !ok {
			q.TokenPrints[tok] = fingerprint.Compute(tok)
		}
	}
	return q
}

// Tokenize lowercases the text, strips punctuation and splits on whitespace.
// This is the core's default tokenizer; a richer lemmatizer can be swapped in
// at the Engine boundary.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// punctuation stripped
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
