// Package recall implements hybrid memory search: BM25 over the FTS index
// fused with a cosine scan over stored embeddings, plus the duplicate
// detection used at ingest time.
package recall

import (
	"strings"
	"unicode"
)

const (
	minTokenLen = 3
	maxTokens   = 10
)

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// Tokenize lowercases the query, splits on non-word runes, drops short
// tokens, and caps the result. An empty result means the query has no
// lexical arm and search falls back to vector-only.
func Tokenize(query string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, f := range splitWords(query) {
		if len(f) < minTokenLen || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
		if len(tokens) == maxTokens {
			break
		}
	}
	return tokens
}

// tokenSet is the uncapped variant used when comparing whole documents.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range splitWords(text) {
		if len(f) >= minTokenLen {
			set[f] = true
		}
	}
	return set
}
