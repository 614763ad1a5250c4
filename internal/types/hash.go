package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"
)

// NormalizeContent produces the storage form of raw content: trimmed, with
// all interior whitespace runs collapsed to single spaces.
func NormalizeContent(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// NormalizeForDedup produces the dedup basis: the storage form lowercased
// with trailing sentence punctuation stripped.
func NormalizeForDedup(content string) string {
	s := strings.ToLower(NormalizeContent(content))
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r)
	})
}

// ComputeContentHash returns the lowercase hex SHA-256 of the dedup
// normalization basis. Two memories with the same hash are considered the
// same note for ingest dedup purposes.
func ComputeContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeForDedup(content)))
	return fmt.Sprintf("%x", sum)
}
