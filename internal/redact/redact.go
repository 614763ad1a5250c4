// Package redact scrubs secrets from text before it is persisted in
// checkpoints or returned on read paths. The pattern list is fixed at
// compile time and applied as a single ordered pass; applying it twice
// yields the same output.
package redact

import "regexp"

// Placeholder is the literal every match is replaced with.
const Placeholder = "[REDACTED]"

// patterns are applied in order; more specific forms first so the broad
// env-assignment catch-all doesn't split them.
var patterns = []*regexp.Regexp{
	// Authorization bearer tokens.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/\-]+=*`),

	// Well-known provider credential env names, with or without a value.
	regexp.MustCompile(`\b(?:ANTHROPIC|OPENAI|AWS|GITHUB|GITLAB|GOOGLE|AZURE|HF|COHERE)_[A-Z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD)[A-Z0-9_]*(?:\s*=\s*\S+)?`),

	// key/secret/token/password assignments in config or code snippets.
	regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|token|password|passwd|credential)s?\b\s*[:=]\s*["']?[^\s"']+["']?`),

	// Long base64 runs (keys, certs, signed blobs).
	regexp.MustCompile(`\b[A-Za-z0-9+/]{32,}={0,2}\b`),

	// Generic SCREAMING_CASE env assignments.
	regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}=[^\s"']+`),
}

// Apply replaces every secret-shaped match with the placeholder.
func Apply(s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllString(s, Placeholder)
	}
	return s
}

// ApplyAll redacts each element of a string slice, returning a new slice.
func ApplyAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Apply(s)
	}
	return out
}
