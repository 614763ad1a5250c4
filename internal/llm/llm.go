// Package llm defines the generate and embed contracts the pipeline
// consumes, with the Anthropic and Ollama adapters behind them. Providers
// are a capability: every failure is typed so workers can tell retryable
// provider trouble from malformed output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Failure kinds. Only timeout and provider_error feed the job retry
// counter; parse_error means the provider answered and retrying will not
// help.
const (
	KindTimeout       = "timeout"
	KindParseError    = "parse_error"
	KindProviderError = "provider_error"
)

// Error is a typed provider failure.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewTimeout(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err}
}

func NewParseError(format string, args ...any) *Error {
	return &Error{Kind: KindParseError, Err: fmt.Errorf(format, args...)}
}

func NewProviderError(err error) *Error {
	return &Error{Kind: KindProviderError, Err: err}
}

// Kind extracts the failure kind, defaulting unknown errors to
// provider_error.
func Kind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProviderError
}

// IsRetryable reports whether a failed call should count toward the job
// retry budget.
func IsRetryable(err error) bool {
	k := Kind(err)
	return k == KindTimeout || k == KindProviderError
}

// GenerateOptions tune a single generate call.
type GenerateOptions struct {
	MaxTokens int
}

// Generator produces text from a prompt. Implementations own retries
// against their provider; callers own the job-level retry budget.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embedder produces a dense vector for text. A nil vector with a nil error
// means the provider is not available; callers skip the vector arm.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanResponse strips markdown code fences and <think> blocks that models
// wrap around JSON despite instructions.
func CleanResponse(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
