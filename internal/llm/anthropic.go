package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/signetai/signetd/internal/audit"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	maxRetries       = 3
	initialBackoff   = 1 * time.Second
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// AnthropicClient implements Generator on the Anthropic Messages API.
type AnthropicClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
	auditEnabled   bool
	auditActor     string
}

// NewAnthropicClient creates the generate adapter. Env var
// ANTHROPIC_API_KEY takes precedence over the explicit apiKey.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY environment variable or provide via config", ErrAPIKeyRequired)
	}
	if model == "" {
		model = defaultModel
	}

	return &AnthropicClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// EnableAudit turns on JSONL audit logging of every call under this actor.
func (a *AnthropicClient) EnableAudit(actor string) {
	a.auditEnabled = true
	a.auditActor = actor
}

// Model returns the configured model name.
func (a *AnthropicClient) Model() string {
	return string(a.model)
}

// Generate runs one prompt through the Messages API with bounded retries.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	resp, callErr := a.callWithRetry(ctx, prompt, opts)
	if a.auditEnabled {
		// Best-effort: never fail a pipeline stage because audit logging
		// failed.
		e := &audit.Entry{
			Kind:     "llm_call",
			Actor:    a.auditActor,
			Model:    string(a.model),
			Prompt:   prompt,
			Response: resp,
		}
		if callErr != nil {
			e.Error = callErr.Error()
		}
		_, _ = audit.Append(e)
	}
	return resp, callErr
}

func (a *AnthropicClient) callWithRetry(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", NewTimeout(ctx.Err())
			}
		}

		message, err := a.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, nil
				}
				return "", NewParseError("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", NewParseError("unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", NewTimeout(ctx.Err())
		}
		if !isRetryable(err) {
			return "", NewProviderError(fmt.Errorf("non-retryable error: %w", err))
		}
	}

	return "", NewProviderError(fmt.Errorf("failed after %d retries: %w", a.maxRetries+1, lastErr))
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		if statusCode == 429 || statusCode >= 500 {
			return true
		}
		return false
	}

	return false
}
