package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultEmbedModel = "nomic-embed-text"

// OllamaEmbedder implements Embedder against a local Ollama server. When
// the server is unreachable Embed degrades to (nil, nil) so recall and the
// embed worker fall back to BM25-only behavior instead of erroring.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(model string) (*OllamaEmbedder, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	if model == "" {
		model = defaultEmbedModel
	}
	return &OllamaEmbedder{client: client, model: model}, nil
}

// Model returns the configured embedding model name.
func (o *OllamaEmbedder) Model() string {
	return o.model
}

// Available checks if Ollama is running and reachable.
func (o *OllamaEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := o.client.List(ctx)
	return err == nil
}

// Embed produces a dense vector for text, or (nil, nil) when the provider
// is down.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	// Probe first so a stopped server costs 2s, not the full call timeout.
	if !o.Available(ctx) {
		return nil, nil
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.model,
		Input: text,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewTimeout(ctx.Err())
		}
		return nil, NewProviderError(fmt.Errorf("ollama embed failed: %w", err))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, NewParseError("ollama returned no embedding")
	}
	return resp.Embeddings[0], nil
}
