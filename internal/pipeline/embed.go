package pipeline

import (
	"context"
	"errors"

	"github.com/signetai/signetd/internal/types"
)

type embedResult struct {
	Dimensions int    `json:"dimensions,omitempty"`
	Skipped    string `json:"skipped,omitempty"`
}

func (p *Pipeline) runEmbed(ctx context.Context, job *types.Job) (string, error) {
	mem, err := p.store.GetMemory(ctx, job.MemoryID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return marshalResult(embedResult{Skipped: "memory no longer exists"}), nil
		}
		return "", err
	}
	if mem.IsDeleted {
		return marshalResult(embedResult{Skipped: "memory deleted"}), nil
	}
	if p.embedder == nil {
		return marshalResult(embedResult{Skipped: "no embedder configured"}), nil
	}

	vec, err := p.embedder.Embed(ctx, mem.Content)
	p.observe("embed", llmOutcome(err))
	if err != nil {
		return "", err
	}
	if len(vec) == 0 {
		// Provider down. Completing would lose the vector forever; the job
		// retries on the backoff schedule instead.
		return "", errors.New("embedding provider unavailable")
	}

	model := ""
	if m, ok := p.embedder.(interface{ Model() string }); ok {
		model = m.Model()
	}
	if err := p.store.UpsertEmbedding(ctx, &types.Embedding{
		SourceType: "memory",
		SourceID:   mem.ID,
		Vector:     vec,
		Model:      model,
	}); err != nil {
		return "", err
	}
	return marshalResult(embedResult{Dimensions: len(vec)}), nil
}
