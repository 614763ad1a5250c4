package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/signetai/signetd/internal/llm"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

const (
	maxExtractedFacts    = 20
	maxExtractedEntities = 50
	minFactLen           = 20
	maxFactLen           = 2000
)

const extractPromptTemplate = `Extract durable facts and entity relationships from this memory.

Memory:
%s

Respond with ONLY a JSON object, no markdown, no explanation:
{
  "facts": [{"content": "...", "type": "fact|preference|decision|procedural|issue|rule|learning", "importance": 0.5, "confidence": 0.9, "tags": ["..."]}],
  "entities": [{"source": "...", "relationship": "...", "target": "...", "type": "...", "confidence": 0.9}]
}

Rules:
- Facts must be self-contained statements worth recalling weeks later.
- Skip pleasantries, transient state, and anything already restating the memory verbatim.
- Entities are (source, relationship, target) triples like ("auth-service", "depends_on", "redis").
- Return empty arrays when nothing qualifies.`

type extractedFact struct {
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

type extractedEntity struct {
	Source       string  `json:"source"`
	Relationship string  `json:"relationship"`
	Target       string  `json:"target"`
	Type         string  `json:"type,omitempty"`
	Confidence   float64 `json:"confidence"`
}

type extractResponse struct {
	Facts    []extractedFact   `json:"facts"`
	Entities []extractedEntity `json:"entities"`
}

type extractResult struct {
	Facts        []extractedFact `json:"facts,omitempty"`
	EntitiesKept int             `json:"entities_kept"`
	Warnings     []string        `json:"warnings,omitempty"`
	Skipped      string          `json:"skipped,omitempty"`
}

func (p *Pipeline) runExtract(ctx context.Context, job *types.Job) (string, error) {
	mem, err := p.store.GetMemory(ctx, job.MemoryID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return marshalResult(extractResult{Skipped: "memory no longer exists"}), nil
		}
		return "", err
	}
	if mem.IsDeleted {
		return marshalResult(extractResult{Skipped: "memory deleted"}), nil
	}
	if p.gen == nil {
		return marshalResult(extractResult{Skipped: "no generator configured"}), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()
	raw, err := p.gen.Generate(callCtx, fmt.Sprintf(extractPromptTemplate, mem.Content), llm.GenerateOptions{})
	p.observe("generate", llmOutcome(err))
	if err != nil {
		return "", err
	}

	var resp extractResponse
	if uerr := json.Unmarshal([]byte(llm.CleanResponse(raw)), &resp); uerr != nil {
		return "", llm.NewParseError("extract output is not valid JSON: %v", uerr)
	}

	facts, entities, warnings := clampExtraction(resp)

	status := "completed"
	if len(warnings) > 0 {
		status = "partial"
	}
	if err := p.store.ApplyExtraction(ctx, mem.ID, entities, status); err != nil {
		return "", err
	}

	// Facts become the decide stage's work list. The decide phase is a
	// shadow: it proposes, it never mutates.
	if len(facts) > 0 {
		payload, _ := json.Marshal(facts)
		if _, err := p.store.EnqueueJob(ctx, types.JobDecide, mem.ID, string(payload)); err != nil {
			return "", err
		}
	}

	return marshalResult(extractResult{
		Facts:        facts,
		EntitiesKept: len(entities),
		Warnings:     warnings,
	}), nil
}

// clampExtraction enforces the output contract: bad rows are dropped with a
// warning rather than failing the job.
func clampExtraction(resp extractResponse) ([]extractedFact, []storage.ExtractedEntity, []string) {
	var warnings []string

	if len(resp.Facts) > maxExtractedFacts {
		warnings = append(warnings, fmt.Sprintf("truncated facts from %d to %d", len(resp.Facts), maxExtractedFacts))
		resp.Facts = resp.Facts[:maxExtractedFacts]
	}
	facts := make([]extractedFact, 0, len(resp.Facts))
	for _, f := range resp.Facts {
		f.Content = strings.TrimSpace(f.Content)
		// Length bounds count characters, not bytes.
		if n := utf8.RuneCountInString(f.Content); n < minFactLen || n > maxFactLen {
			warnings = append(warnings, fmt.Sprintf("dropped fact with length %d", n))
			continue
		}
		if !types.MemoryType(f.Type).IsValid() {
			f.Type = string(types.MemoryTypeFact)
		}
		f.Confidence = clamp01(f.Confidence)
		f.Importance = clamp01(f.Importance)
		facts = append(facts, f)
	}

	if len(resp.Entities) > maxExtractedEntities {
		warnings = append(warnings, fmt.Sprintf("truncated entities from %d to %d", len(resp.Entities), maxExtractedEntities))
		resp.Entities = resp.Entities[:maxExtractedEntities]
	}
	entities := make([]storage.ExtractedEntity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		if strings.TrimSpace(e.Source) == "" || strings.TrimSpace(e.Relationship) == "" || strings.TrimSpace(e.Target) == "" {
			warnings = append(warnings, "dropped entity with empty field")
			continue
		}
		entities = append(entities, storage.ExtractedEntity{
			Source:       e.Source,
			Relationship: e.Relationship,
			Target:       e.Target,
			EntityType:   e.Type,
			Confidence:   clamp01(e.Confidence),
		})
	}

	return facts, entities, warnings
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func marshalResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func llmOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if llm.Kind(err) == llm.KindTimeout {
		return "timeout"
	}
	return "failure"
}
