package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/signetai/signetd/internal/llm"
	"github.com/signetai/signetd/internal/notes"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

const summaryPromptTemplate = `Summarize this coding session transcript as a markdown note.

Date: %s

Respond with ONLY a JSON object, no markdown fences:
{
  "summary": "markdown document starting with a '## Topic' heading",
  "facts": [{"content": "...", "type": "fact|preference|decision|procedural|issue|rule|learning", "importance": 0.5, "tags": ["..."]}]
}

Rules for the summary:
- Start with a '## ' heading naming the session's main topic.
- Cover what was attempted, what was decided, and what is left open.
- Keep code references precise (file paths, function names).

Rules for facts:
- Only durable knowledge worth recalling in future sessions.
- Each fact self-contained; no "we" or "the user" without context.

Transcript:
%s`

const continuityPromptTemplate = `Rate how well the memories injected at session start covered what this session actually needed.

Session summary:
%s

Injected memories (by 8-char id prefix):
%s

Respond with ONLY a JSON object:
{
  "score": 0.0,
  "memories_used": 0,
  "novel_context_count": 0,
  "reasoning": "...",
  "confidence": 0.8,
  "relevance": {"<prefix>": 0.0}
}

score is overall continuity coverage in [0,1]. relevance rates each injected
memory's usefulness to this session in [0,1], keyed by the prefix shown.`

type summaryResponse struct {
	Summary string          `json:"summary"`
	Facts   []extractedFact `json:"facts"`
}

type continuityResponse struct {
	Score             float64            `json:"score"`
	MemoriesUsed      int                `json:"memories_used"`
	NovelContextCount int                `json:"novel_context_count"`
	Reasoning         string             `json:"reasoning"`
	Confidence        *float64           `json:"confidence"`
	Relevance         map[string]float64 `json:"relevance"`
}

// summaryLoop drains the summary queue. Summaries run one at a time: the
// transcript prompts are large and the stage tolerates latency.
func (p *Pipeline) summaryLoop(ctx context.Context) error {
	for {
		job, err := p.store.LeaseSummaryJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("summary lease failed", "error", err)
			job = nil
		}
		if job == nil {
			select {
			case <-time.After(p.cfg.PollInterval):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		path, facts, err := p.runSummary(ctx, job)
		if err != nil {
			retryAt := time.Now().UTC().Add(retryDelay(job.Attempts))
			p.log.Warn("summary failed", "job", job.ID, "attempt", job.Attempts, "error", err)
			if ferr := p.store.FailSummaryJob(ctx, job.ID, err.Error(), retryAt); ferr != nil {
				p.log.Error("summary fail recording failed", "job", job.ID, "error", ferr)
			}
		} else {
			if cerr := p.store.CompleteSummaryJob(ctx, job.ID, path, facts); cerr != nil {
				p.log.Error("summary complete failed", "job", job.ID, "error", cerr)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (p *Pipeline) runSummary(ctx context.Context, job *types.SummaryJob) (string, int, error) {
	if p.gen == nil {
		return "", 0, fmt.Errorf("no generator configured")
	}
	transcript := job.Transcript
	if len(transcript) > p.cfg.SummaryMaxChars {
		transcript = transcript[:p.cfg.SummaryMaxChars]
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.SummaryTimeout)
	defer cancel()
	date := time.Now().UTC().Format("2006-01-02")
	raw, err := p.gen.Generate(callCtx,
		fmt.Sprintf(summaryPromptTemplate, date, transcript),
		llm.GenerateOptions{MaxTokens: 4096})
	p.observe("generate", llmOutcome(err))
	if err != nil {
		return "", 0, err
	}

	var resp summaryResponse
	if uerr := json.Unmarshal([]byte(llm.CleanResponse(raw)), &resp); uerr != nil {
		return "", 0, llm.NewParseError("summary output is not valid JSON: %v", uerr)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return "", 0, llm.NewParseError("summary output has no summary text")
	}

	stem := notes.SummaryStem(resp.Summary, job.Project)
	path, err := notes.WriteUnique(p.cfg.NotesDir, stem, resp.Summary)
	if err != nil {
		return "", 0, err
	}

	created := 0
	for _, f := range resp.Facts {
		f.Content = strings.TrimSpace(f.Content)
		if n := utf8.RuneCountInString(f.Content); n < minFactLen || n > maxFactLen {
			continue
		}
		dup, derr := recall.IsDuplicate(ctx, p.store, f.Content)
		if derr != nil {
			return "", 0, derr
		}
		if dup {
			continue
		}
		mtype := types.MemoryType(f.Type)
		if !mtype.IsValid() {
			mtype = types.MemoryTypeFact
		}
		importance := f.Importance
		if importance == 0 {
			importance = 0.5
		}
		res, ierr := p.store.Ingest(ctx, storage.IngestEnvelope{
			Content:    f.Content,
			Type:       mtype,
			Importance: clamp01(importance),
			Confidence: 0.8,
			Project:    job.Project,
			SessionID:  job.SessionKey,
			Who:        job.Harness,
			SourceType: "session_summary",
			Tags:       f.Tags,
			Actor:      "summarizer",
		})
		if ierr != nil {
			return "", 0, ierr
		}
		if !res.Deduped {
			created++
		}
	}

	// Continuity scoring is best-effort: the note and facts are already
	// durable, a scoring failure should not re-run the whole summary.
	if job.SessionKey != "" {
		if serr := p.scoreContinuity(ctx, job, resp.Summary); serr != nil {
			p.log.Warn("continuity scoring failed", "session", job.SessionKey, "error", serr)
		}
	}

	return path, created, nil
}

// scoreContinuity rates how useful the memories injected at session start
// turned out to be, judged against the finished summary.
func (p *Pipeline) scoreContinuity(ctx context.Context, job *types.SummaryJob, summary string) error {
	injected, err := p.store.InjectedSessionMemories(ctx, job.SessionKey)
	if err != nil {
		return err
	}
	if len(injected) == 0 {
		return nil
	}

	byPrefix := make(map[string]string, len(injected))
	ids := make([]string, 0, len(injected))
	for _, sm := range injected {
		if len(sm.MemoryID) < 8 {
			continue
		}
		byPrefix[sm.MemoryID[:8]] = sm.MemoryID
		ids = append(ids, sm.MemoryID)
	}
	memories, err := p.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	content := make(map[string]string, len(memories))
	for _, m := range memories {
		content[m.ID] = m.Content
	}

	var sb strings.Builder
	for _, sm := range injected {
		if len(sm.MemoryID) < 8 {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", sm.MemoryID[:8], truncate(content[sm.MemoryID], 200))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()
	raw, err := p.gen.Generate(callCtx,
		fmt.Sprintf(continuityPromptTemplate, truncate(summary, 4000), sb.String()),
		llm.GenerateOptions{})
	p.observe("generate", llmOutcome(err))
	if err != nil {
		return err
	}

	var resp continuityResponse
	if uerr := json.Unmarshal([]byte(llm.CleanResponse(raw)), &resp); uerr != nil {
		return llm.NewParseError("continuity output is not valid JSON: %v", uerr)
	}

	if err := p.store.WriteSessionScore(ctx, &types.SessionScore{
		SessionKey:        job.SessionKey,
		Project:           job.Project,
		Harness:           job.Harness,
		Score:             clamp01(resp.Score),
		MemoriesRecalled:  len(injected),
		MemoriesUsed:      resp.MemoriesUsed,
		NovelContextCount: resp.NovelContextCount,
		Reasoning:         resp.Reasoning,
		Confidence:        resp.Confidence,
	}); err != nil {
		return err
	}

	for prefix, score := range resp.Relevance {
		id, ok := byPrefix[prefix]
		if !ok {
			continue
		}
		if err := p.store.UpdateSessionMemoryRelevance(ctx, job.SessionKey, id, clamp01(score)); err != nil {
			return err
		}
	}
	return nil
}
