package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/redact"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// injectCandidateLimit bounds how many rows are considered for session-start
// injection before the budget is applied.
const injectCandidateLimit = 200

// scoredMemory pairs a memory with its decayed effective score.
type scoredMemory struct {
	mem   *types.Memory
	score float64
}

// sessionStartCandidates ranks the project's memories by effective score.
// Pinned rows always qualify; unpinned rows must clear the floor.
func (s *Server) sessionStartCandidates(ctx context.Context, project string, now time.Time) ([]scoredMemory, error) {
	memories, err := s.store.ListMemories(ctx, storage.ListFilter{
		Project: project,
		Limit:   injectCandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	var scored []scoredMemory
	for _, m := range memories {
		score := m.EffectiveScore(now)
		if !m.Pinned && score < s.cfg.MinEffectiveScore {
			continue
		}
		scored = append(scored, scoredMemory{mem: m, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].mem.ID < scored[j].mem.ID
	})
	return scored, nil
}

// renderMemoryLines emits "- [type] content" lines until the budget is
// spent, returning the block and how many lines made it in.
func renderMemoryLines(header string, lines []string, budget int) (string, int) {
	if len(lines) == 0 {
		return "", 0
	}
	var b strings.Builder
	if header != "" {
		if len(header)+1 > budget {
			return "", 0
		}
		b.WriteString(header)
		b.WriteByte('\n')
	}
	used := 0
	for _, line := range lines {
		if b.Len()+len(line)+1 > budget {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		used++
	}
	if used == 0 {
		return "", 0
	}
	return b.String(), used
}

func memoryLine(m *types.Memory) string {
	return fmt.Sprintf("- [%s] %s", m.Type, m.Content)
}

func resultLine(r recall.Result) string {
	return fmt.Sprintf("- [%s] %s", r.Type, r.Content)
}

// renderResultBlock renders recall results under a character budget, ranked
// by decayed effective score as hook context always is.
func (s *Server) renderResultBlock(header string, results []recall.Result, budget int, now time.Time) string {
	recall.RankByEffective(results, now)
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, resultLine(r))
	}
	block, _ := renderMemoryLines(header, lines, budget)
	return block
}

// renderRecoveryBlock formats the "resuming from" context for session_start.
// The digest has been redacted at persist time; applying again is free and
// guards older rows.
func renderRecoveryBlock(cp *types.Checkpoint, budget int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Resuming session from checkpoint (%s, %d prompts):\n",
		cp.CreatedAt.Format("2006-01-02 15:04"), cp.PromptCount))
	b.WriteString(redact.Apply(cp.Digest))
	b.WriteByte('\n')
	if len(cp.MemoryQueries) > 0 {
		b.WriteString("Recent queries: " + strings.Join(cp.MemoryQueries, "; ") + "\n")
	}
	out := b.String()
	if len(out) > budget {
		out = out[:budget]
	}
	return out
}
