package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/hooks"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/session"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// hookRequest is the shared harness-facing envelope. Fields beyond the
// session triple apply only to specific events.
type hookRequest struct {
	SessionKey string `json:"sessionKey"`
	Harness    string `json:"harness,omitempty"`
	Project    string `json:"project,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Content    string `json:"content,omitempty"`
	Query      string `json:"query,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

func (s *Server) decodeHook(w http.ResponseWriter, r *http.Request, req *hookRequest) bool {
	if err := decode(r, req); err != nil {
		s.fail(w, r, err, "mutation", "")
		return false
	}
	if req.SessionKey == "" {
		s.fail(w, r, types.NewInvalidInput("sessionKey is required"), "mutation", "")
		return false
	}
	if !s.scopeOK(w, r, authz.Scope{Project: req.Project}) {
		return false
	}
	return true
}

// handleHookSessionStart registers the session and builds the opening
// context block: checkpoint recovery first, then top-effective memories for
// the project. Every considered memory lands in session_memories so the
// summarizer can score continuity later.
func (s *Server) handleHookSessionStart(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !s.decodeHook(w, r, &req) {
		return
	}
	s.tracker.Init(req.SessionKey, req.Harness, req.Project)

	now := time.Now()
	var blocks []string
	recovered := false

	cp, err := s.store.LatestCheckpoint(r.Context(),
		session.NormalizeProject(req.Project), s.cfg.RecoveryWindow)
	if err == nil {
		blocks = append(blocks, renderRecoveryBlock(cp, s.cfg.RecoveryBudget))
		recovered = true
	} else if !types.IsCode(err, types.CodeNotFound) {
		s.fail(w, r, err, "mutation", "")
		return
	}

	candidates, err := s.sessionStartCandidates(r.Context(), req.Project, now)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	lines := make([]string, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lines = append(lines, memoryLine(c.mem))
		ids = append(ids, c.mem.ID)
	}
	block, injected := renderMemoryLines("Relevant memories:", lines, s.cfg.SessionBudget)
	if block != "" {
		blocks = append(blocks, block)
	}

	if len(candidates) > 0 {
		rows := make([]*types.SessionMemory, len(candidates))
		for i, c := range candidates {
			rows[i] = &types.SessionMemory{
				SessionKey:     req.SessionKey,
				MemoryID:       c.mem.ID,
				Source:         "effective",
				EffectiveScore: c.score,
				FinalScore:     c.score,
				Rank:           i + 1,
				WasInjected:    i < injected,
			}
		}
		if err := s.store.RecordSessionMemories(r.Context(), rows); err != nil {
			s.fail(w, r, err, "mutation", "")
			return
		}
		// Injection counts as access.
		if err := s.store.MarkAccessed(r.Context(), ids[:injected]); err != nil {
			s.fail(w, r, err, "mutation", "")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inject": strings.Join(blocks, "\n"),
		"result": map[string]any{
			"recovered":  recovered,
			"considered": len(candidates),
			"injected":   injected,
		},
	})
}

// handleHookUserPrompt records the prompt, injects memories relevant to it
// under the tight per-prompt budget, and fires a periodic checkpoint when
// the interval policy says so.
func (s *Server) handleHookUserPrompt(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !s.decodeHook(w, r, &req) {
		return
	}
	s.tracker.RecordPrompt(req.SessionKey, req.Prompt)

	inject := ""
	if strings.TrimSpace(req.Prompt) != "" {
		results, err := s.engine.Search(r.Context(), recall.Query{
			Query:   req.Prompt,
			Limit:   s.cfg.TopK,
			Project: req.Project,
			Alpha:   s.cfg.Alpha,
		})
		if err != nil {
			s.fail(w, r, err, "mutation", "")
			return
		}
		now := time.Now()
		kept := results[:0]
		for _, res := range results {
			if res.Pinned || recall.EffectiveScore(res, now) >= s.cfg.MinEffectiveScore {
				kept = append(kept, res)
			}
		}
		inject = s.renderResultBlock("Possibly relevant:", kept, s.cfg.PromptBudget, now)
	}

	checkpointed := false
	if s.tracker.ShouldCheckpoint(req.SessionKey) {
		if snap, ok := s.tracker.Consume(req.SessionKey); ok {
			s.enqueueCheckpoint(snap, types.TriggerPeriodic, "")
			checkpointed = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inject": inject,
		"result": map[string]any{"checkpointed": checkpointed},
	})
}

// handleHookRemember saves agent-initiated memories with the remember
// shorthand applied.
func (s *Server) handleHookRemember(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !s.decodeHook(w, r, &req) {
		return
	}
	parsed := types.ParseRememberContent(req.Content)
	if parsed.Content == "" {
		s.fail(w, r, types.NewInvalidInput("content cannot be empty"), "mutation", "")
		return
	}
	res, err := s.store.Ingest(r.Context(), storage.IngestEnvelope{
		Content:    parsed.Content,
		Type:       parsed.Type,
		Importance: parsed.Importance,
		Confidence: 1.0,
		Pinned:     parsed.Pinned,
		Tags:       parsed.Tags,
		Project:    req.Project,
		SessionID:  req.SessionKey,
		SourceType: "hook",
		Actor:      firstNonEmpty(req.Harness, actorFrom(r)),
	})
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	s.tracker.RecordRemember(req.SessionKey, res.ID)
	if !res.Deduped {
		s.hooks.Run(hooks.EventMemoryCreated, res.ID, map[string]any{
			"id": res.ID, "project": req.Project, "session": req.SessionKey,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inject": "",
		"result": res,
	})
}

// handleHookRecall is search on behalf of the agent, with the query recorded
// for the session's checkpoint buffers.
func (s *Server) handleHookRecall(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !s.decodeHook(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.fail(w, r, types.NewInvalidInput("query cannot be empty"), "mutation", "")
		return
	}
	s.tracker.RecordQuery(req.SessionKey, req.Query)

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.TopK
	}
	results, err := s.engine.Search(r.Context(), recall.Query{
		Query:    req.Query,
		Limit:    limit,
		Project:  req.Project,
		MinScore: s.cfg.MinScore,
		Alpha:    s.cfg.Alpha,
	})
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if results == nil {
		results = []recall.Result{}
	}
	inject := s.renderResultBlock("Recalled:", append([]recall.Result(nil), results...),
		s.cfg.PromptBudget, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"inject": inject,
		"result": map[string]any{"results": results},
	})
}

// handleHookPreCompaction snapshots the session and forces the checkpoint to
// disk before the harness compacts its context away.
func (s *Server) handleHookPreCompaction(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !s.decodeHook(w, r, &req) {
		return
	}
	snap, ok := s.tracker.Consume(req.SessionKey)
	if ok {
		s.enqueueCheckpoint(snap, types.TriggerPreCompaction, req.Digest)
	}
	s.flusher.FlushAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"inject": "",
		"result": map[string]any{
			"checkpointed": ok,
			"promptCount":  snap.PromptCount,
		},
	})
}

// handleHookSessionEnd flushes the final checkpoint, queues transcript
// summarization, and drops the tracker state.
func (s *Server) handleHookSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !s.decodeHook(w, r, &req) {
		return
	}
	snap, ok := s.tracker.Consume(req.SessionKey)
	if ok {
		s.enqueueCheckpoint(snap, types.TriggerExplicit, req.Digest)
	}
	s.flusher.FlushAll()

	summaryJobID := ""
	if strings.TrimSpace(req.Transcript) != "" {
		id, err := s.store.EnqueueSummary(r.Context(), &types.SummaryJob{
			SessionKey: req.SessionKey,
			Harness:    firstNonEmpty(req.Harness, snap.Harness),
			Project:    firstNonEmpty(req.Project, snap.Project),
			Transcript: req.Transcript,
		})
		if err != nil {
			s.fail(w, r, err, "mutation", "")
			return
		}
		summaryJobID = id
	}
	s.tracker.Clear(req.SessionKey)

	writeJSON(w, http.StatusOK, map[string]any{
		"inject": "",
		"result": map[string]any{
			"status":       "ended",
			"checkpointed": ok,
			"summaryJobId": summaryJobID,
		},
	})
}

// enqueueCheckpoint hands a tracker snapshot to the debounced flusher and
// fires the checkpoint-written shell hook.
func (s *Server) enqueueCheckpoint(snap session.Snapshot, trigger types.CheckpointTrigger, digest string) {
	if digest == "" {
		digest = strings.Join(snap.Snippets, " | ")
	}
	s.flusher.Enqueue(session.Pending{
		SessionKey:        snap.SessionKey,
		Harness:           snap.Harness,
		Project:           snap.Project,
		ProjectNormalized: snap.ProjectNormalized,
		Trigger:           trigger,
		Digest:            digest,
		PromptCount:       snap.PromptCount,
		Queries:           snap.Queries,
		Remembers:         snap.Remembers,
	})
	s.hooks.Run(hooks.EventCheckpointWritten, snap.SessionKey, map[string]any{
		"session":      snap.SessionKey,
		"trigger":      string(trigger),
		"prompt_count": snap.PromptCount,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
