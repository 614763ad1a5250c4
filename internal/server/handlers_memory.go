package server

import (
	"net/http"
	"strconv"

	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/hooks"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

type rememberRequest struct {
	Content        string   `json:"content"`
	Type           string   `json:"type,omitempty"`
	Importance     *float64 `json:"importance,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Pinned         *bool    `json:"pinned,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Project        string   `json:"project,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
	Who            string   `json:"who,omitempty"`
	SourceType     string   `json:"sourceType,omitempty"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
}

// envelopeFromRemember applies the remember shorthand (critical: prefix,
// leading tag list, keyword type hints) and lets explicit fields override
// what the shorthand inferred.
func envelopeFromRemember(req rememberRequest, actor string) (storage.IngestEnvelope, error) {
	parsed := types.ParseRememberContent(req.Content)
	if parsed.Content == "" {
		return storage.IngestEnvelope{}, types.NewInvalidInput("content cannot be empty")
	}

	env := storage.IngestEnvelope{
		Content:        parsed.Content,
		Type:           parsed.Type,
		Importance:     parsed.Importance,
		Confidence:     1.0,
		Pinned:         parsed.Pinned,
		Tags:           parsed.Tags,
		Project:        req.Project,
		SessionID:      req.SessionID,
		Who:            req.Who,
		SourceType:     req.SourceType,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actor,
	}
	if env.SourceType == "" {
		env.SourceType = "explicit"
	}
	if req.Type != "" {
		t := types.MemoryType(req.Type)
		if !t.IsValid() {
			return storage.IngestEnvelope{}, types.NewInvalidInput("invalid memory type %q", req.Type)
		}
		env.Type = t
	}
	if req.Importance != nil {
		if *req.Importance < 0 || *req.Importance > 1 {
			return storage.IngestEnvelope{}, types.NewInvalidInput("importance must be in [0,1]")
		}
		env.Importance = *req.Importance
	}
	if req.Confidence != nil {
		if *req.Confidence < 0 || *req.Confidence > 1 {
			return storage.IngestEnvelope{}, types.NewInvalidInput("confidence must be in [0,1]")
		}
		env.Confidence = *req.Confidence
	}
	if req.Pinned != nil {
		env.Pinned = *req.Pinned
	}
	if len(req.Tags) > 0 {
		env.Tags = req.Tags
	}
	return env, nil
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if !s.scopeOK(w, r, authz.Scope{Project: req.Project}) {
		return
	}
	env, err := envelopeFromRemember(req, actorFrom(r))
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	res, err := s.store.Ingest(r.Context(), env)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if !res.Deduped {
		s.hooks.Run(hooks.EventMemoryCreated, res.ID, map[string]any{
			"id":      res.ID,
			"type":    string(env.Type),
			"project": env.Project,
			"actor":   env.Actor,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.store.GetMemory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type patchRequest struct {
	Patch struct {
		Content    *string   `json:"content,omitempty"`
		Type       *string   `json:"type,omitempty"`
		Importance *float64  `json:"importance,omitempty"`
		Tags       *[]string `json:"tags,omitempty"`
	} `json:"patch"`
	Reason    string `json:"reason"`
	IfVersion *int   `json:"ifVersion,omitempty"`
}

func (s *Server) handlePatchMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	if err := s.allow(opModify, actorFrom(r)); err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}

	patch := storage.MemoryPatch{
		Content:    req.Patch.Content,
		Importance: req.Patch.Importance,
		Tags:       req.Patch.Tags,
	}
	if req.Patch.Type != nil {
		t := types.MemoryType(*req.Patch.Type)
		if !t.IsValid() {
			s.fail(w, r, types.NewInvalidInput("invalid memory type %q", *req.Patch.Type), "mutation", id)
			return
		}
		patch.Type = &t
	}

	version, err := s.store.UpdateMemory(r.Context(), id, patch, req.Reason, actorFrom(r), req.IfVersion)
	if err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "version": version})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reason := r.URL.Query().Get("reason")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	actor := actorFrom(r)
	if err := s.allow(opForget, actor); err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	if force {
		if err := s.allow(opForceDelete, actor); err != nil {
			s.fail(w, r, err, "mutation", id)
			return
		}
	}

	if err := s.store.SoftDelete(r.Context(), id, reason, actor, force); err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	s.hooks.Run(hooks.EventMemoryDeleted, id, map[string]any{
		"id": id, "reason": reason, "actor": actor, "force": force,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "forgotten"})
}

func (s *Server) handleRecoverMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	if err := s.store.Recover(r.Context(), id, req.Reason, actorFrom(r)); err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recovered"})
}

type modifyRequest struct {
	Patches []struct {
		ID         string    `json:"id"`
		Content    *string   `json:"content,omitempty"`
		Type       *string   `json:"type,omitempty"`
		Importance *float64  `json:"importance,omitempty"`
		Tags       *[]string `json:"tags,omitempty"`
		IfVersion  *int      `json:"ifVersion,omitempty"`
	} `json:"patches"`
	Reason string `json:"reason"`
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if len(req.Patches) == 0 {
		s.fail(w, r, types.NewInvalidInput("patches cannot be empty"), "mutation", "")
		return
	}
	actor := actorFrom(r)
	if err := s.allow(opModify, actor); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}

	updated := 0
	results := make([]map[string]any, 0, len(req.Patches))
	for _, p := range req.Patches {
		patch := storage.MemoryPatch{
			Content:    p.Content,
			Importance: p.Importance,
			Tags:       p.Tags,
		}
		if p.Type != nil {
			t := types.MemoryType(*p.Type)
			if !t.IsValid() {
				results = append(results, map[string]any{
					"id": p.ID, "status": "error",
					"error": "invalid memory type", "code": types.CodeInvalidInput,
				})
				continue
			}
			patch.Type = &t
		}
		version, err := s.store.UpdateMemory(r.Context(), p.ID, patch, req.Reason, actor, p.IfVersion)
		if err != nil {
			entry := map[string]any{"id": p.ID, "status": "error", "error": err.Error()}
			if code := types.ErrorCode(err); code != "" {
				entry["code"] = code
			}
			results = append(results, entry)
			continue
		}
		updated++
		results = append(results, map[string]any{
			"id": p.ID, "status": "updated", "version": version,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(req.Patches),
		"updated": updated,
		"results": results,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// Resolve first so an unknown id is a 404, not an empty history.
	if _, err := s.store.GetMemory(r.Context(), id); err != nil {
		if !types.IsCode(err, types.CodeNotFound) {
			s.fail(w, r, err, "mutation", id)
			return
		}
		// Tombstoned rows still have history; only truly unknown ids 404.
		entries, herr := s.store.GetHistory(r.Context(), id)
		if herr != nil || len(entries) == 0 {
			s.fail(w, r, err, "mutation", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"memoryId": id, "count": len(entries), "history": entries,
		})
		return
	}
	entries, err := s.store.GetHistory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memoryId": id, "count": len(entries), "history": entries,
	})
}

type recallRequest struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit,omitempty"`
	Type     string   `json:"type,omitempty"`
	Project  string   `json:"project,omitempty"`
	MinScore *float64 `json:"minScore,omitempty"`
	Alpha    *float64 `json:"alpha,omitempty"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if req.Query == "" {
		s.fail(w, r, types.NewInvalidInput("query cannot be empty"), "mutation", "")
		return
	}
	if !s.scopeOK(w, r, authz.Scope{Project: req.Project}) {
		return
	}

	q := recall.Query{
		Query:    req.Query,
		Limit:    req.Limit,
		Project:  req.Project,
		MinScore: s.cfg.MinScore,
		Alpha:    s.cfg.Alpha,
	}
	if q.Limit <= 0 {
		q.Limit = s.cfg.TopK
	}
	if req.Type != "" {
		t := types.MemoryType(req.Type)
		if !t.IsValid() {
			s.fail(w, r, types.NewInvalidInput("invalid memory type %q", req.Type), "mutation", "")
			return
		}
		q.Type = t
	}
	if req.MinScore != nil {
		q.MinScore = *req.MinScore
	}
	if req.Alpha != nil {
		q.Alpha = *req.Alpha
	}

	results, err := s.engine.Search(r.Context(), q)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if results == nil {
		results = []recall.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
