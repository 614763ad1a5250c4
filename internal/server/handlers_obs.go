package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/redact"
	"github.com/signetai/signetd/internal/session"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	queue, err := s.store.GetQueueStats(r.Context(), 5*time.Minute)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	store, err := s.store.GetStoreStats(r.Context())
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.cfg.Version,
		"authMode": string(s.cfg.AuthMode),
		"uptimeMs": time.Since(s.startedAt).Milliseconds(),
		"queue":    queue,
		"store":    store,
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report, err := s.diag.Run(r.Context())
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.timeline.Build(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "mutation", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleGetProjection(w http.ResponseWriter, r *http.Request) {
	cacheKey := r.URL.Query().Get("cacheKey")
	if cacheKey == "" {
		s.fail(w, r, types.NewInvalidInput("cacheKey is required"), "mutation", "")
		return
	}
	p, err := s.store.GetProjection(r.Context(), cacheKey)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProjection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CacheKey    string `json:"cache_key"`
		Points      string `json:"points"`
		MemoryCount int    `json:"memory_count"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if req.CacheKey == "" || req.Points == "" {
		s.fail(w, r, types.NewInvalidInput("cache_key and points are required"), "mutation", "")
		return
	}
	if err := s.store.PutProjection(r.Context(), &storage.Projection{
		CacheKey:    req.CacheKey,
		Points:      req.Points,
		MemoryCount: req.MemoryCount,
	}); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cached"})
}

// handleCheckpoints serves session recovery. With session it lists that
// session's checkpoints; with project it returns the newest checkpoint for
// the normalized project inside the recovery window. Digests are redacted
// again on the way out; redaction is idempotent so double application is
// free.
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if sessionKey := q.Get("session"); sessionKey != "" {
		limit := 20
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				s.fail(w, r, types.NewInvalidInput("invalid limit %q", raw), "mutation", "")
				return
			}
			limit = n
		}
		cps, err := s.store.ListCheckpoints(r.Context(), sessionKey, limit)
		if err != nil {
			s.fail(w, r, err, "mutation", "")
			return
		}
		for _, cp := range cps {
			redactCheckpoint(cp)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":       len(cps),
			"checkpoints": cps,
		})
		return
	}

	project := q.Get("project")
	if project == "" {
		s.fail(w, r, types.NewInvalidInput("project or session is required"), "mutation", "")
		return
	}
	if !s.scopeOK(w, r, authz.Scope{Project: project}) {
		return
	}
	cp, err := s.store.LatestCheckpoint(r.Context(),
		session.NormalizeProject(project), s.cfg.RecoveryWindow)
	if err != nil {
		// No checkpoint inside the window is an empty answer, not a 404.
		if types.IsCode(err, types.CodeNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"checkpoint": nil})
			return
		}
		s.fail(w, r, err, "mutation", "")
		return
	}
	redactCheckpoint(cp)
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cp})
}

func redactCheckpoint(cp *types.Checkpoint) {
	cp.Digest = redact.Apply(cp.Digest)
	cp.RecentRemembers = redact.ApplyAll(cp.RecentRemembers)
}
