// Package server exposes the daemon's HTTP surface: memory CRUD, hybrid
// recall, the harness hook endpoints, the job queue, and observability.
// Handlers validate at the boundary and pass typed structs inward; every
// client-visible failure carries a stable error code.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/diagnostics"
	"github.com/signetai/signetd/internal/hooks"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/session"
	"github.com/signetai/signetd/internal/sign"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/timeline"
)

// LimitRule is one per-operation rate limit.
type LimitRule struct {
	Window time.Duration
	Max    int
}

// Limits carries the per-operation rate limit rules.
type Limits struct {
	Forget      LimitRule
	Modify      LimitRule
	BatchForget LimitRule
	ForceDelete LimitRule
	Admin       LimitRule
}

// Config tunes the HTTP layer. Zero values fall back to the documented
// defaults.
type Config struct {
	Addr           string
	RequestTimeout time.Duration

	AuthMode authz.Mode
	// Secret signs both bearer tokens and batch-forget confirm tokens.
	Secret []byte

	// Recall defaults applied when the request leaves them unset.
	Alpha    float64
	TopK     int
	MinScore float64

	// Session continuity.
	Continuity     session.Options
	FlushDelay     time.Duration
	MaxCheckpoints int
	RecoveryWindow time.Duration

	// Context injection budgets (characters).
	RecoveryBudget    int
	SessionBudget     int
	PromptBudget      int
	MinEffectiveScore float64

	Limits Limits

	// LogPath feeds the timeline builder's log tail scan.
	LogPath string
	// WorkspaceRoot anchors the .signet/hooks directory.
	WorkspaceRoot string

	Version string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:7433"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.AuthMode == "" {
		c.AuthMode = authz.ModeLocal
	}
	if c.Alpha <= 0 {
		c.Alpha = 0.7
	}
	if c.TopK <= 0 {
		c.TopK = 20
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = 24 * time.Hour
	}
	if c.RecoveryBudget <= 0 {
		c.RecoveryBudget = 2000
	}
	if c.SessionBudget <= 0 {
		c.SessionBudget = 2000
	}
	if c.PromptBudget <= 0 {
		c.PromptBudget = 500
	}
	if c.MinEffectiveScore <= 0 {
		c.MinEffectiveScore = 0.3
	}
	if c.Limits.Forget.Max == 0 {
		c.Limits.Forget = LimitRule{Window: time.Minute, Max: 30}
	}
	if c.Limits.Modify.Max == 0 {
		c.Limits.Modify = LimitRule{Window: time.Minute, Max: 60}
	}
	if c.Limits.BatchForget.Max == 0 {
		c.Limits.BatchForget = LimitRule{Window: time.Minute, Max: 5}
	}
	if c.Limits.ForceDelete.Max == 0 {
		c.Limits.ForceDelete = LimitRule{Window: time.Minute, Max: 3}
	}
	if c.Limits.Admin.Max == 0 {
		c.Limits.Admin = LimitRule{Window: time.Minute, Max: 10}
	}
	return c
}

// Server wires the stores, engines, and per-process state behind the HTTP
// handlers.
type Server struct {
	store     storage.Storage
	engine    *recall.Engine
	tracker   *session.Tracker
	flusher   *session.Flusher
	collector *analytics.Collector
	diag      *diagnostics.Engine
	timeline  *timeline.Builder
	signer    *sign.TokenSigner
	hooks     *hooks.Runner
	log       *slog.Logger
	cfg       Config
	limiters  map[string]*authz.RateLimiter
	startedAt time.Time

	httpSrv *http.Server
}

// New assembles a server over one store and recall engine. The collector is
// shared with the pipeline so provider outcomes land in the same snapshot.
func New(store storage.Storage, engine *recall.Engine, collector *analytics.Collector, log *slog.Logger, cfg Config) *Server {
	cfg = cfg.withDefaults()
	if collector == nil {
		collector = analytics.NewCollector()
	}
	s := &Server{
		store:     store,
		engine:    engine,
		tracker:   session.NewTracker(cfg.Continuity),
		flusher:   session.NewFlusher(store, log, cfg.FlushDelay, cfg.MaxCheckpoints),
		collector: collector,
		diag:      diagnostics.New(store, collector, 5*time.Minute),
		timeline:  timeline.New(store, collector, cfg.LogPath),
		signer:    sign.NewTokenSigner(cfg.Secret),
		hooks:     hooks.NewRunnerFromWorkspace(cfg.WorkspaceRoot),
		log:       log,
		cfg:       cfg,
		startedAt: time.Now(),
	}
	s.limiters = map[string]*authz.RateLimiter{
		opForget:      authz.NewRateLimiter(cfg.Limits.Forget.Window, cfg.Limits.Forget.Max),
		opModify:      authz.NewRateLimiter(cfg.Limits.Modify.Window, cfg.Limits.Modify.Max),
		opBatchForget: authz.NewRateLimiter(cfg.Limits.BatchForget.Window, cfg.Limits.BatchForget.Max),
		opForceDelete: authz.NewRateLimiter(cfg.Limits.ForceDelete.Window, cfg.Limits.ForceDelete.Max),
		opAdmin:       authz.NewRateLimiter(cfg.Limits.Admin.Window, cfg.Limits.Admin.Max),
	}
	return s
}

// Rate-limited operation classes.
const (
	opForget      = "forget"
	opModify      = "modify"
	opBatchForget = "batch_forget"
	opForceDelete = "force_delete"
	opAdmin       = "admin"
)

// Handler builds the routing table. Method-qualified patterns keep dispatch
// in the mux instead of per-handler switches.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/memory/remember", s.route(authz.PermRemember, s.handleRemember))
	mux.HandleFunc("POST /api/memory/recall", s.route(authz.PermRecall, s.handleRecall))
	mux.HandleFunc("POST /api/memory/modify", s.route(authz.PermModify, s.handleModify))
	mux.HandleFunc("POST /api/memory/forget", s.route(authz.PermForget, s.handleForget))
	mux.HandleFunc("GET /api/memory/{id}", s.route(authz.PermRecall, s.handleGetMemory))
	mux.HandleFunc("PATCH /api/memory/{id}", s.route(authz.PermModify, s.handlePatchMemory))
	mux.HandleFunc("DELETE /api/memory/{id}", s.route(authz.PermForget, s.handleDeleteMemory))
	mux.HandleFunc("POST /api/memory/{id}/recover", s.route(authz.PermRecover, s.handleRecoverMemory))
	mux.HandleFunc("GET /api/memory/{id}/history", s.route(authz.PermRecall, s.handleHistory))

	mux.HandleFunc("POST /api/hooks/session_start", s.route(authz.PermRecall, s.handleHookSessionStart))
	mux.HandleFunc("POST /api/hooks/user_prompt_submit", s.route(authz.PermRecall, s.handleHookUserPrompt))
	mux.HandleFunc("POST /api/hooks/remember", s.route(authz.PermRemember, s.handleHookRemember))
	mux.HandleFunc("POST /api/hooks/recall", s.route(authz.PermRecall, s.handleHookRecall))
	mux.HandleFunc("POST /api/hooks/pre_compaction", s.route(authz.PermRecall, s.handleHookPreCompaction))
	mux.HandleFunc("POST /api/hooks/session_end", s.route(authz.PermRecall, s.handleHookSessionEnd))

	mux.HandleFunc("GET /api/jobs", s.route(authz.PermDiagnostics, s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.route(authz.PermDiagnostics, s.handleGetJob))
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.route(authz.PermDiagnostics, s.handleRetryJob))

	mux.HandleFunc("GET /api/diagnostics", s.route(authz.PermDiagnostics, s.handleDiagnostics))
	mux.HandleFunc("GET /api/analytics", s.route(authz.PermDiagnostics, s.handleAnalytics))
	mux.HandleFunc("GET /api/timeline/{id}", s.route(authz.PermDiagnostics, s.handleTimeline))
	mux.HandleFunc("GET /api/analytics/projection", s.route(authz.PermDiagnostics, s.handleGetProjection))
	mux.HandleFunc("PUT /api/analytics/projection", s.route(authz.PermDiagnostics, s.handlePutProjection))
	mux.HandleFunc("GET /api/checkpoints", s.route(authz.PermRecall, s.handleCheckpoints))

	mux.HandleFunc("GET /api/status", s.route(authz.PermRecall, s.handleStatus))
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start runs the HTTP server until ctx is cancelled, then drains with a
// bounded shutdown and flushes pending checkpoints.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.RequestTimeout,
		WriteTimeout:      2 * s.cfg.RequestTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(shutdownCtx)
	s.flusher.FlushAll()
	return err
}

// FlushSessions forces all pending checkpoint writes. Exposed for the
// daemon's shutdown path when the server was built without Start.
func (s *Server) FlushSessions() {
	s.flusher.FlushAll()
}
