package main

import (
	"context"
	"fmt"
	"time"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/config"
	"github.com/signetai/signetd/internal/diagnostics"
	"github.com/signetai/signetd/internal/llm"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
	"github.com/signetai/signetd/internal/types"
	"github.com/signetai/signetd/internal/workspace"
)

// directBackend runs every operation against the database in-process. Recall
// gets a vector arm only when a local ollama answers the availability probe.
type directBackend struct {
	store  storage.Storage
	engine *recall.Engine
}

func newDirectBackend(ctx context.Context) (*directBackend, error) {
	path := config.GetString("db")
	if path == "" {
		path = workspace.FindDatabasePath()
	}
	if path == "" {
		return nil, fmt.Errorf("no workspace found: run 'signetd init' or pass --db")
	}
	store, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var embedder recall.Embedder
	if oe, err := llm.NewOllamaEmbedder(config.GetString("embedding.model")); err == nil && oe.Available(ctx) {
		embedder = oe
	}
	return &directBackend{
		store:  store,
		engine: recall.NewEngine(store, embedder),
	}, nil
}

func (b *directBackend) Kind() string { return "direct" }
func (b *directBackend) Close() error { return b.store.Close() }

func (b *directBackend) Remember(ctx context.Context, p rememberParams) (storage.IngestResult, error) {
	// Same shorthand handling the daemon applies: parse first, then let
	// explicit flags win.
	parsed := types.ParseRememberContent(p.Content)
	env := storage.IngestEnvelope{
		Content:    parsed.Content,
		Type:       parsed.Type,
		Importance: parsed.Importance,
		Confidence: 1.0,
		Pinned:     parsed.Pinned,
		Tags:       parsed.Tags,
		Project:    p.Project,
		SourceType: "explicit",
		Actor:      actorIdentity(),
	}
	if p.Type != "" {
		t := types.MemoryType(p.Type)
		if !t.IsValid() {
			return storage.IngestResult{}, types.NewInvalidInput("invalid memory type %q", p.Type)
		}
		env.Type = t
	}
	if p.Importance != nil {
		env.Importance = *p.Importance
	}
	if p.Pinned != nil {
		env.Pinned = *p.Pinned
	}
	if len(p.Tags) > 0 {
		env.Tags = p.Tags
	}
	if p.SourceType != "" {
		env.SourceType = p.SourceType
	}
	return b.store.Ingest(ctx, env)
}

func (b *directBackend) Get(ctx context.Context, id string) (*types.Memory, error) {
	return b.store.GetMemory(ctx, id)
}

func (b *directBackend) Recall(ctx context.Context, q recall.Query) ([]recall.Result, error) {
	if q.Alpha == 0 {
		q.Alpha = config.GetFloat64("recall.alpha")
	}
	return b.engine.Search(ctx, q)
}

func (b *directBackend) Update(ctx context.Context, id string, patch storage.MemoryPatch, reason string, ifVersion *int) (int, error) {
	return b.store.UpdateMemory(ctx, id, patch, reason, actorIdentity(), ifVersion)
}

func (b *directBackend) Delete(ctx context.Context, id, reason string, force bool) error {
	return b.store.SoftDelete(ctx, id, reason, actorIdentity(), force)
}

func (b *directBackend) Recover(ctx context.Context, id, reason string) error {
	return b.store.Recover(ctx, id, reason, actorIdentity())
}

func (b *directBackend) History(ctx context.Context, id string) ([]*types.HistoryEntry, error) {
	return b.store.GetHistory(ctx, id)
}

// Forget mirrors the daemon's two-phase flow. In direct mode there is no
// server-side token: any non-empty confirmToken on execute counts as the
// caller having confirmed.
func (b *directBackend) Forget(ctx context.Context, sel storage.ForgetSelector, mode, confirmToken, reason string) (*forgetOutcome, error) {
	if sel.Empty() {
		return nil, types.NewInvalidInput("forget selector is empty")
	}
	ids, err := b.store.SelectForget(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(ids) > types.MaxBatchForget {
		return nil, types.NewInvalidInput("selector matches %d memories, max batch is %d", len(ids), types.MaxBatchForget)
	}

	out := &forgetOutcome{Count: len(ids)}
	if mode == "preview" {
		if len(ids) > types.BatchConfirmThreshold {
			out.RequiresConfirm = true
		} else {
			out.IDs = ids
		}
		return out, nil
	}

	if len(ids) > types.BatchConfirmThreshold && confirmToken == "" {
		out.RequiresConfirm = true
		return out, nil
	}
	if reason == "" {
		return nil, types.NewMissingReason("forget")
	}
	count, err := b.store.ExecuteForget(ctx, ids, reason, actorIdentity())
	if err != nil {
		return nil, err
	}
	out.Count = count
	out.Executed = true
	return out, nil
}

func (b *directBackend) Jobs(ctx context.Context, status, jobType string, limit int) ([]*types.Job, error) {
	f := storage.JobFilter{Limit: limit}
	if status != "" {
		f.Status = types.JobStatus(status)
		if !f.Status.IsValid() {
			return nil, types.NewInvalidInput("invalid job status %q", status)
		}
	}
	if jobType != "" {
		f.JobType = types.JobType(jobType)
		if !f.JobType.IsValid() {
			return nil, types.NewInvalidInput("invalid job type %q", jobType)
		}
	}
	return b.store.ListJobs(ctx, f)
}

func (b *directBackend) Job(ctx context.Context, id string) (*types.Job, error) {
	return b.store.GetJob(ctx, id)
}

func (b *directBackend) RetryJob(ctx context.Context, id string) error {
	return b.store.RetryJob(ctx, id)
}

func (b *directBackend) Doctor(ctx context.Context) (*diagnostics.Report, error) {
	eng := diagnostics.New(b.store, analytics.NewCollector(), config.GetDuration("pipeline.lease_timeout"))
	return eng.Run(ctx)
}

func (b *directBackend) Status(ctx context.Context) (map[string]any, error) {
	queue, err := b.store.GetQueueStats(ctx, config.GetDuration("pipeline.lease_timeout"))
	if err != nil {
		return nil, err
	}
	store, err := b.store.GetStoreStats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mode":      "direct",
		"version":   Version,
		"queue":     queue,
		"store":     store,
		"checkedAt": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// list is direct-only: the daemon API has no unfiltered listing endpoint.
func (b *directBackend) List(ctx context.Context, f storage.ListFilter) ([]*types.Memory, error) {
	return b.store.ListMemories(ctx, f)
}
