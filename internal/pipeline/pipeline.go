// Package pipeline runs the background job workers: entity extraction,
// shadow decisions, embedding, session summarization, and the retention
// sweeper. Workers are at-least-once; every stage writes idempotently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signetai/signetd/internal/llm"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// Config tunes the worker pool. Zero values fall back to the documented
// defaults.
type Config struct {
	Workers         int
	PollInterval    time.Duration
	LeaseBatch      int
	LeaseTimeout    time.Duration
	GenerateTimeout time.Duration
	DecideTimeout   time.Duration
	SummaryTimeout  time.Duration
	SummaryMaxChars int
	NotesDir        string
	SweepInterval   time.Duration
	Retention       storage.RetentionPolicy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LeaseBatch <= 0 {
		c.LeaseBatch = 5
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 5 * time.Minute
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 30 * time.Second
	}
	if c.DecideTimeout <= 0 {
		c.DecideTimeout = 10 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 90 * time.Second
	}
	if c.SummaryMaxChars <= 0 {
		c.SummaryMaxChars = 24000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 6 * time.Hour
	}
	c.Retention.LeaseTimeout = c.LeaseTimeout
	return c
}

// ProviderObserver receives the outcome of every LLM call the pipeline
// makes. The analytics collector implements it; a nil observer is fine.
type ProviderObserver interface {
	RecordProviderCall(provider string, outcome string)
}

// Pipeline owns the worker pool over one store.
type Pipeline struct {
	store    storage.Storage
	gen      llm.Generator
	embedder llm.Embedder
	engine   *recall.Engine
	log      *slog.Logger
	cfg      Config
	observer ProviderObserver
}

func New(store storage.Storage, gen llm.Generator, embedder llm.Embedder, log *slog.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		store:    store,
		gen:      gen,
		embedder: embedder,
		engine:   recall.NewEngine(store, embedder),
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// SetObserver wires provider-call accounting. Must be called before Run.
func (p *Pipeline) SetObserver(obs ProviderObserver) {
	p.observer = obs
}

func (p *Pipeline) observe(provider, outcome string) {
	if p.observer != nil {
		p.observer.RecordProviderCall(provider, outcome)
	}
}

// Run starts the workers and blocks until ctx is canceled. Leftover
// processing rows from a previous run are reset first.
func (p *Pipeline) Run(ctx context.Context) error {
	reset, err := p.store.ResetProcessingJobs(ctx)
	if err != nil {
		return fmt.Errorf("startup job reset failed: %w", err)
	}
	if reset > 0 {
		p.log.Warn("reset interrupted jobs from previous run", "count", reset)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			return p.workerLoop(ctx, workerID)
		})
	}
	g.Go(func() error {
		return p.summaryLoop(ctx)
	})
	g.Go(func() error {
		return p.sweepLoop(ctx)
	})
	return g.Wait()
}

// workerLoop drains the memory job queue. Workers never re-throw stage
// errors: each job either completes (possibly with a warning result) or
// fails with a backoff deadline.
func (p *Pipeline) workerLoop(ctx context.Context, workerID string) error {
	for {
		jobs, err := p.store.LeaseJobs(ctx, workerID, p.cfg.LeaseBatch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("lease failed", "worker", workerID, "error", err)
			jobs = nil
		}
		if len(jobs) == 0 {
			select {
			case <-time.After(p.cfg.PollInterval):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		for _, job := range jobs {
			p.runJob(ctx, job)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (p *Pipeline) runJob(ctx context.Context, job *types.Job) {
	var result string
	var err error

	switch job.JobType {
	case types.JobExtract:
		result, err = p.runExtract(ctx, job)
	case types.JobDecide:
		result, err = p.runDecide(ctx, job)
	case types.JobEmbed:
		result, err = p.runEmbed(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
	}

	if err == nil {
		if cerr := p.store.CompleteJob(ctx, job.ID, result); cerr != nil {
			p.log.Error("complete failed", "job", job.ID, "error", cerr)
		}
		return
	}

	// parse_error means the provider answered; retrying replays the same
	// malformed exchange. Complete with a warning instead.
	if !llm.IsRetryable(err) {
		p.log.Warn("job completed with warning", "job", job.ID,
			"type", job.JobType, "warning", err)
		warn := fmt.Sprintf(`{"warning":%q}`, err.Error())
		if cerr := p.store.CompleteJob(ctx, job.ID, warn); cerr != nil {
			p.log.Error("complete failed", "job", job.ID, "error", cerr)
		}
		return
	}

	retryAt := time.Now().UTC().Add(retryDelay(job.Attempts))
	p.log.Warn("job failed", "job", job.ID, "type", job.JobType,
		"attempt", job.Attempts, "error", err)
	if ferr := p.store.FailJob(ctx, job.ID, err.Error(), retryAt); ferr != nil {
		p.log.Error("fail recording failed", "job", job.ID, "error", ferr)
	}
}

// sweepLoop runs the retention sweeper on its interval, once immediately
// at startup.
func (p *Pipeline) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		report, err := p.store.SweepRetention(ctx, p.cfg.Retention)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("retention sweep failed", "error", err)
		} else if report != nil {
			p.log.Info("retention sweep",
				"memories", report.Memories,
				"entities", report.Entities,
				"embeddings", report.Embeddings,
				"history", report.HistoryRows,
				"completed_jobs", report.CompletedJobs,
				"dead_jobs", report.DeadJobs,
				"checkpoints", report.Checkpoints,
				"reclaimed_leases", report.ReclaimedLeases)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}
