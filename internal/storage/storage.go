// Package storage defines the persistence contract for the memory daemon.
// The sqlite subpackage is the only production implementation; tests use it
// with in-memory databases rather than hand-rolled fakes.
package storage

import (
	"context"
	"time"

	"github.com/signetai/signetd/internal/types"
)

// IngestEnvelope is the validated input to Ingest. Content is the raw text;
// the store computes the normalized form and hash.
type IngestEnvelope struct {
	Content        string
	Type           types.MemoryType
	Importance     float64
	Confidence     float64
	Pinned         bool
	Project        string
	SessionID      string
	Who            string
	SourceType     string
	Tags           []string
	RuntimePath    string
	IdempotencyKey string
	Actor          string
}

// IngestResult reports whether the envelope created a row or hit a dedup.
type IngestResult struct {
	ID      string `json:"id"`
	Deduped bool   `json:"deduped"`
}

// MemoryPatch is a partial update. Nil fields are left untouched.
type MemoryPatch struct {
	Content    *string
	Type       *types.MemoryType
	Importance *float64
	Tags       *[]string
}

// Empty reports whether the patch would change nothing.
func (p MemoryPatch) Empty() bool {
	return p.Content == nil && p.Type == nil && p.Importance == nil && p.Tags == nil
}

// ForgetSelector picks memories for a batch forget. Fields combine with AND;
// at least one must be set.
type ForgetSelector struct {
	IDs       []string         `json:"ids,omitempty"`
	Type      types.MemoryType `json:"type,omitempty"`
	Project   string           `json:"project,omitempty"`
	OlderThan *time.Time       `json:"olderThan,omitempty"`
	Limit     int              `json:"limit,omitempty"`
}

// Empty reports whether no dimension is set.
func (s ForgetSelector) Empty() bool {
	return len(s.IDs) == 0 && s.Type == "" && s.Project == "" && s.OlderThan == nil
}

// ListFilter narrows memory listings.
type ListFilter struct {
	Type           types.MemoryType
	Project        string
	PinnedOnly     bool
	IncludeDeleted bool
	Limit          int
}

// FTSHit is one BM25 candidate. Raw is the bm25() value straight from FTS5
// (lower is better); callers normalize it.
type FTSHit struct {
	ID      string
	Content string
	Raw     float64
}

// RecallFilter narrows the BM25 candidate set before fusion.
type RecallFilter struct {
	Type    types.MemoryType
	Project string
}

// ExtractedEntity is one validated (source, relationship, target) triple
// produced by the extract stage.
type ExtractedEntity struct {
	Source       string
	Relationship string
	Target       string
	EntityType   string
	Confidence   float64
}

// RetentionPolicy drives one sweeper pass.
type RetentionPolicy struct {
	TombstoneRetention    time.Duration
	HistoryRetention      time.Duration
	CompletedJobRetention time.Duration
	DeadJobRetention      time.Duration
	CheckpointRetention   time.Duration
	ProjectionRetention   time.Duration
	LeaseTimeout          time.Duration
	BatchLimit            int
}

// SweepReport counts what one retention pass removed.
type SweepReport struct {
	Mentions        int `json:"mentions"`
	Entities        int `json:"entities"`
	Embeddings      int `json:"embeddings"`
	Memories        int `json:"memories"`
	HistoryRows     int `json:"history_rows"`
	CompletedJobs   int `json:"completed_jobs"`
	DeadJobs        int `json:"dead_jobs"`
	Checkpoints     int `json:"checkpoints"`
	Projections     int `json:"projections"`
	ReclaimedLeases int `json:"reclaimed_leases"`
}

// QueueStats feeds the queue diagnostic.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Dead       int `json:"dead"`
	// StuckLeases counts processing rows whose lease is older than the
	// lease timeout at the time of the query.
	StuckLeases int `json:"stuck_leases"`
}

// StoreStats feeds the storage and index diagnostics.
type StoreStats struct {
	TotalMemories    int   `json:"total_memories"`
	ActiveMemories   int   `json:"active_memories"`
	Tombstones       int   `json:"tombstones"`
	FTSRows          int   `json:"fts_rows"`
	WithEmbedding    int   `json:"with_embedding"`
	HistoryRows      int   `json:"history_rows"`
	RecentDeletes    int   `json:"recent_deletes"`
	RecentRecoveries int   `json:"recent_recoveries"`
	DBSizeBytes      int64 `json:"db_size_bytes"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status   types.JobStatus
	JobType  types.JobType
	MemoryID string
	Limit    int
}

// Projection is one cached dashboard scatter-plot payload.
type Projection struct {
	CacheKey    string    `json:"cache_key"`
	Points      string    `json:"points"`
	MemoryCount int       `json:"memory_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Storage is the full persistence surface. The daemon constructs one
// implementation at startup and passes it to every component.
type Storage interface {
	// Memories.
	Ingest(ctx context.Context, env IngestEnvelope) (IngestResult, error)
	GetMemory(ctx context.Context, id string) (*types.Memory, error)
	GetMemoriesByIDs(ctx context.Context, ids []string) ([]*types.Memory, error)
	ListMemories(ctx context.Context, f ListFilter) ([]*types.Memory, error)
	UpdateMemory(ctx context.Context, id string, patch MemoryPatch, reason, actor string, ifVersion *int) (int, error)
	SoftDelete(ctx context.Context, id, reason, actor string, force bool) error
	Recover(ctx context.Context, id, reason, actor string) error
	SelectForget(ctx context.Context, sel ForgetSelector) ([]string, error)
	ExecuteForget(ctx context.Context, ids []string, reason, actor string) (int, error)
	GetHistory(ctx context.Context, memoryID string) ([]*types.HistoryEntry, error)
	MarkAccessed(ctx context.Context, ids []string) error

	// FTS.
	SearchFTS(ctx context.Context, match string, limit int, f RecallFilter) ([]FTSHit, error)

	// Jobs.
	EnqueueJob(ctx context.Context, jobType types.JobType, memoryID, payload string) (string, error)
	LeaseJobs(ctx context.Context, workerID string, limit int) ([]*types.Job, error)
	CompleteJob(ctx context.Context, jobID, result string) error
	FailJob(ctx context.Context, jobID, errMsg string, retryAt time.Time) error
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]*types.Job, error)
	RetryJob(ctx context.Context, jobID string) error
	ResetProcessingJobs(ctx context.Context) (int, error)

	// Embeddings.
	UpsertEmbedding(ctx context.Context, emb *types.Embedding) error
	ListEmbeddings(ctx context.Context, sourceType string) ([]*types.Embedding, error)

	// Entity graph.
	ApplyExtraction(ctx context.Context, memoryID string, entities []ExtractedEntity, status string) error
	GetEntity(ctx context.Context, canonicalName string) (*types.Entity, error)

	// Session accounting.
	RecordSessionMemories(ctx context.Context, rows []*types.SessionMemory) error
	InjectedSessionMemories(ctx context.Context, sessionKey string) ([]*types.SessionMemory, error)
	UpdateSessionMemoryRelevance(ctx context.Context, sessionKey, memoryID string, relevance float64) error
	WriteCheckpoint(ctx context.Context, cp *types.Checkpoint, maxPerSession int) error
	LatestCheckpoint(ctx context.Context, projectNormalized string, within time.Duration) (*types.Checkpoint, error)
	ListCheckpoints(ctx context.Context, sessionKey string, limit int) ([]*types.Checkpoint, error)
	WriteSessionScore(ctx context.Context, score *types.SessionScore) error

	// Summaries.
	EnqueueSummary(ctx context.Context, job *types.SummaryJob) (string, error)
	LeaseSummaryJob(ctx context.Context) (*types.SummaryJob, error)
	CompleteSummaryJob(ctx context.Context, id, summaryPath string, factsCreated int) error
	FailSummaryJob(ctx context.Context, id, errMsg string, retryAt time.Time) error

	// Projection cache.
	PutProjection(ctx context.Context, p *Projection) error
	GetProjection(ctx context.Context, cacheKey string) (*Projection, error)

	// Retention and diagnostics.
	SweepRetention(ctx context.Context, policy RetentionPolicy) (*SweepReport, error)
	GetQueueStats(ctx context.Context, leaseTimeout time.Duration) (*QueueStats, error)
	GetStoreStats(ctx context.Context) (*StoreStats, error)

	Close() error
}
