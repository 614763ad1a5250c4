// Package types defines the core domain types for the signet memory daemon:
// memories, the append-only history log, background jobs, embeddings, the
// extracted entity graph, and per-session continuity records.
package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MemoryType categorizes what kind of note a memory is.
type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeDecision   MemoryType = "decision"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeIssue      MemoryType = "issue"
	MemoryTypeRule       MemoryType = "rule"
	MemoryTypeLearning   MemoryType = "learning"
	MemoryTypeGeneral    MemoryType = "general"
)

// IsValid checks if the memory type is one of the known values.
func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryTypeFact, MemoryTypePreference, MemoryTypeDecision,
		MemoryTypeProcedural, MemoryTypeSemantic, MemoryTypeIssue,
		MemoryTypeRule, MemoryTypeLearning, MemoryTypeGeneral:
		return true
	}
	return false
}

// HistoryEvent is the kind of mutation recorded in memory_history.
type HistoryEvent string

const (
	EventAdd     HistoryEvent = "ADD"
	EventUpdate  HistoryEvent = "UPDATE"
	EventDelete  HistoryEvent = "DELETE"
	EventRecover HistoryEvent = "RECOVER"
)

// IsValid checks if the history event is one of the known values.
func (e HistoryEvent) IsValid() bool {
	switch e {
	case EventAdd, EventUpdate, EventDelete, EventRecover:
		return true
	}
	return false
}

// JobType identifies a pipeline stage.
type JobType string

const (
	JobExtract   JobType = "extract"
	JobDecide    JobType = "decide"
	JobEmbed     JobType = "embed"
	JobSummarize JobType = "summarize"
)

// IsValid checks if the job type is one of the known values.
func (t JobType) IsValid() bool {
	switch t {
	case JobExtract, JobDecide, JobEmbed, JobSummarize:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDead       JobStatus = "dead"
)

// IsValid checks if the job status is one of the known values.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobDead:
		return true
	}
	return false
}

// Terminal reports whether the status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobDead
}

// CheckpointTrigger records why a session checkpoint was written.
type CheckpointTrigger string

const (
	TriggerPeriodic      CheckpointTrigger = "periodic"
	TriggerPreCompaction CheckpointTrigger = "pre_compaction"
	TriggerAgent         CheckpointTrigger = "agent"
	TriggerExplicit      CheckpointTrigger = "explicit"
)

// IsValid checks if the trigger is one of the known values.
func (t CheckpointTrigger) IsValid() bool {
	switch t {
	case TriggerPeriodic, TriggerPreCompaction, TriggerAgent, TriggerExplicit:
		return true
	}
	return false
}

// Retention and queue defaults. Retention windows are enforced by the
// sweeper; callers can override them through config.
const (
	// DefaultTombstoneRetention is how long soft-deleted memories stay
	// recoverable before the sweeper hard-deletes them.
	DefaultTombstoneRetention = 30 * 24 * time.Hour

	// DefaultHistoryRetention bounds the append-only history log.
	DefaultHistoryRetention = 180 * 24 * time.Hour

	// DefaultCompletedJobRetention bounds completed job rows.
	DefaultCompletedJobRetention = 14 * 24 * time.Hour

	// DefaultDeadJobRetention bounds dead-letter job rows.
	DefaultDeadJobRetention = 30 * 24 * time.Hour

	// DefaultDedupWindow is how far back ingest looks for an active row
	// with the same content hash and provenance.
	DefaultDedupWindow = 7 * 24 * time.Hour

	// DefaultMaxAttempts is the retry budget before a job goes dead.
	DefaultMaxAttempts = 3

	// MaxBatchForget caps a single batch-forget selector.
	MaxBatchForget = 500

	// BatchConfirmThreshold is the match count above which a batch forget
	// execute requires a preview-issued confirm token.
	BatchConfirmThreshold = 25

	// DefaultRecallCandidates bounds the BM25 candidate set fed into
	// hybrid fusion.
	DefaultRecallCandidates = 50
)

// Memory is the central mutable record.
type Memory struct {
	ID                string     `json:"id"`
	Content           string     `json:"content"`
	NormalizedContent string     `json:"normalized_content,omitempty"`
	ContentHash       string     `json:"content_hash"`
	Type              MemoryType `json:"type"`
	Importance        float64    `json:"importance"`
	Confidence        float64    `json:"confidence"`
	Pinned            bool       `json:"pinned"`
	Project           string     `json:"project,omitempty"`
	SessionID         string     `json:"session_id,omitempty"`
	Who               string     `json:"who,omitempty"`
	SourceType        string     `json:"source_type,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	RuntimePath       string     `json:"runtime_path,omitempty"`
	Version           int        `json:"version"`
	IsDeleted         bool       `json:"is_deleted"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UpdatedBy         string     `json:"updated_by,omitempty"`
	EmbeddingModel    string     `json:"embedding_model,omitempty"`
	ExtractionStatus  string     `json:"extraction_status,omitempty"`
	AccessCount       int        `json:"access_count"`
	LastAccessedAt    *time.Time `json:"last_accessed_at,omitempty"`
}

// Validate checks field ranges on a memory before it is persisted.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory content cannot be empty")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid memory type: %s", m.Type)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("importance must be in [0,1], got %g", m.Importance)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %g", m.Confidence)
	}
	return nil
}

// EffectiveScore is the decayed relevance used for hook-context ranking.
// Pinned memories never decay; everything else loses 5% per day of age.
func (m *Memory) EffectiveScore(now time.Time) float64 {
	if m.Pinned {
		return 1.0
	}
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return m.Importance * math.Pow(0.95, ageDays)
}

// HistoryEntry is one append-only audit row for a memory mutation.
type HistoryEntry struct {
	ID         string       `json:"id"`
	MemoryID   string       `json:"memory_id"`
	Event      HistoryEvent `json:"event"`
	OldContent string       `json:"old_content,omitempty"`
	NewContent string       `json:"new_content,omitempty"`
	ChangedBy  string       `json:"changed_by,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Metadata   string       `json:"metadata,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Job is a persistent unit of background work.
type Job struct {
	ID            string     `json:"id"`
	MemoryID      string     `json:"memory_id,omitempty"`
	JobType       JobType    `json:"job_type"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	Payload       string     `json:"payload,omitempty"`
	LeasedAt      *time.Time `json:"leased_at,omitempty"`
	LeasedBy      string     `json:"leased_by,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	Result        string     `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Embedding is a dense vector for a source row, packed little-endian float32.
type Embedding struct {
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Vector     []float32 `json:"-"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Entity is a node in the extracted entity graph.
type Entity struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CanonicalName string    `json:"canonical_name"`
	EntityType    string    `json:"entity_type,omitempty"`
	Mentions      int       `json:"mentions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Relation is a directed edge between two entities.
type Relation struct {
	ID           string    `json:"id"`
	SourceEntity string    `json:"source_entity"`
	TargetEntity string    `json:"target_entity"`
	RelationType string    `json:"relation_type"`
	Strength     float64   `json:"strength"`
	Mentions     int       `json:"mentions"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EntityMention links a memory to an entity it mentions.
type EntityMention struct {
	MemoryID  string    `json:"memory_id"`
	EntityID  string    `json:"entity_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionMemory is one candidate considered for injection into a session.
type SessionMemory struct {
	SessionKey     string    `json:"session_key"`
	MemoryID       string    `json:"memory_id"`
	Source         string    `json:"source"` // effective or fts_only
	EffectiveScore float64   `json:"effective_score"`
	FinalScore     float64   `json:"final_score"`
	Rank           int       `json:"rank"`
	WasInjected    bool      `json:"was_injected"`
	RelevanceScore *float64  `json:"relevance_score,omitempty"`
	FTSHitCount    int       `json:"fts_hit_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Checkpoint is a redacted per-session digest row used to recover context
// across session restarts.
type Checkpoint struct {
	ID                string            `json:"id"`
	SessionKey        string            `json:"session_key"`
	Harness           string            `json:"harness,omitempty"`
	Project           string            `json:"project,omitempty"`
	ProjectNormalized string            `json:"project_normalized,omitempty"`
	Trigger           CheckpointTrigger `json:"trigger"`
	Digest            string            `json:"digest"`
	PromptCount       int               `json:"prompt_count"`
	MemoryQueries     []string          `json:"memory_queries,omitempty"`
	RecentRemembers   []string          `json:"recent_remembers,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// SessionScore is the continuity rating produced after summarization.
type SessionScore struct {
	ID                  string    `json:"id"`
	SessionKey          string    `json:"session_key"`
	Project             string    `json:"project,omitempty"`
	Harness             string    `json:"harness,omitempty"`
	Score               float64   `json:"score"`
	MemoriesRecalled    int       `json:"memories_recalled"`
	MemoriesUsed        int       `json:"memories_used"`
	NovelContextCount   int       `json:"novel_context_count"`
	Reasoning           string    `json:"reasoning,omitempty"`
	Confidence          *float64  `json:"confidence,omitempty"`
	ContinuityReasoning string    `json:"continuity_reasoning,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// SummaryJob is a queued session-summarization request.
type SummaryJob struct {
	ID            string     `json:"id"`
	SessionKey    string     `json:"session_key,omitempty"`
	Harness       string     `json:"harness,omitempty"`
	Project       string     `json:"project,omitempty"`
	Transcript    string     `json:"transcript"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	LeasedAt      *time.Time `json:"leased_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	SummaryPath   string     `json:"summary_path,omitempty"`
	FactsCreated  int        `json:"facts_created"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
