package sqlite

const schema = `
-- Memories table: the central mutable record.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    normalized_content TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'general',
    importance REAL NOT NULL DEFAULT 0.5 CHECK(importance >= 0.0 AND importance <= 1.0),
    confidence REAL NOT NULL DEFAULT 1.0 CHECK(confidence >= 0.0 AND confidence <= 1.0),
    pinned INTEGER NOT NULL DEFAULT 0,
    project TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    who TEXT NOT NULL DEFAULT '',
    source_type TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    runtime_path TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
    is_deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at DATETIME,
    idempotency_key TEXT UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_by TEXT NOT NULL DEFAULT '',
    embedding_model TEXT NOT NULL DEFAULT '',
    extraction_status TEXT NOT NULL DEFAULT '',
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at DATETIME,
    -- A tombstone always knows when it died.
    CHECK ((is_deleted = 0 AND deleted_at IS NULL) OR (is_deleted = 1 AND deleted_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(is_deleted, deleted_at);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);

-- External-content FTS index over memories. Soft-deleted rows stay indexed;
-- the delete trigger fires on hard delete only, so search must join back to
-- memories and filter is_deleted itself.
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content, tags,
    content='memories',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, tags)
    VALUES (new.rowid, new.content, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content, tags ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, tags)
    VALUES ('delete', old.rowid, old.content, old.tags);
    INSERT INTO memories_fts(rowid, content, tags)
    VALUES (new.rowid, new.content, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, tags)
    VALUES ('delete', old.rowid, old.content, old.tags);
END;

-- Append-only history. Every mutation writes one row in the same
-- transaction, which makes history the idempotency anchor for the pipeline.
CREATE TABLE IF NOT EXISTS memory_history (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL,
    event TEXT NOT NULL CHECK(event IN ('ADD', 'UPDATE', 'DELETE', 'RECOVER')),
    old_content TEXT,
    new_content TEXT,
    changed_by TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_memory ON memory_history(memory_id, created_at);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON memory_history(created_at);

-- Background jobs with lease columns. The partial unique index collapses
-- duplicate enqueues while a job is still live.
CREATE TABLE IF NOT EXISTS memory_jobs (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL DEFAULT '',
    job_type TEXT NOT NULL CHECK(job_type IN ('extract', 'decide', 'embed', 'summarize')),
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'dead')),
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    payload TEXT,
    leased_at DATETIME,
    leased_by TEXT NOT NULL DEFAULT '',
    next_attempt_at DATETIME,
    completed_at DATETIME,
    failed_at DATETIME,
    error TEXT,
    result TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON memory_jobs(status, next_attempt_at, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_memory ON memory_jobs(memory_id, job_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_live ON memory_jobs(memory_id, job_type)
    WHERE status IN ('pending', 'processing', 'failed') AND memory_id != '';

-- Dense vectors, packed little-endian float32.
CREATE TABLE IF NOT EXISTS embeddings (
    source_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    vector BLOB NOT NULL,
    dimensions INTEGER NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source_type, source_id)
);

-- Extracted entity graph.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    canonical_name TEXT UNIQUE NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    mentions INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,
    source_entity TEXT NOT NULL,
    target_entity TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 1.0,
    mentions INTEGER NOT NULL DEFAULT 1,
    confidence REAL NOT NULL DEFAULT 1.0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (source_entity, target_entity, relation_type),
    FOREIGN KEY (source_entity) REFERENCES entities(id) ON DELETE CASCADE,
    FOREIGN KEY (target_entity) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memory_entity_mentions (
    memory_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (memory_id, entity_id),
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_mentions_entity ON memory_entity_mentions(entity_id);

-- Session accounting: one row per candidate considered for injection.
CREATE TABLE IF NOT EXISTS session_memories (
    session_key TEXT NOT NULL,
    memory_id TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'effective' CHECK(source IN ('effective', 'fts_only')),
    effective_score REAL NOT NULL DEFAULT 0,
    final_score REAL NOT NULL DEFAULT 0,
    rank INTEGER NOT NULL DEFAULT 0,
    was_injected INTEGER NOT NULL DEFAULT 0,
    relevance_score REAL,
    fts_hit_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_key, memory_id)
);

CREATE TABLE IF NOT EXISTS session_checkpoints (
    id TEXT PRIMARY KEY,
    session_key TEXT NOT NULL,
    harness TEXT NOT NULL DEFAULT '',
    project TEXT NOT NULL DEFAULT '',
    project_normalized TEXT NOT NULL DEFAULT '',
    "trigger" TEXT NOT NULL DEFAULT 'periodic' CHECK("trigger" IN ('periodic', 'pre_compaction', 'agent', 'explicit')),
    digest TEXT NOT NULL DEFAULT '',
    prompt_count INTEGER NOT NULL DEFAULT 0,
    memory_queries TEXT,
    recent_remembers TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON session_checkpoints(session_key, created_at);
CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON session_checkpoints(project_normalized, created_at);

CREATE TABLE IF NOT EXISTS session_scores (
    id TEXT PRIMARY KEY,
    session_key TEXT NOT NULL,
    project TEXT NOT NULL DEFAULT '',
    harness TEXT NOT NULL DEFAULT '',
    score REAL NOT NULL DEFAULT 0,
    memories_recalled INTEGER NOT NULL DEFAULT 0,
    memories_used INTEGER NOT NULL DEFAULT 0,
    novel_context_count INTEGER NOT NULL DEFAULT 0,
    reasoning TEXT NOT NULL DEFAULT '',
    confidence REAL,
    continuity_reasoning TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_scores_session ON session_scores(session_key);

-- Session summarization queue. Same lease discipline as memory_jobs but the
-- transcript travels with the row.
CREATE TABLE IF NOT EXISTS summary_jobs (
    id TEXT PRIMARY KEY,
    session_key TEXT NOT NULL DEFAULT '',
    harness TEXT NOT NULL DEFAULT '',
    project TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'dead')),
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    leased_at DATETIME,
    next_attempt_at DATETIME,
    error TEXT,
    summary_path TEXT,
    facts_created INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_summary_jobs_status ON summary_jobs(status, next_attempt_at, created_at);

-- Dashboard projection cache. The daemon stores and serves points; it never
-- computes projections.
CREATE TABLE IF NOT EXISTS umap_cache (
    cache_key TEXT PRIMARY KEY,
    points TEXT NOT NULL,
    memory_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
