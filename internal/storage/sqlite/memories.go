package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

const memoryColumns = `id, content, normalized_content, content_hash, type,
	importance, confidence, pinned, project, session_id, who, source_type,
	tags, runtime_path, version, is_deleted, deleted_at, idempotency_key,
	created_at, updated_at, updated_by, embedding_model, extraction_status,
	access_count, last_accessed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		m              types.Memory
		pinned         int
		isDeleted      int
		deletedAt      sql.NullTime
		idempotencyKey sql.NullString
		lastAccessedAt sql.NullTime
		tagsJSON       string
	)
	err := row.Scan(
		&m.ID, &m.Content, &m.NormalizedContent, &m.ContentHash, &m.Type,
		&m.Importance, &m.Confidence, &pinned, &m.Project, &m.SessionID,
		&m.Who, &m.SourceType, &tagsJSON, &m.RuntimePath, &m.Version,
		&isDeleted, &deletedAt, &idempotencyKey, &m.CreatedAt, &m.UpdatedAt,
		&m.UpdatedBy, &m.EmbeddingModel, &m.ExtractionStatus,
		&m.AccessCount, &lastAccessedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Pinned = pinned != 0
	m.IsDeleted = isDeleted != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if idempotencyKey.Valid {
		m.IdempotencyKey = idempotencyKey.String
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	m.Tags = parseTags(tagsJSON)
	return &m, nil
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseTags(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableKey maps "" onto NULL so the UNIQUE index on idempotency_key only
// bites when a key is actually supplied.
func nullableKey(key string) any {
	if key == "" {
		return nil
	}
	return key
}

// appendHistory writes one audit row inside the mutation's transaction.
func appendHistory(tx *sql.Tx, ctx context.Context, h *types.HistoryEntry) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_history (id, memory_id, event, old_content, new_content, changed_by, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.MemoryID, string(h.Event), emptyToNull(h.OldContent), emptyToNull(h.NewContent),
		h.ChangedBy, h.Reason, emptyToNull(h.Metadata), h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ingest inserts a memory or returns an existing one. Dedup order: exact
// idempotency key first, then an active row with the same content hash and
// the same (project, who) inside the dedup window. Fresh inserts enqueue the
// extract and embed jobs in the same transaction.
func (s *Store) Ingest(ctx context.Context, env storage.IngestEnvelope) (storage.IngestResult, error) {
	content := types.NormalizeContent(env.Content)
	if content == "" {
		return storage.IngestResult{}, types.NewInvalidInput("content cannot be empty")
	}
	if env.Type == "" {
		env.Type = types.MemoryTypeGeneral
	}
	if !env.Type.IsValid() {
		return storage.IngestResult{}, types.NewInvalidInput("invalid memory type: %s", env.Type)
	}
	if env.Importance < 0 || env.Importance > 1 {
		return storage.IngestResult{}, types.NewInvalidInput("importance must be in [0,1]")
	}
	if env.Confidence == 0 {
		env.Confidence = 1.0
	}

	normalized := types.NormalizeForDedup(content)
	hash := types.ComputeContentHash(content)
	ts := now()

	var result storage.IngestResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Idempotency key short-circuits everything, including tombstones:
		// the second write returns the first id unchanged.
		if env.IdempotencyKey != "" {
			var id string
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM memories WHERE idempotency_key = ?",
				env.IdempotencyKey).Scan(&id)
			if err == nil {
				result = storage.IngestResult{ID: id, Deduped: true}
				return nil
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("idempotency lookup failed: %w", err)
			}
		}

		// Content-hash dedup against active rows with the same provenance.
		cutoff := ts.Add(-types.DefaultDedupWindow)
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM memories
			WHERE content_hash = ? AND project = ? AND who = ?
			  AND is_deleted = 0 AND updated_at >= ?
			ORDER BY updated_at DESC LIMIT 1
		`, hash, env.Project, env.Who, cutoff).Scan(&id)
		if err == nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE memories SET updated_at = ? WHERE id = ?", ts, id); err != nil {
				return fmt.Errorf("failed to refresh deduped memory: %w", err)
			}
			result = storage.IngestResult{ID: id, Deduped: true}
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("dedup lookup failed: %w", err)
		}

		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memories (
				id, content, normalized_content, content_hash, type,
				importance, confidence, pinned, project, session_id, who,
				source_type, tags, runtime_path, version, is_deleted,
				idempotency_key, created_at, updated_at, updated_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?, ?, ?)
		`, id, content, normalized, hash, string(env.Type),
			env.Importance, env.Confidence, boolToInt(env.Pinned),
			env.Project, env.SessionID, env.Who, env.SourceType,
			marshalTags(env.Tags), env.RuntimePath,
			nullableKey(env.IdempotencyKey), ts, ts, env.Actor)
		if err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}

		if err := appendHistory(tx, ctx, &types.HistoryEntry{
			MemoryID:   id,
			Event:      types.EventAdd,
			NewContent: content,
			ChangedBy:  env.Actor,
			CreatedAt:  ts,
		}); err != nil {
			return err
		}

		if err := enqueueJobTx(tx, ctx, types.JobExtract, id, "", ts); err != nil {
			return err
		}
		if err := enqueueJobTx(tx, ctx, types.JobEmbed, id, "", ts); err != nil {
			return err
		}

		result = storage.IngestResult{ID: id, Deduped: false}
		return nil
	})
	return result, err
}

// GetMemory returns a memory by id. Tombstoned rows are returned with
// IsDeleted set so the recover path can inspect them.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// GetMemoriesByIDs returns the active memories among ids, in no particular
// order. Missing and tombstoned ids are silently dropped.
func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]*types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE id IN ("+placeholders+") AND is_deleted = 0",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMemories returns memories matching the filter, newest first.
func (s *Store) ListMemories(ctx context.Context, f storage.ListFilter) ([]*types.Memory, error) {
	var conds []string
	var args []any
	if !f.IncludeDeleted {
		conds = append(conds, "is_deleted = 0")
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Project != "" {
		conds = append(conds, "project = ?")
		args = append(args, f.Project)
	}
	if f.PinnedOnly {
		conds = append(conds, "pinned = 1")
	}
	query := "SELECT " + memoryColumns + " FROM memories"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMemory applies a partial patch under optimistic concurrency and
// returns the new version. A content change recomputes the hash, records
// old/new content in history, and re-enqueues extraction and embedding.
func (s *Store) UpdateMemory(ctx context.Context, id string, patch storage.MemoryPatch, reason, actor string, ifVersion *int) (int, error) {
	if strings.TrimSpace(reason) == "" {
		return 0, types.NewMissingReason("update")
	}
	if patch.Empty() {
		return 0, types.NewInvalidInput("patch is empty")
	}
	if patch.Type != nil && !patch.Type.IsValid() {
		return 0, types.NewInvalidInput("invalid memory type: %s", *patch.Type)
	}
	if patch.Importance != nil && (*patch.Importance < 0 || *patch.Importance > 1) {
		return 0, types.NewInvalidInput("importance must be in [0,1]")
	}

	ts := now()
	var newVersion int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
		m, err := scanMemory(row)
		if err == sql.ErrNoRows {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load memory for update: %w", err)
		}
		// Tombstones only mutate through recover.
		if m.IsDeleted {
			return types.ErrNotFound
		}
		if ifVersion != nil && *ifVersion != m.Version {
			return types.NewVersionConflict(m.Version)
		}

		contentChanged := false
		content := m.Content
		normalized := m.NormalizedContent
		hash := m.ContentHash
		if patch.Content != nil {
			next := types.NormalizeContent(*patch.Content)
			if next == "" {
				return types.NewInvalidInput("content cannot be empty")
			}
			if next != m.Content {
				contentChanged = true
				content = next
				normalized = types.NormalizeForDedup(next)
				hash = types.ComputeContentHash(next)
			}
		}
		memType := m.Type
		if patch.Type != nil {
			memType = *patch.Type
		}
		importance := m.Importance
		if patch.Importance != nil {
			importance = *patch.Importance
		}
		tags := m.Tags
		if patch.Tags != nil {
			tags = *patch.Tags
		}

		newVersion = m.Version + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET
				content = ?, normalized_content = ?, content_hash = ?,
				type = ?, importance = ?, tags = ?,
				version = ?, updated_at = ?, updated_by = ?
			WHERE id = ?
		`, content, normalized, hash, string(memType), importance,
			marshalTags(tags), newVersion, ts, actor, id)
		if err != nil {
			return fmt.Errorf("failed to update memory: %w", err)
		}

		h := &types.HistoryEntry{
			MemoryID:  id,
			Event:     types.EventUpdate,
			ChangedBy: actor,
			Reason:    reason,
			CreatedAt: ts,
		}
		if contentChanged {
			h.OldContent = m.Content
			h.NewContent = content
		}
		if err := appendHistory(tx, ctx, h); err != nil {
			return err
		}

		if contentChanged {
			if err := enqueueJobTx(tx, ctx, types.JobExtract, id, "", ts); err != nil {
				return err
			}
			if err := enqueueJobTx(tx, ctx, types.JobEmbed, id, "", ts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// SoftDelete tombstones a memory. Pinned memories require force.
func (s *Store) SoftDelete(ctx context.Context, id, reason, actor string, force bool) error {
	if strings.TrimSpace(reason) == "" {
		return types.NewMissingReason("forget")
	}
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
		m, err := scanMemory(row)
		if err == sql.ErrNoRows {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load memory for delete: %w", err)
		}
		if m.IsDeleted {
			return types.ErrNotFound
		}
		if m.Pinned && !force {
			return types.NewPinnedRequiresForce(id)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET is_deleted = 1, deleted_at = ?,
				version = version + 1, updated_at = ?, updated_by = ?
			WHERE id = ?
		`, ts, ts, actor, id)
		if err != nil {
			return fmt.Errorf("failed to soft-delete memory: %w", err)
		}

		return appendHistory(tx, ctx, &types.HistoryEntry{
			MemoryID:   id,
			Event:      types.EventDelete,
			OldContent: m.Content,
			ChangedBy:  actor,
			Reason:     reason,
			CreatedAt:  ts,
		})
	})
}

// Recover clears a tombstone while deleted_at is inside the retention
// window. Past the window the row belongs to the sweeper.
func (s *Store) Recover(ctx context.Context, id, reason, actor string) error {
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
		m, err := scanMemory(row)
		if err == sql.ErrNoRows {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load memory for recover: %w", err)
		}
		if !m.IsDeleted || m.DeletedAt == nil {
			return types.NewInvalidInput("memory %s is not deleted", id)
		}
		if ts.Sub(*m.DeletedAt) > types.DefaultTombstoneRetention {
			return types.NewRetentionExpired(id)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET is_deleted = 0, deleted_at = NULL,
				version = version + 1, updated_at = ?, updated_by = ?
			WHERE id = ?
		`, ts, actor, id)
		if err != nil {
			return fmt.Errorf("failed to recover memory: %w", err)
		}

		return appendHistory(tx, ctx, &types.HistoryEntry{
			MemoryID:   id,
			Event:      types.EventRecover,
			NewContent: m.Content,
			ChangedBy:  actor,
			Reason:     reason,
			CreatedAt:  ts,
		})
	})
}

// SelectForget resolves a batch selector to the matching active memory ids,
// oldest first, capped at the batch limit.
func (s *Store) SelectForget(ctx context.Context, sel storage.ForgetSelector) ([]string, error) {
	if sel.Empty() {
		return nil, types.NewInvalidInput("forget selector is empty")
	}
	limit := sel.Limit
	if limit <= 0 || limit > types.MaxBatchForget {
		limit = types.MaxBatchForget
	}

	conds := []string{"is_deleted = 0"}
	var args []any
	if len(sel.IDs) > 0 {
		placeholders := strings.Repeat("?,", len(sel.IDs)-1) + "?"
		conds = append(conds, "id IN ("+placeholders+")")
		for _, id := range sel.IDs {
			args = append(args, id)
		}
	}
	if sel.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(sel.Type))
	}
	if sel.Project != "" {
		conds = append(conds, "project = ?")
		args = append(args, sel.Project)
	}
	if sel.OlderThan != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, *sel.OlderThan)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM memories WHERE "+strings.Join(conds, " AND ")+
			" ORDER BY created_at, id LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select forget candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExecuteForget tombstones the given ids in one transaction. Pinned and
// already-deleted rows are skipped; the count of rows actually tombstoned is
// returned.
func (s *Store) ExecuteForget(ctx context.Context, ids []string, reason, actor string) (int, error) {
	if strings.TrimSpace(reason) == "" {
		return 0, types.NewMissingReason("forget")
	}
	ts := now()
	deleted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			row := tx.QueryRowContext(ctx,
				"SELECT content, pinned, is_deleted FROM memories WHERE id = ?", id)
			var content string
			var pinned, isDeleted int
			err := row.Scan(&content, &pinned, &isDeleted)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load %s for batch forget: %w", id, err)
			}
			if pinned != 0 || isDeleted != 0 {
				continue
			}

			if _, err := tx.ExecContext(ctx, `
				UPDATE memories SET is_deleted = 1, deleted_at = ?,
					version = version + 1, updated_at = ?, updated_by = ?
				WHERE id = ?
			`, ts, ts, actor, id); err != nil {
				return fmt.Errorf("failed to batch-forget %s: %w", id, err)
			}
			if err := appendHistory(tx, ctx, &types.HistoryEntry{
				MemoryID:   id,
				Event:      types.EventDelete,
				OldContent: content,
				ChangedBy:  actor,
				Reason:     reason,
				CreatedAt:  ts,
			}); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// GetHistory returns the audit trail for a memory in chronological order.
func (s *Store) GetHistory(ctx context.Context, memoryID string) ([]*types.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, event, old_content, new_content, changed_by, reason, metadata, created_at
		FROM memory_history WHERE memory_id = ?
		ORDER BY created_at, rowid
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.HistoryEntry
	for rows.Next() {
		var (
			h          types.HistoryEntry
			oldContent sql.NullString
			newContent sql.NullString
			metadata   sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.MemoryID, &h.Event, &oldContent,
			&newContent, &h.ChangedBy, &h.Reason, &metadata, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.OldContent = oldContent.String
		h.NewContent = newContent.String
		h.Metadata = metadata.String
		out = append(out, &h)
	}
	return out, rows.Err()
}

// MarkAccessed bumps access accounting on the given ids. Not a mutation in
// the history sense: no version bump, no history row.
func (s *Store) MarkAccessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, now())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id IN ("+placeholders+")",
		args...)
	if err != nil {
		return fmt.Errorf("failed to mark accessed: %w", err)
	}
	return nil
}

// touchExtractionStatus stamps the latest pipeline outcome on the memory
// without touching version.
func touchExtractionStatus(tx *sql.Tx, ctx context.Context, memoryID, status string, ts time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE memories SET extraction_status = ?, updated_at = ? WHERE id = ?",
		status, ts, memoryID)
	return err
}
