package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signetai/signetd/internal/types"
)

// RecordSessionMemories upserts the candidate rows considered for one
// session inject. Re-recording a (session_key, memory_id) pair keeps the
// newest scores.
func (s *Store) RecordSessionMemories(ctx context.Context, rows []*types.SessionMemory) error {
	if len(rows) == 0 {
		return nil
	}
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_memories (session_key, memory_id, source, effective_score, final_score, rank, was_injected, relevance_score, fts_hit_count, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (session_key, memory_id) DO UPDATE SET
					source = excluded.source,
					effective_score = excluded.effective_score,
					final_score = excluded.final_score,
					rank = excluded.rank,
					was_injected = excluded.was_injected,
					fts_hit_count = excluded.fts_hit_count
			`, r.SessionKey, r.MemoryID, r.Source, r.EffectiveScore,
				r.FinalScore, r.Rank, boolToInt(r.WasInjected),
				nullableFloat(r.RelevanceScore), r.FTSHitCount, ts)
			if err != nil {
				return fmt.Errorf("failed to record session memory: %w", err)
			}
		}
		return nil
	})
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// InjectedSessionMemories returns the rows that were actually injected into
// a session, by rank. Continuity scoring builds its candidate map from this
// set only.
func (s *Store) InjectedSessionMemories(ctx context.Context, sessionKey string) ([]*types.SessionMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, memory_id, source, effective_score, final_score, rank, was_injected, relevance_score, fts_hit_count, created_at
		FROM session_memories
		WHERE session_key = ? AND was_injected = 1
		ORDER BY rank, memory_id
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list injected session memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.SessionMemory
	for rows.Next() {
		var (
			r           types.SessionMemory
			wasInjected int
			relevance   sql.NullFloat64
		)
		if err := rows.Scan(&r.SessionKey, &r.MemoryID, &r.Source,
			&r.EffectiveScore, &r.FinalScore, &r.Rank, &wasInjected,
			&relevance, &r.FTSHitCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.WasInjected = wasInjected != 0
		if relevance.Valid {
			v := relevance.Float64
			r.RelevanceScore = &v
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateSessionMemoryRelevance writes the per-memory relevance produced by
// continuity scoring back onto the accounting row.
func (s *Store) UpdateSessionMemoryRelevance(ctx context.Context, sessionKey, memoryID string, relevance float64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE session_memories SET relevance_score = ?
			WHERE session_key = ? AND memory_id = ?
		`, relevance, sessionKey, memoryID)
		if err != nil {
			return fmt.Errorf("failed to update relevance: %w", err)
		}
		return nil
	})
}

func marshalStringList(list []string) any {
	if len(list) == 0 {
		return nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(b)
}

func parseStringList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil
	}
	return list
}

// WriteCheckpoint inserts one checkpoint row and enforces the per-session
// cap by deleting the oldest rows beyond it, all in one transaction.
func (s *Store) WriteCheckpoint(ctx context.Context, cp *types.Checkpoint, maxPerSession int) error {
	if cp.SessionKey == "" {
		return types.NewInvalidInput("checkpoint session_key cannot be empty")
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Trigger == "" {
		cp.Trigger = types.TriggerPeriodic
	}
	if !cp.Trigger.IsValid() {
		return types.NewInvalidInput("invalid checkpoint trigger: %s", cp.Trigger)
	}
	ts := cp.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_checkpoints (id, session_key, harness, project, project_normalized, "trigger", digest, prompt_count, memory_queries, recent_remembers, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, cp.ID, cp.SessionKey, cp.Harness, cp.Project, cp.ProjectNormalized,
			string(cp.Trigger), cp.Digest, cp.PromptCount,
			marshalStringList(cp.MemoryQueries),
			marshalStringList(cp.RecentRemembers), ts)
		if err != nil {
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}

		if maxPerSession > 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM session_checkpoints
				WHERE session_key = ? AND id NOT IN (
					SELECT id FROM session_checkpoints
					WHERE session_key = ?
					ORDER BY created_at DESC, id DESC
					LIMIT ?
				)
			`, cp.SessionKey, cp.SessionKey, maxPerSession)
			if err != nil {
				return fmt.Errorf("failed to enforce checkpoint cap: %w", err)
			}
		}
		return nil
	})
}

const checkpointColumns = `id, session_key, harness, project,
	project_normalized, "trigger", digest, prompt_count, memory_queries,
	recent_remembers, created_at`

func scanCheckpoint(row rowScanner) (*types.Checkpoint, error) {
	var (
		cp        types.Checkpoint
		queries   sql.NullString
		remembers sql.NullString
	)
	err := row.Scan(&cp.ID, &cp.SessionKey, &cp.Harness, &cp.Project,
		&cp.ProjectNormalized, &cp.Trigger, &cp.Digest, &cp.PromptCount,
		&queries, &remembers, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	cp.MemoryQueries = parseStringList(queries)
	cp.RecentRemembers = parseStringList(remembers)
	return &cp, nil
}

// LatestCheckpoint returns the newest checkpoint for a normalized project
// whose age is within the window, or ErrNotFound.
func (s *Store) LatestCheckpoint(ctx context.Context, projectNormalized string, within time.Duration) (*types.Checkpoint, error) {
	cutoff := now().Add(-within)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM session_checkpoints
		WHERE project_normalized = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, projectNormalized, cutoff)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, sessionKey string, limit int) ([]*types.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checkpointColumns+` FROM session_checkpoints
		WHERE session_key = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// WriteSessionScore records one continuity rating.
func (s *Store) WriteSessionScore(ctx context.Context, score *types.SessionScore) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	ts := score.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_scores (id, session_key, project, harness, score, memories_recalled, memories_used, novel_context_count, reasoning, confidence, continuity_reasoning, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, score.ID, score.SessionKey, score.Project, score.Harness,
			score.Score, score.MemoriesRecalled, score.MemoriesUsed,
			score.NovelContextCount, score.Reasoning,
			nullableFloat(score.Confidence), score.ContinuityReasoning, ts)
		if err != nil {
			return fmt.Errorf("failed to write session score: %w", err)
		}
		return nil
	})
}
