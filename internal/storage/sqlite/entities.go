package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// CanonicalEntityName is the uniqueness basis for entities: lowercased with
// whitespace runs collapsed.
func CanonicalEntityName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// upsertEntityTx inserts or bumps an entity by canonical name and returns
// its id.
func upsertEntityTx(tx *sql.Tx, ctx context.Context, name, entityType string, ts time.Time) (string, error) {
	canonical := CanonicalEntityName(name)
	if canonical == "" {
		return "", types.NewInvalidInput("entity name cannot be empty")
	}

	var id string
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE canonical_name = ?", canonical).Scan(&id)
	if err == nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE entities SET mentions = mentions + 1, updated_at = ? WHERE id = ?",
			ts, id); err != nil {
			return "", fmt.Errorf("failed to bump entity mentions: %w", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("entity lookup failed: %w", err)
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (id, name, canonical_name, entity_type, mentions, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, id, strings.TrimSpace(name), canonical, entityType, ts, ts)
	if err != nil {
		return "", fmt.Errorf("failed to insert entity: %w", err)
	}
	return id, nil
}

// upsertRelationTx inserts or reinforces a (source, target, type) edge. The
// confidence is a running mean over every mention of the edge.
func upsertRelationTx(tx *sql.Tx, ctx context.Context, sourceID, targetID, relationType string, confidence float64, ts time.Time) error {
	var id string
	var mentions int
	var conf float64
	err := tx.QueryRowContext(ctx, `
		SELECT id, mentions, confidence FROM relations
		WHERE source_entity = ? AND target_entity = ? AND relation_type = ?
	`, sourceID, targetID, relationType).Scan(&id, &mentions, &conf)
	if err == nil {
		mentions++
		conf += (confidence - conf) / float64(mentions)
		_, err = tx.ExecContext(ctx, `
			UPDATE relations SET mentions = ?, confidence = ?, updated_at = ? WHERE id = ?
		`, mentions, conf, ts, id)
		if err != nil {
			return fmt.Errorf("failed to reinforce relation: %w", err)
		}
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("relation lookup failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO relations (id, source_entity, target_entity, relation_type, strength, mentions, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1.0, 1, ?, ?, ?)
	`, uuid.NewString(), sourceID, targetID, relationType, confidence, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert relation: %w", err)
	}
	return nil
}

// ApplyExtraction upserts the entity graph for one memory's extraction
// output and stamps the memory's extraction status. The whole batch is one
// transaction so a crash never leaves half a graph behind.
func (s *Store) ApplyExtraction(ctx context.Context, memoryID string, entities []storage.ExtractedEntity, status string) error {
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entities {
			sourceID, err := upsertEntityTx(tx, ctx, e.Source, e.EntityType, ts)
			if err != nil {
				return err
			}
			targetID, err := upsertEntityTx(tx, ctx, e.Target, e.EntityType, ts)
			if err != nil {
				return err
			}
			if err := upsertRelationTx(tx, ctx, sourceID, targetID, e.Relationship, e.Confidence, ts); err != nil {
				return err
			}

			for _, entityID := range []string{sourceID, targetID} {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO memory_entity_mentions (memory_id, entity_id, created_at)
					VALUES (?, ?, ?)
				`, memoryID, entityID, ts); err != nil {
					return fmt.Errorf("failed to link mention: %w", err)
				}
			}
		}
		return touchExtractionStatus(tx, ctx, memoryID, status, ts)
	})
}

// GetEntity returns an entity by canonical name.
func (s *Store) GetEntity(ctx context.Context, canonicalName string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, canonical_name, entity_type, mentions, created_at, updated_at
		FROM entities WHERE canonical_name = ?
	`, CanonicalEntityName(canonicalName))
	var e types.Entity
	err := row.Scan(&e.ID, &e.Name, &e.CanonicalName, &e.EntityType,
		&e.Mentions, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &e, nil
}
