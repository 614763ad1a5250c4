package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/signetai/signetd/internal/types"
)

// PackVector encodes a float32 vector as little-endian bytes for BLOB
// storage.
func PackVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// UnpackVector decodes a BLOB written by PackVector.
func UnpackVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// UpsertEmbedding stores a vector keyed by (source_type, source_id),
// replacing any previous one. For memory embeddings it also stamps
// embedding_model on the memory row.
func (s *Store) UpsertEmbedding(ctx context.Context, emb *types.Embedding) error {
	if len(emb.Vector) == 0 {
		return types.NewInvalidInput("embedding vector cannot be empty")
	}
	if emb.Dimensions == 0 {
		emb.Dimensions = len(emb.Vector)
	}
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (source_type, source_id, vector, dimensions, model, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_type, source_id) DO UPDATE SET
				vector = excluded.vector,
				dimensions = excluded.dimensions,
				model = excluded.model,
				updated_at = excluded.updated_at
		`, emb.SourceType, emb.SourceID, PackVector(emb.Vector),
			emb.Dimensions, emb.Model, ts, ts)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding: %w", err)
		}

		if emb.SourceType == "memory" && emb.Model != "" {
			if _, err := tx.ExecContext(ctx,
				"UPDATE memories SET embedding_model = ? WHERE id = ?",
				emb.Model, emb.SourceID); err != nil {
				return fmt.Errorf("failed to stamp embedding model: %w", err)
			}
		}
		return nil
	})
}

// ListEmbeddings returns every embedding for a source type. The corpus is
// small enough that recall does a linear cosine scan over this.
func (s *Store) ListEmbeddings(ctx context.Context, sourceType string) ([]*types.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, source_id, vector, dimensions, model, created_at, updated_at
		FROM embeddings WHERE source_type = ?
	`, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Embedding
	for rows.Next() {
		var e types.Embedding
		var blob []byte
		if err := rows.Scan(&e.SourceType, &e.SourceID, &blob, &e.Dimensions,
			&e.Model, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Vector = UnpackVector(blob)
		out = append(out, &e)
	}
	return out, rows.Err()
}
