package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// PutProjection caches one dashboard scatter payload under its key.
func (s *Store) PutProjection(ctx context.Context, p *storage.Projection) error {
	if p.CacheKey == "" {
		return types.NewInvalidInput("projection cache_key cannot be empty")
	}
	ts := p.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO umap_cache (cache_key, points, memory_count, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (cache_key) DO UPDATE SET
				points = excluded.points,
				memory_count = excluded.memory_count,
				created_at = excluded.created_at
		`, p.CacheKey, p.Points, p.MemoryCount, ts)
		if err != nil {
			return fmt.Errorf("failed to cache projection: %w", err)
		}
		return nil
	})
}

// GetProjection returns a cached projection or ErrNotFound.
func (s *Store) GetProjection(ctx context.Context, cacheKey string) (*storage.Projection, error) {
	var p storage.Projection
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, points, memory_count, created_at
		FROM umap_cache WHERE cache_key = ?
	`, cacheKey).Scan(&p.CacheKey, &p.Points, &p.MemoryCount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get projection: %w", err)
	}
	return &p, nil
}
