package sqlite

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/signetai/signetd/internal/storage"
)

// GetQueueStats counts jobs by status plus processing rows whose lease has
// gone stale.
func (s *Store) GetQueueStats(ctx context.Context, leaseTimeout time.Duration) (*storage.QueueStats, error) {
	stats := &storage.QueueStats{}
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM memory_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case "pending":
			stats.Pending = count
		case "processing":
			stats.Processing = count
		case "completed":
			stats.Completed = count
		case "failed":
			stats.Failed = count
		case "dead":
			stats.Dead = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if leaseTimeout <= 0 {
		leaseTimeout = 10 * time.Minute
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_jobs
		WHERE status = 'processing' AND leased_at < ?
	`, now().Add(-leaseTimeout)).Scan(&stats.StuckLeases)
	if err != nil {
		return nil, fmt.Errorf("failed to count stuck leases: %w", err)
	}
	return stats, nil
}

// GetStoreStats gathers the counters behind the storage and index
// diagnostics: totals, FTS coverage, embedding coverage, recent churn, and
// the database file size.
func (s *Store) GetStoreStats(ctx context.Context) (*storage.StoreStats, error) {
	stats := &storage.StoreStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN is_deleted = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_deleted = 1 THEN 1 ELSE 0 END)
		FROM memories
	`).Scan(&stats.TotalMemories, &nullInt{&stats.ActiveMemories}, &nullInt{&stats.Tombstones})
	if err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories_fts").Scan(&stats.FTSRows); err != nil {
		return nil, fmt.Errorf("failed to count fts rows: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories m
		WHERE m.is_deleted = 0 AND EXISTS (
			SELECT 1 FROM embeddings e
			WHERE e.source_type = 'memory' AND e.source_id = m.id
		)
	`).Scan(&stats.WithEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to count embedded memories: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_history").Scan(&stats.HistoryRows); err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}

	weekAgo := now().Add(-7 * 24 * time.Hour)
	err = s.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN event = 'DELETE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event = 'RECOVER' THEN 1 ELSE 0 END)
		FROM memory_history WHERE created_at >= ?
	`, weekAgo).Scan(&nullInt{&stats.RecentDeletes}, &nullInt{&stats.RecentRecoveries})
	if err != nil {
		return nil, fmt.Errorf("failed to count recent churn: %w", err)
	}

	if s.dbPath != "" && s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = fi.Size()
		}
	}
	return stats, nil
}

// nullInt scans a nullable integer aggregate into an int, treating NULL as
// zero. SUM over an empty table returns NULL.
type nullInt struct {
	dst *int
}

func (n *nullInt) Scan(src any) error {
	if src == nil {
		*n.dst = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dst = int(v)
	case float64:
		*n.dst = int(v)
	default:
		return fmt.Errorf("unexpected aggregate type %T", src)
	}
	return nil
}
