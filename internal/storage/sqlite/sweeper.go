package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

// selectIDs runs a select-then-delete style id query inside a transaction.
// DELETE ... LIMIT is a compile-time option in SQLite, so the sweeper always
// selects ids first and deletes by explicit list.
func selectIDs(tx *sql.Tx, ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// sweepExpiredTombstones hard-deletes memories whose tombstone retention has
// lapsed, unwinding the dependent rows first so foreign keys and the FTS
// delete trigger all fire in one transaction per batch.
func (s *Store) sweepExpiredTombstones(ctx context.Context, cutoff time.Time, batch int, report *storage.SweepReport) error {
	for {
		var done bool
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			ids, err := selectIDs(tx, ctx, `
				SELECT id FROM memories
				WHERE is_deleted = 1 AND deleted_at < ?
				ORDER BY deleted_at LIMIT ?
			`, cutoff, batch)
			if err != nil {
				return fmt.Errorf("failed to select expired tombstones: %w", err)
			}
			if len(ids) == 0 {
				done = true
				return nil
			}
			ph := placeholders(len(ids))
			args := idArgs(ids)

			// Mentioned entities lose one mention per swept memory; the
			// ones that reach zero go, and relations cascade with them.
			entityIDs, err := selectIDs(tx, ctx,
				"SELECT DISTINCT entity_id FROM memory_entity_mentions WHERE memory_id IN ("+ph+")",
				args...)
			if err != nil {
				return fmt.Errorf("failed to select mentioned entities: %w", err)
			}
			res, err := tx.ExecContext(ctx,
				"DELETE FROM memory_entity_mentions WHERE memory_id IN ("+ph+")", args...)
			if err != nil {
				return fmt.Errorf("failed to delete mentions: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				report.Mentions += int(n)
			}
			for _, entityID := range entityIDs {
				var remaining int
				if err := tx.QueryRowContext(ctx,
					"SELECT COUNT(*) FROM memory_entity_mentions WHERE entity_id = ?",
					entityID).Scan(&remaining); err != nil {
					return fmt.Errorf("failed to count remaining mentions: %w", err)
				}
				if remaining == 0 {
					if _, err := tx.ExecContext(ctx,
						"DELETE FROM entities WHERE id = ?", entityID); err != nil {
						return fmt.Errorf("failed to delete orphan entity: %w", err)
					}
					report.Entities++
				}
			}

			res, err = tx.ExecContext(ctx,
				"DELETE FROM embeddings WHERE source_type = 'memory' AND source_id IN ("+ph+")",
				args...)
			if err != nil {
				return fmt.Errorf("failed to delete embeddings: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				report.Embeddings += int(n)
			}

			if _, err := tx.ExecContext(ctx,
				"DELETE FROM session_memories WHERE memory_id IN ("+ph+")", args...); err != nil {
				return fmt.Errorf("failed to delete session accounting: %w", err)
			}

			res, err = tx.ExecContext(ctx,
				"DELETE FROM memories WHERE id IN ("+ph+")", args...)
			if err != nil {
				return fmt.Errorf("failed to hard-delete memories: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				report.Memories += int(n)
			}

			done = len(ids) < batch
			return nil
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// sweepTable deletes rows matching a time cutoff in id batches.
func (s *Store) sweepTable(ctx context.Context, table, timeCol, where string, cutoff time.Time, batch int) (int, error) {
	total := 0
	for {
		var deleted int
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			cond := timeCol + " < ?"
			if where != "" {
				cond += " AND " + where
			}
			ids, err := selectIDs(tx, ctx,
				"SELECT id FROM "+table+" WHERE "+cond+" ORDER BY "+timeCol+" LIMIT ?",
				cutoff, batch)
			if err != nil {
				return fmt.Errorf("failed to select expired %s rows: %w", table, err)
			}
			if len(ids) == 0 {
				return nil
			}
			res, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE id IN ("+placeholders(len(ids))+")",
				idArgs(ids)...)
			if err != nil {
				return fmt.Errorf("failed to delete expired %s rows: %w", table, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				deleted = int(n)
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < batch {
			return total, nil
		}
	}
}

// reclaimStuckLeases returns processing jobs whose lease is older than the
// timeout back to pending, or dead-letters them when the retry budget is
// spent. Covers workers that died mid-job without a daemon restart.
func (s *Store) reclaimStuckLeases(ctx context.Context, timeout time.Time) (int, error) {
	reclaimed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"memory_jobs", "summary_jobs"} {
			res, err := tx.ExecContext(ctx, `
				UPDATE `+table+` SET status = 'pending', leased_at = NULL,
					error = 'lease_expired'
				WHERE status = 'processing' AND leased_at < ? AND attempts < max_attempts
			`, timeout)
			if err != nil {
				return fmt.Errorf("failed to reclaim %s leases: %w", table, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				reclaimed += int(n)
			}
			res, err = tx.ExecContext(ctx, `
				UPDATE `+table+` SET status = 'dead', leased_at = NULL,
					error = 'lease_expired'
				WHERE status = 'processing' AND leased_at < ? AND attempts >= max_attempts
			`, timeout)
			if err != nil {
				return fmt.Errorf("failed to dead-letter stuck %s rows: %w", table, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				reclaimed += int(n)
			}
		}
		return nil
	})
	return reclaimed, err
}

// SweepRetention runs one full retention pass under the given policy and
// reports what it removed. Each batch is its own transaction so a long sweep
// never starves writers.
func (s *Store) SweepRetention(ctx context.Context, policy storage.RetentionPolicy) (*storage.SweepReport, error) {
	if policy.TombstoneRetention <= 0 {
		policy.TombstoneRetention = types.DefaultTombstoneRetention
	}
	if policy.HistoryRetention <= 0 {
		policy.HistoryRetention = types.DefaultHistoryRetention
	}
	if policy.CompletedJobRetention <= 0 {
		policy.CompletedJobRetention = types.DefaultCompletedJobRetention
	}
	if policy.DeadJobRetention <= 0 {
		policy.DeadJobRetention = types.DefaultDeadJobRetention
	}
	if policy.CheckpointRetention <= 0 {
		policy.CheckpointRetention = types.DefaultTombstoneRetention
	}
	if policy.ProjectionRetention <= 0 {
		policy.ProjectionRetention = 24 * time.Hour
	}
	if policy.LeaseTimeout <= 0 {
		policy.LeaseTimeout = 10 * time.Minute
	}
	if policy.BatchLimit <= 0 {
		policy.BatchLimit = 500
	}

	ts := now()
	report := &storage.SweepReport{}

	if err := s.sweepExpiredTombstones(ctx, ts.Add(-policy.TombstoneRetention), policy.BatchLimit, report); err != nil {
		return report, err
	}

	n, err := s.sweepTable(ctx, "memory_history", "created_at", "",
		ts.Add(-policy.HistoryRetention), policy.BatchLimit)
	if err != nil {
		return report, err
	}
	report.HistoryRows = n

	n, err = s.sweepTable(ctx, "memory_jobs", "completed_at", "status = 'completed'",
		ts.Add(-policy.CompletedJobRetention), policy.BatchLimit)
	if err != nil {
		return report, err
	}
	report.CompletedJobs = n

	n, err = s.sweepTable(ctx, "memory_jobs", "created_at", "status = 'dead'",
		ts.Add(-policy.DeadJobRetention), policy.BatchLimit)
	if err != nil {
		return report, err
	}
	report.DeadJobs = n

	n, err = s.sweepTable(ctx, "session_checkpoints", "created_at", "",
		ts.Add(-policy.CheckpointRetention), policy.BatchLimit)
	if err != nil {
		return report, err
	}
	report.Checkpoints = n

	// Projection cache keys are time-bucketed; stale buckets just expire.
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM umap_cache WHERE created_at < ?",
			ts.Add(-policy.ProjectionRetention))
		if err != nil {
			return fmt.Errorf("failed to expire projections: %w", err)
		}
		if cnt, _ := res.RowsAffected(); cnt > 0 {
			report.Projections = int(cnt)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	reclaimed, err := s.reclaimStuckLeases(ctx, ts.Add(-policy.LeaseTimeout))
	if err != nil {
		return report, err
	}
	report.ReclaimedLeases = reclaimed

	return report, nil
}
