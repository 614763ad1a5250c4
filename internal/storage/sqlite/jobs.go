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

const jobColumns = `id, memory_id, job_type, status, attempts, max_attempts,
	payload, leased_at, leased_by, next_attempt_at, completed_at, failed_at,
	error, result, created_at`

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		j             types.Job
		payload       sql.NullString
		leasedAt      sql.NullTime
		nextAttemptAt sql.NullTime
		completedAt   sql.NullTime
		failedAt      sql.NullTime
		errMsg        sql.NullString
		result        sql.NullString
	)
	err := row.Scan(&j.ID, &j.MemoryID, &j.JobType, &j.Status, &j.Attempts,
		&j.MaxAttempts, &payload, &leasedAt, &j.LeasedBy, &nextAttemptAt,
		&completedAt, &failedAt, &errMsg, &result, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = payload.String
	j.Error = errMsg.String
	j.Result = result.String
	if leasedAt.Valid {
		t := leasedAt.Time
		j.LeasedAt = &t
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		j.NextAttemptAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		j.FailedAt = &t
	}
	return &j, nil
}

// enqueueJobTx inserts a pending job inside an existing transaction. The
// partial unique index on live (memory_id, job_type) pairs makes duplicate
// enqueues a no-op.
func enqueueJobTx(tx *sql.Tx, ctx context.Context, jobType types.JobType, memoryID, payload string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO memory_jobs (id, memory_id, job_type, status, max_attempts, payload, created_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)
	`, uuid.NewString(), memoryID, string(jobType), types.DefaultMaxAttempts,
		emptyToNull(payload), ts)
	if err != nil && !isUniqueConstraintError(err) {
		return fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return nil
}

// EnqueueJob inserts a pending job row and returns its id. If a live job for
// the same (memory_id, job_type) already exists the insert is a no-op and
// the live job's id is returned.
func (s *Store) EnqueueJob(ctx context.Context, jobType types.JobType, memoryID, payload string) (string, error) {
	if !jobType.IsValid() {
		return "", types.NewInvalidInput("invalid job type: %s", jobType)
	}
	id := uuid.NewString()
	ts := now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO memory_jobs (id, memory_id, job_type, status, max_attempts, payload, created_at)
			VALUES (?, ?, ?, 'pending', ?, ?, ?)
		`, id, memoryID, string(jobType), types.DefaultMaxAttempts,
			emptyToNull(payload), ts)
		if err != nil {
			if isUniqueConstraintError(err) {
				res = nil
			} else {
				return fmt.Errorf("failed to enqueue job: %w", err)
			}
		}
		inserted := int64(0)
		if res != nil {
			inserted, _ = res.RowsAffected()
		}
		if inserted == 0 && memoryID != "" {
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM memory_jobs
				WHERE memory_id = ? AND job_type = ? AND status IN ('pending', 'processing', 'failed')
			`, memoryID, string(jobType)).Scan(&id)
			if err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("failed to find live job: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LeaseJobs atomically claims up to limit eligible jobs for workerID:
// oldest first, attempts below budget, backoff elapsed. Failed rows from a
// restart are leasable alongside pending ones. Claimed rows move to
// processing with attempts incremented.
func (s *Store) LeaseJobs(ctx context.Context, workerID string, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	ts := now()
	var leased []*types.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM memory_jobs
			WHERE status IN ('pending', 'failed')
			  AND attempts < max_attempts
			  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY created_at, id
			LIMIT ?
		`, ts, limit)
		if err != nil {
			return fmt.Errorf("failed to select leasable jobs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE memory_jobs SET status = 'processing',
					attempts = attempts + 1, leased_at = ?, leased_by = ?
				WHERE id = ?
			`, ts, workerID, id); err != nil {
				return fmt.Errorf("failed to lease job %s: %w", id, err)
			}
			row := tx.QueryRowContext(ctx,
				"SELECT "+jobColumns+" FROM memory_jobs WHERE id = ?", id)
			j, err := scanJob(row)
			if err != nil {
				return fmt.Errorf("failed to read leased job %s: %w", id, err)
			}
			leased = append(leased, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// CompleteJob marks a processing job completed and records its result.
func (s *Store) CompleteJob(ctx context.Context, jobID, result string) error {
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = 'completed', completed_at = ?,
				result = ?, leased_at = NULL, leased_by = ''
			WHERE id = ? AND status = 'processing'
		`, ts, emptyToNull(result), jobID)
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrNotFound
		}
		return nil
	})
}

// FailJob records a failure. Exhausted jobs go dead; everything else returns
// to pending with the supplied backoff deadline.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string, retryAt time.Time) error {
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRowContext(ctx,
			"SELECT attempts, max_attempts FROM memory_jobs WHERE id = ?",
			jobID).Scan(&attempts, &maxAttempts)
		if err == sql.ErrNoRows {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load job for fail: %w", err)
		}

		if attempts >= maxAttempts {
			_, err = tx.ExecContext(ctx, `
				UPDATE memory_jobs SET status = 'dead', failed_at = ?,
					error = ?, leased_at = NULL, leased_by = ''
				WHERE id = ?
			`, ts, errMsg, jobID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE memory_jobs SET status = 'pending', failed_at = ?,
					error = ?, next_attempt_at = ?, leased_at = NULL, leased_by = ''
				WHERE id = ?
			`, ts, errMsg, retryAt, jobID)
		}
		if err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		return nil
	})
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM memory_jobs WHERE id = ?", jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, f storage.JobFilter) ([]*types.Job, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, string(f.JobType))
	}
	if f.MemoryID != "" {
		conds = append(conds, "memory_id = ?")
		args = append(args, f.MemoryID)
	}
	query := "SELECT " + jobColumns + " FROM memory_jobs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RetryJob re-opens a dead or failed job with a fresh attempt budget. Dead
// letters are never retried automatically; this is the manual path.
func (s *Store) RetryJob(ctx context.Context, jobID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = 'pending', attempts = 0,
				next_attempt_at = NULL, error = NULL, failed_at = NULL,
				leased_at = NULL, leased_by = ''
			WHERE id = ? AND status IN ('dead', 'failed')
		`, jobID)
		if err != nil {
			return fmt.Errorf("failed to retry job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrNotFound
		}
		return nil
	})
}

// ResetProcessingJobs is the startup cleanup: leftover processing rows from
// a previous run are marked failed with daemon_restart. The lease query
// picks failed rows back up while attempts remain.
func (s *Store) ResetProcessingJobs(ctx context.Context) (int, error) {
	ts := now()
	total := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = 'failed', error = 'daemon_restart',
				failed_at = ?, leased_at = NULL, leased_by = ''
			WHERE status = 'processing' AND attempts < max_attempts
		`, ts)
		if err != nil {
			return fmt.Errorf("failed to reset processing jobs: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)

		res, err = tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = 'dead', error = 'daemon_restart',
				failed_at = ?, leased_at = NULL, leased_by = ''
			WHERE status = 'processing'
		`, ts)
		if err != nil {
			return fmt.Errorf("failed to dead-letter exhausted processing jobs: %w", err)
		}
		n, _ = res.RowsAffected()
		total += int(n)

		// Same treatment for interrupted summary jobs.
		res, err = tx.ExecContext(ctx, `
			UPDATE summary_jobs SET status = 'failed', error = 'daemon_restart', leased_at = NULL
			WHERE status = 'processing' AND attempts < max_attempts
		`)
		if err != nil {
			return fmt.Errorf("failed to reset processing summary jobs: %w", err)
		}
		n, _ = res.RowsAffected()
		total += int(n)

		res, err = tx.ExecContext(ctx, `
			UPDATE summary_jobs SET status = 'dead', error = 'daemon_restart', leased_at = NULL
			WHERE status = 'processing'
		`)
		if err != nil {
			return fmt.Errorf("failed to dead-letter exhausted summary jobs: %w", err)
		}
		n, _ = res.RowsAffected()
		total += int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
