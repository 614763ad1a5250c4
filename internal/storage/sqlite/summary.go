package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signetai/signetd/internal/types"
)

const summaryColumns = `id, session_key, harness, project, transcript,
	status, attempts, max_attempts, leased_at, next_attempt_at, error,
	summary_path, facts_created, created_at, completed_at`

func scanSummaryJob(row rowScanner) (*types.SummaryJob, error) {
	var (
		j             types.SummaryJob
		leasedAt      sql.NullTime
		nextAttemptAt sql.NullTime
		errMsg        sql.NullString
		summaryPath   sql.NullString
		completedAt   sql.NullTime
	)
	err := row.Scan(&j.ID, &j.SessionKey, &j.Harness, &j.Project,
		&j.Transcript, &j.Status, &j.Attempts, &j.MaxAttempts, &leasedAt,
		&nextAttemptAt, &errMsg, &summaryPath, &j.FactsCreated,
		&j.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	j.Error = errMsg.String
	j.SummaryPath = summaryPath.String
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
	return &j, nil
}

// EnqueueSummary queues a session transcript for background summarization
// and returns immediately with the job id.
func (s *Store) EnqueueSummary(ctx context.Context, job *types.SummaryJob) (string, error) {
	if job.Transcript == "" {
		return "", types.NewInvalidInput("transcript cannot be empty")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = types.DefaultMaxAttempts
	}
	ts := now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO summary_jobs (id, session_key, harness, project, transcript, status, max_attempts, created_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
		`, job.ID, job.SessionKey, job.Harness, job.Project, job.Transcript,
			job.MaxAttempts, ts)
		if err != nil {
			return fmt.Errorf("failed to enqueue summary job: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// LeaseSummaryJob claims the oldest eligible pending summary job, or nil
// when the queue is empty.
func (s *Store) LeaseSummaryJob(ctx context.Context) (*types.SummaryJob, error) {
	ts := now()
	var leased *types.SummaryJob
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM summary_jobs
			WHERE status IN ('pending', 'failed')
			  AND attempts < max_attempts
			  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY created_at, id LIMIT 1
		`, ts).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select summary job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE summary_jobs SET status = 'processing',
				attempts = attempts + 1, leased_at = ?
			WHERE id = ?
		`, ts, id); err != nil {
			return fmt.Errorf("failed to lease summary job: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			"SELECT "+summaryColumns+" FROM summary_jobs WHERE id = ?", id)
		leased, err = scanSummaryJob(row)
		if err != nil {
			return fmt.Errorf("failed to read leased summary job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// CompleteSummaryJob marks a summary job done with the note it wrote and how
// many facts it created.
func (s *Store) CompleteSummaryJob(ctx context.Context, id, summaryPath string, factsCreated int) error {
	ts := now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE summary_jobs SET status = 'completed', completed_at = ?,
				summary_path = ?, facts_created = ?, leased_at = NULL
			WHERE id = ? AND status = 'processing'
		`, ts, emptyToNull(summaryPath), factsCreated, id)
		if err != nil {
			return fmt.Errorf("failed to complete summary job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrNotFound
		}
		return nil
	})
}

// FailSummaryJob records a failure with the same dead-letter semantics as
// memory jobs.
func (s *Store) FailSummaryJob(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRowContext(ctx,
			"SELECT attempts, max_attempts FROM summary_jobs WHERE id = ?",
			id).Scan(&attempts, &maxAttempts)
		if err == sql.ErrNoRows {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load summary job for fail: %w", err)
		}

		if attempts >= maxAttempts {
			_, err = tx.ExecContext(ctx, `
				UPDATE summary_jobs SET status = 'dead', error = ?, leased_at = NULL
				WHERE id = ?
			`, errMsg, id)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE summary_jobs SET status = 'pending', error = ?,
					next_attempt_at = ?, leased_at = NULL
				WHERE id = ?
			`, errMsg, retryAt, id)
		}
		if err != nil {
			return fmt.Errorf("failed to fail summary job: %w", err)
		}
		return nil
	})
}
