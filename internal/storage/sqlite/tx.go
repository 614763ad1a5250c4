package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	beginRetries    = 5
	beginRetryDelay = 100 * time.Millisecond
)

// isBusyError matches transient lock contention. Everything else bubbles up.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// isUniqueConstraintError matches UNIQUE violations, used where the caller
// treats a duplicate as "already there" rather than a failure.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// inTx runs fn inside a single write transaction. The connection string sets
// _txlock=immediate, so BeginTx takes the write lock up front and two writers
// never deadlock on lock upgrade. Begin is retried a few times on top of the
// driver's busy_timeout; fn itself is never retried.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var tx *sql.Tx
	var err error
	for attempt := 0; ; attempt++ {
		tx, err = s.db.BeginTx(ctx, nil)
		if err == nil {
			break
		}
		if !isBusyError(err) || attempt >= beginRetries {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		select {
		case <-time.After(beginRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// now returns the single timestamp used for every write in one transaction,
// truncated so round trips through DATETIME columns compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
