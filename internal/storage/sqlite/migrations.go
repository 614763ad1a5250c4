// Package sqlite - database migrations.
package sqlite

import (
	"database/sql"
	"fmt"
)

// Migration is a single idempotent schema change. Migrations run in order on
// every startup; each one checks whether it already applies before touching
// the database, so re-running the list is safe.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"access_columns", migrateAccessColumns},
	{"job_lease_columns", migrateJobLeaseColumns},
	{"summary_path_column", migrateSummaryPathColumn},
}

// RunMigrations applies every registered migration in order.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

// columnExists reports whether table has a column with the given name.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// migrateAccessColumns adds access accounting to databases created before
// recall started bumping access counts.
func migrateAccessColumns(db *sql.DB) error {
	exists, err := columnExists(db, "memories", "access_count")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE memories ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	_, err = db.Exec("ALTER TABLE memories ADD COLUMN last_accessed_at DATETIME")
	return err
}

// migrateJobLeaseColumns adds leased_by and next_attempt_at to job tables
// created before the lease/backoff rework.
func migrateJobLeaseColumns(db *sql.DB) error {
	exists, err := columnExists(db, "memory_jobs", "next_attempt_at")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE memory_jobs ADD COLUMN leased_by TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	_, err = db.Exec("ALTER TABLE memory_jobs ADD COLUMN next_attempt_at DATETIME")
	return err
}

// migrateSummaryPathColumn adds summary_path so completed summary jobs can
// point at the note they produced.
func migrateSummaryPathColumn(db *sql.DB) error {
	exists, err := columnExists(db, "summary_jobs", "summary_path")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec("ALTER TABLE summary_jobs ADD COLUMN summary_path TEXT")
	return err
}
