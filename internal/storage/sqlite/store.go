// Package sqlite implements the memory store on SQLite with FTS5.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// Store is the SQLite-backed memory store. All writes go through IMMEDIATE
// transactions; WAL readers run in parallel with the single writer.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// build does not pay the JIT cost on every process start. Falls back to an
// in-memory cache when the cache directory cannot be created.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "signet", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

const connPragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite&_txlock=immediate"

// New opens (or creates) the database at path and brings the schema up to
// date. Use ":memory:" for tests.
func New(ctx context.Context, path string) (*Store, error) {
	var connStr string
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))

	switch {
	case path == ":memory:":
		// Shared cache so every pooled connection sees the same data.
		// WAL does not apply to in-memory databases.
		connStr = "file::memory:?cache=shared&" + connPragmas
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			connStr += sep + connPragmas
		}
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + path + "?" + connPragmas
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isInMemory {
		// In-memory databases are per-connection without shared cache;
		// a single connection avoids surprises either way.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports one writer plus parallel readers. Bound the pool
		// so write contention does not pile up goroutines.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := verifySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema probe failed: %w. Database may be corrupted or from an incompatible version; run 'signetd doctor'", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// verifySchema probes the tables the daemon cannot run without. A failure
// here is store_corruption: fatal, never retried.
func verifySchema(db *sql.DB) error {
	probes := []string{
		"SELECT id, content, content_hash, version, is_deleted FROM memories LIMIT 1",
		"SELECT id, memory_id, event FROM memory_history LIMIT 1",
		"SELECT id, job_type, status, attempts FROM memory_jobs LIMIT 1",
		"SELECT rowid FROM memories_fts LIMIT 1",
		"SELECT source_type, source_id, vector, dimensions FROM embeddings LIMIT 1",
	}
	for _, q := range probes {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("probe %q: %w", q, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for read-only diagnostic queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string {
	if s.dbPath == ":memory:" {
		return ""
	}
	return s.dbPath
}

// Close checkpoints the WAL and closes the pool. Safe to call twice.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	// Best-effort: fold the WAL back into the main file so a copied
	// database is complete on its own.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
