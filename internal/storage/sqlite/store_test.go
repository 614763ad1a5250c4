package sqlite

import (
	"context"
	"testing"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})
	return s
}

func ingestOne(t *testing.T, s *Store, content string) string {
	t.Helper()
	res, err := s.Ingest(context.Background(), storage.IngestEnvelope{
		Content:    content,
		Type:       types.MemoryTypeFact,
		Importance: 0.7,
		Actor:      "test",
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if res.Deduped {
		t.Fatalf("unexpected dedup for %q", content)
	}
	return res.ID
}

func TestNewInMemory(t *testing.T) {
	s := newTestStore(t)
	if s.Path() != "" {
		t.Errorf("in-memory store should have empty path, got %q", s.Path())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	// New already ran them once; a second pass must be a no-op.
	if err := RunMigrations(s.DB()); err != nil {
		t.Fatalf("second migration pass failed: %v", err)
	}
}
