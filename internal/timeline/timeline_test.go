package timeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
	"github.com/signetai/signetd/internal/types"
)

func newTimelineStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildMergesHistoryAndJobs(t *testing.T) {
	ctx := context.Background()
	store := newTimelineStore(t)

	res, err := store.Ingest(ctx, storage.IngestEnvelope{
		Content: "memory with a life story worth a timeline",
		Type:    types.MemoryTypeFact,
		Actor:   "alice",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	newContent := "memory with a revised life story worth a timeline"
	if _, err := store.UpdateMemory(ctx, res.ID, storage.MemoryPatch{Content: &newContent}, "clarify", "bob", nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	jobs, err := store.LeaseJobs(ctx, "w1", 10)
	if err != nil || len(jobs) == 0 {
		t.Fatalf("lease: %v", err)
	}
	if err := store.CompleteJob(ctx, jobs[0].ID, `{"ok":true}`); err != nil {
		t.Fatalf("complete: %v", err)
	}

	b := New(store, nil, "")
	events, err := b.Build(ctx, res.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	kinds := map[string]int{}
	for _, e := range events {
		kinds[e.Kind]++
	}
	if kinds["history"] != 2 {
		t.Errorf("history events = %d, want 2 (add + update)", kinds["history"])
	}
	if kinds["job"] < 3 {
		t.Errorf("job events = %d, want enqueues plus one completion", kinds["job"])
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events out of order at %d: %v", i, events)
		}
	}
}

func TestBuildResolvesJobID(t *testing.T) {
	ctx := context.Background()
	store := newTimelineStore(t)

	res, err := store.Ingest(ctx, storage.IngestEnvelope{
		Content: "resolving a timeline through one of its job ids",
		Type:    types.MemoryTypeFact,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	jobs, err := store.ListJobs(ctx, storage.JobFilter{MemoryID: res.ID})
	if err != nil || len(jobs) == 0 {
		t.Fatalf("list jobs: %v", err)
	}

	b := New(store, nil, "")
	events, err := b.Build(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("build via job id: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == "history" {
			found = true
		}
	}
	if !found {
		t.Error("job-id resolution should reach the memory's history")
	}
}

func TestBuildUnknownID(t *testing.T) {
	b := New(newTimelineStore(t), nil, "")
	if _, err := b.Build(context.Background(), "no-such-id"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestBuildIncludesLogAndErrorRing(t *testing.T) {
	ctx := context.Background()
	store := newTimelineStore(t)

	res, err := store.Ingest(ctx, storage.IngestEnvelope{
		Content: "memory that shows up in the daemon log and error ring",
		Type:    types.MemoryTypeFact,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "daemon.log")
	lines := fmt.Sprintf(
		"time=2026-08-26T10:00:00Z level=INFO msg=ingested memory=%s\n"+
			"time=2026-08-26T10:00:01Z level=INFO msg=unrelated line\n"+
			"no timestamp but mentions %s\n", res.ID, res.ID)
	if err := os.WriteFile(logPath, []byte(lines), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	col := analytics.NewCollector()
	col.RecordError(analytics.ErrorEntry{
		Timestamp: time.Date(2026, 8, 26, 10, 0, 2, 0, time.UTC),
		Stage:     "embedding",
		Code:      "timeout",
		Message:   "embed timed out",
		MemoryID:  res.ID,
	})

	events, err := New(store, col, logPath).Build(ctx, res.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var logs, errs int
	for _, e := range events {
		switch e.Kind {
		case "log":
			logs++
		case "error":
			errs++
		}
	}
	if logs != 1 {
		t.Errorf("log events = %d, want 1 (timestamped matching line only)", logs)
	}
	if errs != 1 {
		t.Errorf("error events = %d, want 1", errs)
	}
}
