package notes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/storage/sqlite"
	"github.com/signetai/signetd/internal/types"
)

func newMDStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func ingestMD(t *testing.T, store *sqlite.Store, env storage.IngestEnvelope) string {
	t.Helper()
	if env.Type == "" {
		env.Type = types.MemoryTypeGeneral
	}
	if env.Importance == 0 {
		env.Importance = 0.8
	}
	env.Confidence = 1.0
	env.Actor = "test"
	res, err := store.Ingest(context.Background(), env)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return res.ID
}

func TestRenderMemoryMDGroupsAndPinsFirst(t *testing.T) {
	store := newMDStore(t)
	ingestMD(t, store, storage.IngestEnvelope{
		Content: "never force-push to main", Type: types.MemoryTypeRule,
		Pinned: true, Importance: 1.0, Tags: []string{"git"},
	})
	ingestMD(t, store, storage.IngestEnvelope{
		Content: "we chose sqlite over postgres for the local store",
		Type:    types.MemoryTypeDecision,
	})
	ingestMD(t, store, storage.IngestEnvelope{
		Content: "the importer is slow on cold caches",
		Type:    types.MemoryTypeIssue,
	})

	out, err := RenderMemoryMD(context.Background(), store, "", 10000, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"# Memory", "## Rules", "## Decisions", "## Issues",
		"**never force-push to main**", "_(git)_",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "## Rules") > strings.Index(out, "## Decisions") {
		t.Error("rules section should precede decisions")
	}
}

func TestRenderMemoryMDBudget(t *testing.T) {
	store := newMDStore(t)
	for i := 0; i < 30; i++ {
		ingestMD(t, store, storage.IngestEnvelope{
			Content: "filler memory row number " + strings.Repeat("x", i+1),
		})
	}
	ingestMD(t, store, storage.IngestEnvelope{
		Content: "pinned survives the budget", Pinned: true, Importance: 1.0,
		Type: types.MemoryTypeRule,
	})

	out, err := RenderMemoryMD(context.Background(), store, "", 400, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(out) > 400 {
		t.Errorf("output %d chars exceeds budget", len(out))
	}
	if !strings.Contains(out, "pinned survives the budget") {
		t.Error("pinned row dropped under budget pressure")
	}
}

func TestRenderMemoryMDEmptyStore(t *testing.T) {
	store := newMDStore(t)
	out, err := RenderMemoryMD(context.Background(), store, "", 10000, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "" {
		t.Errorf("empty store rendered %q", out)
	}
}

func TestWriteMemoryMDRoundTrip(t *testing.T) {
	store := newMDStore(t)
	root := t.TempDir()
	ingestMD(t, store, storage.IngestEnvelope{Content: "remembered for the digest"})

	path, err := WriteMemoryMD(context.Background(), store, "", root, 10000)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != filepath.Join(root, MemoryMDName) {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "remembered for the digest") {
		t.Errorf("content = %q", data)
	}
}

func TestWriteMemoryMDRemovesStaleFile(t *testing.T) {
	store := newMDStore(t)
	root := t.TempDir()
	stale := filepath.Join(root, MemoryMDName)
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, err := WriteMemoryMD(context.Background(), store, "", root, 10000)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale MEMORY.md not removed")
	}
}
