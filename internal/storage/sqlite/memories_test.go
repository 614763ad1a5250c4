package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func TestIngestCreatesVersionOneWithHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := ingestOne(t, s, "prefers tabs over spaces")

	m, err := s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Version != 1 {
		t.Errorf("new memory version = %d, want 1", m.Version)
	}
	if m.ContentHash == "" {
		t.Error("content hash not computed")
	}

	hist, err := s.GetHistory(ctx, id)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(hist) != 1 || hist[0].Event != types.EventAdd {
		t.Fatalf("expected single ADD history row, got %+v", hist)
	}
}

func TestIngestEnqueuesExtractAndEmbed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := ingestOne(t, s, "uses ripgrep for code search")

	jobs, err := s.ListJobs(ctx, storage.JobFilter{MemoryID: id})
	if err != nil {
		t.Fatalf("list jobs failed: %v", err)
	}
	seen := map[types.JobType]bool{}
	for _, j := range jobs {
		seen[j.JobType] = true
		if j.Status != types.JobPending {
			t.Errorf("job %s status = %s, want pending", j.JobType, j.Status)
		}
	}
	if !seen[types.JobExtract] || !seen[types.JobEmbed] {
		t.Errorf("expected extract and embed jobs, got %v", seen)
	}
}

func TestIngestIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := storage.IngestEnvelope{
		Content:        "deploys on fridays",
		Importance:     0.5,
		IdempotencyKey: "session-1:42",
	}
	first, err := s.Ingest(ctx, env)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	// Different content, same key: the first row wins.
	env.Content = "never deploys on fridays"
	second, err := s.Ingest(ctx, env)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if !second.Deduped || second.ID != first.ID {
		t.Errorf("idempotent ingest = %+v, want deduped id %s", second, first.ID)
	}

	m, err := s.GetMemory(ctx, first.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Content != "deploys on fridays" {
		t.Errorf("idempotent replay altered content: %q", m.Content)
	}
}

func TestIngestContentHashDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := storage.IngestEnvelope{Content: "the api rate limit is 100 rps", Project: "api", Who: "agent"}
	first, err := s.Ingest(ctx, env)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	second, err := s.Ingest(ctx, env)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if !second.Deduped || second.ID != first.ID {
		t.Errorf("duplicate content = %+v, want dedup onto %s", second, first.ID)
	}

	// Same content from a different project is a new row.
	env.Project = "web"
	third, err := s.Ingest(ctx, env)
	if err != nil {
		t.Fatalf("third ingest failed: %v", err)
	}
	if third.Deduped {
		t.Error("different provenance should not dedup")
	}
}

func TestIngestRejectsEmptyAndInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Ingest(ctx, storage.IngestEnvelope{Content: "   "})
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("empty content error = %v, want invalid_input", err)
	}
	_, err = s.Ingest(ctx, storage.IngestEnvelope{Content: "x", Type: "opinion"})
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("bad type error = %v, want invalid_input", err)
	}
	_, err = s.Ingest(ctx, storage.IngestEnvelope{Content: "x", Importance: 1.5})
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("bad importance error = %v, want invalid_input", err)
	}
}

func TestUpdateMemoryBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := ingestOne(t, s, "timeout is 30s")

	newContent := "timeout is 60s"
	v, err := s.UpdateMemory(ctx, id, storage.MemoryPatch{Content: &newContent}, "timeout changed", "test", nil)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if v != 2 {
		t.Errorf("version after update = %d, want 2", v)
	}

	hist, err := s.GetHistory(ctx, id)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history rows = %d, want 2", len(hist))
	}
	up := hist[1]
	if up.Event != types.EventUpdate || up.OldContent != "timeout is 30s" || up.NewContent != "timeout is 60s" {
		t.Errorf("update history = %+v", up)
	}
}

func TestUpdateMemoryRequiresReason(t *testing.T) {
	s := newTestStore(t)
	id := ingestOne(t, s, "something")

	imp := 0.9
	_, err := s.UpdateMemory(context.Background(), id, storage.MemoryPatch{Importance: &imp}, "  ", "test", nil)
	if !types.IsCode(err, types.CodeMissingReason) {
		t.Errorf("error = %v, want missing_reason", err)
	}
}

func TestUpdateMemoryVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "current version matters")

	stale := 5
	imp := 0.9
	_, err := s.UpdateMemory(ctx, id, storage.MemoryPatch{Importance: &imp}, "bump", "test", &stale)
	if !types.IsCode(err, types.CodeVersionConflict) {
		t.Fatalf("error = %v, want version_conflict", err)
	}
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Detail["currentVersion"] != 1 {
		t.Errorf("conflict detail = %+v, want currentVersion 1", coded)
	}

	// Matching version succeeds.
	current := 1
	if _, err := s.UpdateMemory(ctx, id, storage.MemoryPatch{Importance: &imp}, "bump", "test", &current); err != nil {
		t.Errorf("update with matching version failed: %v", err)
	}
}

func TestSoftDeleteAndRecover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "temporary note")

	if err := s.SoftDelete(ctx, id, "obsolete", "test", false); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	m, err := s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("get tombstone failed: %v", err)
	}
	if !m.IsDeleted || m.DeletedAt == nil || m.Version != 2 {
		t.Errorf("tombstone = {deleted:%v at:%v v:%d}, want deleted v2", m.IsDeleted, m.DeletedAt, m.Version)
	}

	// Double delete is not_found.
	if err := s.SoftDelete(ctx, id, "again", "test", false); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("double delete error = %v, want not_found", err)
	}

	if err := s.Recover(ctx, id, "needed after all", "test"); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	m, err = s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("get recovered failed: %v", err)
	}
	if m.IsDeleted || m.Version != 3 {
		t.Errorf("recovered = {deleted:%v v:%d}, want live v3", m.IsDeleted, m.Version)
	}

	hist, _ := s.GetHistory(ctx, id)
	if len(hist) != 3 || hist[1].Event != types.EventDelete || hist[2].Event != types.EventRecover {
		t.Errorf("history events = %v", historyEvents(hist))
	}
}

func TestSoftDeletePinnedRequiresForce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, storage.IngestEnvelope{Content: "pinned forever", Pinned: true})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	err = s.SoftDelete(ctx, res.ID, "cleanup", "test", false)
	if !types.IsCode(err, types.CodePinnedForce) {
		t.Fatalf("error = %v, want pinned_requires_force", err)
	}
	if err := s.SoftDelete(ctx, res.ID, "cleanup", "test", true); err != nil {
		t.Errorf("forced delete failed: %v", err)
	}
}

func TestRecoverPastRetentionWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "ancient tombstone")

	if err := s.SoftDelete(ctx, id, "old", "test", false); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	// Backdate the tombstone past the retention window.
	old := time.Now().UTC().Add(-types.DefaultTombstoneRetention - time.Hour)
	if _, err := s.DB().Exec("UPDATE memories SET deleted_at = ? WHERE id = ?", old, id); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	err := s.Recover(ctx, id, "too late", "test")
	if !types.IsCode(err, types.CodeRetentionExpired) {
		t.Errorf("error = %v, want retention_expired", err)
	}
}

func TestSelectAndExecuteForget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, c := range []string{"alpha note", "beta note", "gamma note"} {
		res, err := s.Ingest(ctx, storage.IngestEnvelope{Content: c, Project: "demo"})
		if err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
		ids = append(ids, res.ID)
	}
	pinned, err := s.Ingest(ctx, storage.IngestEnvelope{Content: "pinned note", Project: "demo", Pinned: true})
	if err != nil {
		t.Fatalf("ingest pinned failed: %v", err)
	}

	matched, err := s.SelectForget(ctx, storage.ForgetSelector{Project: "demo"})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(matched) != 4 {
		t.Fatalf("matched = %d, want 4", len(matched))
	}

	// Pinned rows are skipped at execute time.
	n, err := s.ExecuteForget(ctx, matched, "bulk cleanup", "test")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if n != 3 {
		t.Errorf("forgot %d, want 3", n)
	}
	m, err := s.GetMemory(ctx, pinned.ID)
	if err != nil || m.IsDeleted {
		t.Errorf("pinned memory should survive batch forget: %v %v", m, err)
	}
	for _, id := range ids {
		m, err := s.GetMemory(ctx, id)
		if err != nil || !m.IsDeleted {
			t.Errorf("memory %s should be tombstoned", id)
		}
	}
}

func TestSelectForgetEmptySelector(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SelectForget(context.Background(), storage.ForgetSelector{})
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("error = %v, want invalid_input", err)
	}
}

func TestMarkAccessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "frequently recalled")

	before, _ := s.GetMemory(ctx, id)
	if err := s.MarkAccessed(ctx, []string{id}); err != nil {
		t.Fatalf("mark accessed failed: %v", err)
	}
	after, err := s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if after.AccessCount != 1 || after.LastAccessedAt == nil {
		t.Errorf("access accounting = {count:%d at:%v}", after.AccessCount, after.LastAccessedAt)
	}
	// No version bump, no history.
	if after.Version != before.Version {
		t.Errorf("access bumped version %d -> %d", before.Version, after.Version)
	}
	hist, _ := s.GetHistory(ctx, id)
	if len(hist) != 1 {
		t.Errorf("access wrote history: %d rows", len(hist))
	}
}

func TestListMemoriesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, storage.IngestEnvelope{Content: "a fact", Type: types.MemoryTypeFact, Project: "p1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Ingest(ctx, storage.IngestEnvelope{Content: "a decision", Type: types.MemoryTypeDecision, Project: "p2", Pinned: true}); err != nil {
		t.Fatal(err)
	}

	facts, err := s.ListMemories(ctx, storage.ListFilter{Type: types.MemoryTypeFact})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "a fact" {
		t.Errorf("type filter returned %d rows", len(facts))
	}

	pinned, err := s.ListMemories(ctx, storage.ListFilter{PinnedOnly: true})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pinned) != 1 || !pinned[0].Pinned {
		t.Errorf("pinned filter returned %d rows", len(pinned))
	}
}

func historyEvents(hist []*types.HistoryEntry) []types.HistoryEvent {
	out := make([]types.HistoryEvent, len(hist))
	for i, h := range hist {
		out[i] = h.Event
	}
	return out
}
