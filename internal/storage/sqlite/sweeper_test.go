package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func TestSweepRetentionHardDeletesExpiredTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := ingestOne(t, s, "about to expire completely")
	if err := s.UpsertEmbedding(ctx, &types.Embedding{
		SourceType: "memory", SourceID: id, Vector: []float32{1, 2, 3},
	}); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if err := s.ApplyExtraction(ctx, id, []storage.ExtractedEntity{
		{Source: "thing", Relationship: "relates_to", Target: "stuff", Confidence: 0.5},
	}, "completed"); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	keeper := ingestOne(t, s, "recent tombstone stays")

	for _, mid := range []string{id, keeper} {
		if err := s.SoftDelete(ctx, mid, "cleanup", "test", false); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
	}
	// Backdate only the first tombstone past retention.
	old := time.Now().UTC().Add(-types.DefaultTombstoneRetention - time.Hour)
	if _, err := s.DB().Exec("UPDATE memories SET deleted_at = ? WHERE id = ?", old, id); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	report, err := s.SweepRetention(ctx, storage.RetentionPolicy{})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Memories != 1 {
		t.Errorf("swept memories = %d, want 1", report.Memories)
	}
	if report.Embeddings != 1 {
		t.Errorf("swept embeddings = %d, want 1", report.Embeddings)
	}
	if report.Mentions != 2 {
		t.Errorf("swept mentions = %d, want 2", report.Mentions)
	}
	// Both entities were only mentioned by the swept memory.
	if report.Entities != 2 {
		t.Errorf("swept entities = %d, want 2", report.Entities)
	}

	if _, err := s.GetMemory(ctx, id); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("expired memory lookup = %v, want not_found", err)
	}
	if _, err := s.GetMemory(ctx, keeper); err != nil {
		t.Errorf("recent tombstone was swept: %v", err)
	}
	if _, err := s.GetEntity(ctx, "thing"); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("orphan entity survived sweep: %v", err)
	}

	// FTS row is gone with the hard delete.
	hits, err := s.SearchFTS(ctx, `"expire"`, 10, storage.RecallFilter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("swept memory still indexed: %+v", hits)
	}
}

func TestSweepRetentionKeepsSharedEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doomed := ingestOne(t, s, "doomed mention of redis")
	survivor := ingestOne(t, s, "surviving mention of redis")
	triple := []storage.ExtractedEntity{
		{Source: "app", Relationship: "uses", Target: "redis", Confidence: 0.9},
	}
	for _, mid := range []string{doomed, survivor} {
		if err := s.ApplyExtraction(ctx, mid, triple, "completed"); err != nil {
			t.Fatalf("extract failed: %v", err)
		}
	}

	if err := s.SoftDelete(ctx, doomed, "cleanup", "test", false); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	old := time.Now().UTC().Add(-types.DefaultTombstoneRetention - time.Hour)
	if _, err := s.DB().Exec("UPDATE memories SET deleted_at = ? WHERE id = ?", old, doomed); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	report, err := s.SweepRetention(ctx, storage.RetentionPolicy{})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Entities != 0 {
		t.Errorf("swept entities = %d, want 0 (still mentioned)", report.Entities)
	}
	if _, err := s.GetEntity(ctx, "redis"); err != nil {
		t.Errorf("shared entity swept: %v", err)
	}
}

func TestSweepRetentionPrunesOldHistoryAndJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "history source")

	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	if _, err := s.DB().Exec("UPDATE memory_history SET created_at = ?", old); err != nil {
		t.Fatalf("backdate history failed: %v", err)
	}

	// Complete one job and backdate it past completed-job retention.
	leased, err := s.LeaseJobs(ctx, "w", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	if err := s.CompleteJob(ctx, leased[0].ID, ""); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, err := s.DB().Exec(
		"UPDATE memory_jobs SET completed_at = ? WHERE id = ?",
		time.Now().UTC().Add(-15*24*time.Hour), leased[0].ID); err != nil {
		t.Fatalf("backdate job failed: %v", err)
	}

	report, err := s.SweepRetention(ctx, storage.RetentionPolicy{})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.HistoryRows != 1 {
		t.Errorf("swept history rows = %d, want 1", report.HistoryRows)
	}
	if report.CompletedJobs != 1 {
		t.Errorf("swept completed jobs = %d, want 1", report.CompletedJobs)
	}
	if _, err := s.GetJob(ctx, leased[0].ID); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("pruned job lookup = %v, want not_found", err)
	}
}

func TestSweepRetentionReclaimsStuckLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "stuck worker victim")

	leased, err := s.LeaseJobs(ctx, "crashed-worker", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	if _, err := s.DB().Exec(
		"UPDATE memory_jobs SET leased_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Hour), leased[0].ID); err != nil {
		t.Fatalf("backdate lease failed: %v", err)
	}

	report, err := s.SweepRetention(ctx, storage.RetentionPolicy{LeaseTimeout: 10 * time.Minute})
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.ReclaimedLeases != 1 {
		t.Errorf("reclaimed = %d, want 1", report.ReclaimedLeases)
	}
	j, err := s.GetJob(ctx, leased[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if j.Status != types.JobPending || j.Error != "lease_expired" {
		t.Errorf("reclaimed job = {status:%s error:%q}", j.Status, j.Error)
	}
}

func TestGetQueueStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "stats fodder")

	leased, err := s.LeaseJobs(ctx, "w", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}

	stats, err := s.GetQueueStats(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.Processing != 1 {
		t.Errorf("stats = %+v, want 1 pending 1 processing", stats)
	}
	if stats.StuckLeases != 0 {
		t.Errorf("fresh lease counted as stuck: %+v", stats)
	}

	if _, err := s.DB().Exec(
		"UPDATE memory_jobs SET leased_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Hour), leased[0].ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	stats, _ = s.GetQueueStats(ctx, 10*time.Minute)
	if stats.StuckLeases != 1 {
		t.Errorf("stuck leases = %d, want 1", stats.StuckLeases)
	}
}

func TestGetStoreStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := ingestOne(t, s, "live memory")
	dead := ingestOne(t, s, "doomed memory")
	if err := s.UpsertEmbedding(ctx, &types.Embedding{
		SourceType: "memory", SourceID: live, Vector: []float32{1},
	}); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if err := s.SoftDelete(ctx, dead, "cleanup", "test", false); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	stats, err := s.GetStoreStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalMemories != 2 || stats.ActiveMemories != 1 || stats.Tombstones != 1 {
		t.Errorf("counts = %+v", stats)
	}
	// Soft delete keeps the FTS row.
	if stats.FTSRows != 2 {
		t.Errorf("fts rows = %d, want 2", stats.FTSRows)
	}
	if stats.WithEmbedding != 1 {
		t.Errorf("with embedding = %d, want 1", stats.WithEmbedding)
	}
	if stats.RecentDeletes != 1 {
		t.Errorf("recent deletes = %d, want 1", stats.RecentDeletes)
	}
}

func TestProjectionCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetProjection(ctx, "missing"); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("miss = %v, want not_found", err)
	}

	p := &storage.Projection{CacheKey: "umap:v1:2026-08-26", Points: `[[0.1,0.2]]`, MemoryCount: 1}
	if err := s.PutProjection(ctx, p); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := s.GetProjection(ctx, p.CacheKey)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Points != p.Points || got.MemoryCount != 1 {
		t.Errorf("projection = %+v", got)
	}

	// Same key overwrites.
	p.Points = `[[0.3,0.4]]`
	p.MemoryCount = 2
	if err := s.PutProjection(ctx, p); err != nil {
		t.Fatalf("re-put failed: %v", err)
	}
	got, _ = s.GetProjection(ctx, p.CacheKey)
	if got.MemoryCount != 2 {
		t.Errorf("overwrite lost: %+v", got)
	}
}
