package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/types"
)

func TestSessionMemoryAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []*types.SessionMemory{
		{SessionKey: "sess-1", MemoryID: "m1", Source: "effective", EffectiveScore: 0.9, FinalScore: 0.9, Rank: 1, WasInjected: true},
		{SessionKey: "sess-1", MemoryID: "m2", Source: "fts_only", FinalScore: 0.4, Rank: 2, WasInjected: true, FTSHitCount: 3},
		{SessionKey: "sess-1", MemoryID: "m3", Source: "effective", FinalScore: 0.1, Rank: 3, WasInjected: false},
	}
	if err := s.RecordSessionMemories(ctx, rows); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	injected, err := s.InjectedSessionMemories(ctx, "sess-1")
	if err != nil {
		t.Fatalf("injected failed: %v", err)
	}
	if len(injected) != 2 {
		t.Fatalf("injected = %d rows, want 2", len(injected))
	}
	if injected[0].MemoryID != "m1" || injected[1].MemoryID != "m2" {
		t.Errorf("rank order broken: %s, %s", injected[0].MemoryID, injected[1].MemoryID)
	}
	if injected[1].FTSHitCount != 3 {
		t.Errorf("fts hit count = %d, want 3", injected[1].FTSHitCount)
	}

	// Re-record upserts scores without duplicating rows.
	rows[0].FinalScore = 0.95
	if err := s.RecordSessionMemories(ctx, rows[:1]); err != nil {
		t.Fatalf("re-record failed: %v", err)
	}
	injected, _ = s.InjectedSessionMemories(ctx, "sess-1")
	if len(injected) != 2 || injected[0].FinalScore != 0.95 {
		t.Errorf("upsert result = %+v", injected)
	}

	if err := s.UpdateSessionMemoryRelevance(ctx, "sess-1", "m1", 0.8); err != nil {
		t.Fatalf("relevance update failed: %v", err)
	}
	injected, _ = s.InjectedSessionMemories(ctx, "sess-1")
	if injected[0].RelevanceScore == nil || *injected[0].RelevanceScore != 0.8 {
		t.Errorf("relevance = %v, want 0.8", injected[0].RelevanceScore)
	}
}

func TestWriteCheckpointEnforcesCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		cp := &types.Checkpoint{
			SessionKey:        "sess-1",
			Project:           "/home/dev/demo",
			ProjectNormalized: "home-dev-demo",
			Digest:            fmt.Sprintf("digest %d", i),
			PromptCount:       i,
			CreatedAt:         time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := s.WriteCheckpoint(ctx, cp, 5); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	cps, err := s.ListCheckpoints(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(cps) != 5 {
		t.Fatalf("checkpoints = %d, want 5 (cap)", len(cps))
	}
	// Newest first; the two oldest were dropped.
	if cps[0].Digest != "digest 6" || cps[4].Digest != "digest 2" {
		t.Errorf("cap kept wrong rows: newest=%q oldest=%q", cps[0].Digest, cps[4].Digest)
	}
}

func TestLatestCheckpointWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := &types.Checkpoint{
		SessionKey:        "old-sess",
		ProjectNormalized: "proj",
		Digest:            "stale digest",
		CreatedAt:         time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := s.WriteCheckpoint(ctx, stale, 50); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Outside the window nothing resolves.
	if _, err := s.LatestCheckpoint(ctx, "proj", 24*time.Hour); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("stale lookup = %v, want not_found", err)
	}

	fresh := &types.Checkpoint{
		SessionKey:        "new-sess",
		ProjectNormalized: "proj",
		Trigger:           types.TriggerPreCompaction,
		Digest:            "fresh digest",
		MemoryQueries:     []string{"auth flow", "retry budget"},
		RecentRemembers:   []string{"mem-1"},
	}
	if err := s.WriteCheckpoint(ctx, fresh, 50); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := s.LatestCheckpoint(ctx, "proj", 24*time.Hour)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if got.Digest != "fresh digest" || got.Trigger != types.TriggerPreCompaction {
		t.Errorf("latest = %+v", got)
	}
	if len(got.MemoryQueries) != 2 || len(got.RecentRemembers) != 1 {
		t.Errorf("list columns lost: queries=%v remembers=%v", got.MemoryQueries, got.RecentRemembers)
	}
}

func TestWriteCheckpointValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WriteCheckpoint(ctx, &types.Checkpoint{Digest: "no session"}, 50)
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("missing session error = %v, want invalid_input", err)
	}
	err = s.WriteCheckpoint(ctx, &types.Checkpoint{SessionKey: "s", Trigger: "hourly"}, 50)
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("bad trigger error = %v, want invalid_input", err)
	}
}

func TestWriteSessionScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conf := 0.75
	score := &types.SessionScore{
		SessionKey:          "sess-1",
		Project:             "demo",
		Score:               0.6,
		MemoriesRecalled:    5,
		MemoriesUsed:        3,
		NovelContextCount:   1,
		Reasoning:           "3 of 5 injected memories shaped the work",
		Confidence:          &conf,
		ContinuityReasoning: "session resumed the auth refactor",
	}
	if err := s.WriteSessionScore(ctx, score); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if score.ID == "" {
		t.Error("score id not assigned")
	}

	var got float64
	err := s.DB().QueryRow(
		"SELECT score FROM session_scores WHERE session_key = ?", "sess-1").Scan(&got)
	if err != nil || got != 0.6 {
		t.Errorf("persisted score = %g, %v", got, err)
	}
}
