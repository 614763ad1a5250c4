package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func TestEnqueueJobCollapsesDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := ingestOne(t, s, "dedup my jobs")

	// Ingest already queued an extract job for this memory; a second
	// enqueue must return the live job instead of stacking a new one.
	jobID, err := s.EnqueueJob(ctx, types.JobExtract, id, "")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	jobs, err := s.ListJobs(ctx, storage.JobFilter{MemoryID: id, JobType: types.JobExtract})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("extract jobs = %d, want 1", len(jobs))
	}
	if jobs[0].ID != jobID {
		t.Errorf("returned id %s, live job is %s", jobID, jobs[0].ID)
	}
}

func TestLeaseJobsClaimsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := ingestOne(t, s, "first memory")
	time.Sleep(5 * time.Millisecond) // distinct created_at ordering
	second := ingestOne(t, s, "second memory")

	leased, err := s.LeaseJobs(ctx, "worker-1", 2)
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("leased %d jobs, want 2", len(leased))
	}
	for _, j := range leased {
		if j.MemoryID != first {
			t.Errorf("job %s belongs to %s, want oldest memory %s", j.JobType, j.MemoryID, first)
		}
		if j.Status != types.JobProcessing || j.Attempts != 1 || j.LeasedBy != "worker-1" {
			t.Errorf("leased job = %+v", j)
		}
	}

	// The second worker gets the remaining memory's jobs, never the
	// already-leased ones.
	more, err := s.LeaseJobs(ctx, "worker-2", 10)
	if err != nil {
		t.Fatalf("second lease failed: %v", err)
	}
	for _, j := range more {
		if j.MemoryID != second {
			t.Errorf("second lease returned job for %s", j.MemoryID)
		}
	}
}

func TestCompleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "complete me")

	leased, err := s.LeaseJobs(ctx, "w", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	if err := s.CompleteJob(ctx, leased[0].ID, `{"entities":2}`); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	j, err := s.GetJob(ctx, leased[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if j.Status != types.JobCompleted || j.CompletedAt == nil || j.Result == "" {
		t.Errorf("completed job = %+v", j)
	}

	// Completing a non-processing job is not_found.
	if err := s.CompleteJob(ctx, leased[0].ID, ""); !types.IsCode(err, types.CodeNotFound) {
		t.Errorf("double complete error = %v, want not_found", err)
	}
}

func TestFailJobRetriesThenDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "doomed job")

	var jobID string
	for attempt := 1; attempt <= types.DefaultMaxAttempts; attempt++ {
		leased, err := s.LeaseJobs(ctx, "w", 1)
		if err != nil {
			t.Fatalf("lease %d failed: %v", attempt, err)
		}
		if len(leased) == 0 {
			t.Fatalf("no job leasable on attempt %d", attempt)
		}
		jobID = leased[0].ID
		if leased[0].Attempts != attempt {
			t.Errorf("attempt counter = %d, want %d", leased[0].Attempts, attempt)
		}
		// Immediate retry eligibility so the next lease sees it.
		if err := s.FailJob(ctx, jobID, "provider_error: boom", now().Add(-time.Second)); err != nil {
			t.Fatalf("fail %d failed: %v", attempt, err)
		}
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if j.Status != types.JobDead {
		t.Errorf("status after %d failures = %s, want dead", types.DefaultMaxAttempts, j.Status)
	}

	// Dead letters never come back through lease.
	leased, err := s.LeaseJobs(ctx, "w", 10)
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	for _, l := range leased {
		if l.ID == jobID {
			t.Error("dead job was leased")
		}
	}

	// Manual retry reopens it with a fresh budget.
	if err := s.RetryJob(ctx, jobID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	j, _ = s.GetJob(ctx, jobID)
	if j.Status != types.JobPending || j.Attempts != 0 {
		t.Errorf("retried job = %+v", j)
	}
}

func TestFailJobHonorsBackoffDeadline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "backing off")

	leased, err := s.LeaseJobs(ctx, "w", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	if err := s.FailJob(ctx, leased[0].ID, "timeout", now().Add(time.Hour)); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	// Deadline is an hour out; nothing for this memory should lease.
	again, err := s.LeaseJobs(ctx, "w", 10)
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	for _, j := range again {
		if j.ID == leased[0].ID {
			t.Error("job leased before its backoff deadline")
		}
	}
}

func TestResetProcessingJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ingestOne(t, s, "interrupted work")

	leased, err := s.LeaseJobs(ctx, "w", 2)
	if err != nil || len(leased) != 2 {
		t.Fatalf("lease = %v, %v", leased, err)
	}

	n, err := s.ResetProcessingJobs(ctx)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d jobs, want 2", n)
	}
	for _, l := range leased {
		j, err := s.GetJob(ctx, l.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if j.Status != types.JobFailed || j.Error != "daemon_restart" {
			t.Errorf("reset job = {status:%s error:%q}", j.Status, j.Error)
		}
	}

	// Failed rows stay leasable, so the next run picks the work back up.
	released, err := s.LeaseJobs(ctx, "w2", 2)
	if err != nil || len(released) != 2 {
		t.Fatalf("re-lease = %v, %v", released, err)
	}
	for _, j := range released {
		if j.Status != types.JobProcessing || j.Attempts != 2 {
			t.Errorf("re-leased job = {status:%s attempts:%d}", j.Status, j.Attempts)
		}
	}
}

func TestSummaryJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.EnqueueSummary(ctx, &types.SummaryJob{
		SessionKey: "sess-1",
		Project:    "demo",
		Transcript: "user: fix the bug\nassistant: done",
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	j, err := s.LeaseSummaryJob(ctx)
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	if j == nil || j.ID != id || j.Status != types.JobProcessing {
		t.Fatalf("leased = %+v", j)
	}

	// Queue drained.
	empty, err := s.LeaseSummaryJob(ctx)
	if err != nil || empty != nil {
		t.Fatalf("second lease = %+v, %v, want nil", empty, err)
	}

	if err := s.CompleteSummaryJob(ctx, id, ".signet/notes/2026-08-26-fix.md", 3); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
}

func TestSummaryJobRejectsEmptyTranscript(t *testing.T) {
	s := newTestStore(t)
	_, err := s.EnqueueSummary(context.Background(), &types.SummaryJob{SessionKey: "s"})
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Errorf("error = %v, want invalid_input", err)
	}
}
