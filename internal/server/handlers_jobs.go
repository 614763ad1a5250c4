package server

import (
	"net/http"
	"strconv"

	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.JobFilter{
		MemoryID: q.Get("memoryId"),
	}
	if status := q.Get("status"); status != "" {
		js := types.JobStatus(status)
		if !js.IsValid() {
			s.fail(w, r, types.NewInvalidInput("invalid job status %q", status), "mutation", "")
			return
		}
		f.Status = js
	}
	if jobType := q.Get("type"); jobType != "" {
		jt := types.JobType(jobType)
		if !jt.IsValid() {
			s.fail(w, r, types.NewInvalidInput("invalid job type %q", jobType), "mutation", "")
			return
		}
		f.JobType = jt
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.fail(w, r, types.NewInvalidInput("invalid limit %q", limit), "mutation", "")
			return
		}
		f.Limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), f)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleRetryJob requeues a failed or dead job. Dead jobs never come back on
// their own; this is the explicit resurrection path.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.allow(opAdmin, actorFrom(r)); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if err := s.store.RetryJob(r.Context(), id); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "id": id})
}
