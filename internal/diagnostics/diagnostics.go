// Package diagnostics scores the daemon's health across five domains and
// folds them into one report for the doctor command and the diagnostics
// endpoint.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/storage"
)

// Status buckets a score. Thresholds: >=0.8 healthy, >=0.5 degraded.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func statusFor(score float64) Status {
	switch {
	case score >= 0.8:
		return StatusHealthy
	case score >= 0.5:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

func (s Status) worse(o Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[o] > rank[s] {
		return o
	}
	return s
}

// Check is one scored domain.
type Check struct {
	Name   string  `json:"name"`
	Status Status  `json:"status"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// Report is the composite health view.
type Report struct {
	Overall     Status    `json:"overall"`
	Score       float64   `json:"score"`
	Checks      []Check   `json:"checks"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Engine runs the checks against one store and collector.
type Engine struct {
	store        storage.Storage
	collector    *analytics.Collector
	leaseTimeout time.Duration
}

func New(store storage.Storage, collector *analytics.Collector, leaseTimeout time.Duration) *Engine {
	if leaseTimeout <= 0 {
		leaseTimeout = 5 * time.Minute
	}
	return &Engine{store: store, collector: collector, leaseTimeout: leaseTimeout}
}

// Run executes all five domain checks.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	qs, err := e.store.GetQueueStats(ctx, e.leaseTimeout)
	if err != nil {
		return nil, err
	}
	ss, err := e.store.GetStoreStats(ctx)
	if err != nil {
		return nil, err
	}

	checks := []Check{
		queueCheck(qs),
		storageCheck(ss),
		indexCheck(ss),
		e.providerCheck(),
		mutationCheck(ss),
	}

	report := &Report{
		Overall:     StatusHealthy,
		Checks:      checks,
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range checks {
		report.Score += c.Score
		report.Overall = report.Overall.worse(c.Status)
	}
	report.Score /= float64(len(checks))
	return report, nil
}

// queueCheck penalizes backlog depth, dead-letter rate, and stuck leases.
func queueCheck(qs *storage.QueueStats) Check {
	score := 1.0
	detail := fmt.Sprintf("%d pending, %d dead", qs.Pending, qs.Dead)

	switch {
	case qs.Pending > 1000:
		score -= 0.6
	case qs.Pending > 100:
		score -= 0.3
	}

	if done := qs.Completed + qs.Dead; done > 0 {
		deadRate := float64(qs.Dead) / float64(done)
		detail = fmt.Sprintf("%s, dead rate %.1f%%", detail, deadRate*100)
		switch {
		case deadRate > 0.2:
			score -= 0.6
		case deadRate > 0.05:
			score -= 0.3
		}
	}

	if qs.StuckLeases > 0 {
		score -= 0.3
		detail = fmt.Sprintf("%s, %d stuck leases", detail, qs.StuckLeases)
	}

	return newCheck("queue", score, detail)
}

// storageCheck penalizes tombstone buildup and runaway file size.
func storageCheck(ss *storage.StoreStats) Check {
	score := 1.0
	detail := fmt.Sprintf("%d active, %d tombstones", ss.ActiveMemories, ss.Tombstones)

	if ss.TotalMemories > 0 {
		ratio := float64(ss.Tombstones) / float64(ss.TotalMemories)
		switch {
		case ratio > 0.7:
			score -= 0.6
		case ratio > 0.4:
			score -= 0.3
		}
	}

	const sizeCeiling = 1 << 30 // 1 GiB
	if ss.DBSizeBytes > sizeCeiling {
		score -= 0.3
		detail = fmt.Sprintf("%s, db %d MiB", detail, ss.DBSizeBytes>>20)
	}

	return newCheck("storage", score, detail)
}

// indexCheck compares the FTS row count against active memories and looks
// at embedding coverage. Tombstones legitimately stay indexed, so the
// mismatch threshold has headroom.
func indexCheck(ss *storage.StoreStats) Check {
	score := 1.0
	detail := fmt.Sprintf("%d fts rows over %d active", ss.FTSRows, ss.ActiveMemories)

	if ss.ActiveMemories > 0 {
		total := ss.ActiveMemories + ss.Tombstones
		if total > 0 && float64(ss.FTSRows) > 1.1*float64(total) {
			score -= 0.6
			detail += ", index/table mismatch"
		}
		coverage := float64(ss.WithEmbedding) / float64(ss.ActiveMemories)
		detail = fmt.Sprintf("%s, %.0f%% embedded", detail, coverage*100)
		if coverage < 0.5 {
			score -= 0.3
		}
	}

	return newCheck("index", score, detail)
}

// providerCheck reads the outcome rings. No samples is healthy: an idle
// daemon has made no calls to fail.
func (e *Engine) providerCheck() Check {
	score := 1.0
	detail := "no recent provider calls"

	if e.collector != nil {
		worst := 1.0
		seen := false
		for _, provider := range []string{"generate", "embed"} {
			stats, ok := e.collector.ProviderHealth(provider)
			if !ok {
				continue
			}
			seen = true
			if stats.Availability < worst {
				worst = stats.Availability
				detail = fmt.Sprintf("%s availability %.0f%%", provider, stats.Availability*100)
			}
		}
		if seen {
			score = worst
			if worst == 1.0 {
				detail = "all providers healthy"
			}
		}
	}

	return newCheck("provider", score, detail)
}

// mutationCheck flags churn: a high recovery-to-delete ratio over the last
// week means deletions keep getting undone.
func mutationCheck(ss *storage.StoreStats) Check {
	score := 1.0
	detail := fmt.Sprintf("%d deletes, %d recoveries in 7d", ss.RecentDeletes, ss.RecentRecoveries)

	if ss.RecentDeletes > 0 {
		ratio := float64(ss.RecentRecoveries) / float64(ss.RecentDeletes)
		switch {
		case ratio > 0.5:
			score -= 0.6
		case ratio > 0.25:
			score -= 0.3
		}
	}

	return newCheck("mutation", score, detail)
}

func newCheck(name string, score float64, detail string) Check {
	if score < 0 {
		score = 0
	}
	return Check{Name: name, Status: statusFor(score), Score: score, Detail: detail}
}
