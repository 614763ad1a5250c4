// Package analytics is the in-process usage collector behind the
// diagnostics and analytics endpoints. Everything lives in one
// mutex-guarded struct; nothing is exported to external telemetry.
package analytics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxErrorRing      = 500
	maxLatencySamples = 1000
	providerRingSize  = 200
)

// Operation kinds for the latency rings.
const (
	OpRemember = "remember"
	OpRecall   = "recall"
	OpMutate   = "mutate"
	OpJobs     = "jobs"
)

// Provider call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// EndpointStats aggregates one "METHOD PATH" key.
type EndpointStats struct {
	Count          int64   `json:"count"`
	Errors         int64   `json:"errors"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
}

// ActorStats aggregates per caller identity.
type ActorStats struct {
	Requests  int64 `json:"requests"`
	Remembers int64 `json:"remembers"`
	Recalls   int64 `json:"recalls"`
	Mutations int64 `json:"mutations"`
}

// ConnectorStats aggregates per external connector.
type ConnectorStats struct {
	Calls    int64      `json:"calls"`
	Failures int64      `json:"failures"`
	LastCall *time.Time `json:"last_call,omitempty"`
}

// ErrorEntry is one ring entry. Stage names the pipeline or API phase that
// failed.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"` // extraction, decision, embedding, mutation, connector
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	MemoryID  string    `json:"memory_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
}

// LatencyStats holds lazily computed percentiles in milliseconds.
type LatencyStats struct {
	Count  int     `json:"count"`
	MeanMS float64 `json:"mean_ms"`
	P50MS  float64 `json:"p50_ms"`
	P95MS  float64 `json:"p95_ms"`
	P99MS  float64 `json:"p99_ms"`
}

// ProviderStats summarizes the outcome ring for one provider.
type ProviderStats struct {
	Success      int     `json:"success"`
	Failure      int     `json:"failure"`
	Timeout      int     `json:"timeout"`
	Availability float64 `json:"availability"`
}

// Snapshot is a deep copy of the collector state.
type Snapshot struct {
	Endpoints  map[string]EndpointStats  `json:"endpoints"`
	Actors     map[string]ActorStats     `json:"actors"`
	Providers  map[string]ProviderStats  `json:"providers"`
	Connectors map[string]ConnectorStats `json:"connectors"`
	Latencies  map[string]LatencyStats   `json:"latencies"`
	Errors     []ErrorEntry              `json:"errors"`
	Since      time.Time                 `json:"since"`
}

// Collector accumulates usage counters for one daemon process.
type Collector struct {
	mu         sync.Mutex
	endpoints  map[string]*EndpointStats
	actors     map[string]*ActorStats
	providers  map[string][]string // outcome ring, newest last
	connectors map[string]*ConnectorStats
	latencies  map[string][]time.Duration
	errors     []ErrorEntry
	since      time.Time
}

func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.endpoints = make(map[string]*EndpointStats)
	c.actors = make(map[string]*ActorStats)
	c.providers = make(map[string][]string)
	c.connectors = make(map[string]*ConnectorStats)
	c.latencies = make(map[string][]time.Duration)
	c.errors = nil
	c.since = time.Now().UTC()
}

// Reset clears every counter and ring.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// OpKind infers the latency-ring operation from a request path, or "".
func OpKind(path string) string {
	switch {
	case strings.Contains(path, "/remember"):
		return OpRemember
	case strings.Contains(path, "/recall"):
		return OpRecall
	case strings.Contains(path, "/forget"),
		strings.Contains(path, "/modify"),
		strings.Contains(path, "/recover"):
		return OpMutate
	case strings.Contains(path, "/jobs"):
		return OpJobs
	}
	return ""
}

// RecordRequest accounts one HTTP request.
func (c *Collector) RecordRequest(method, path, actor string, status int, latency time.Duration) {
	key := method + " " + path
	op := OpKind(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	ep, ok := c.endpoints[key]
	if !ok {
		ep = &EndpointStats{}
		c.endpoints[key] = ep
	}
	ep.Count++
	ep.TotalLatencyMS += float64(latency) / float64(time.Millisecond)
	if status >= 400 {
		ep.Errors++
	}

	if actor != "" {
		as, ok := c.actors[actor]
		if !ok {
			as = &ActorStats{}
			c.actors[actor] = as
		}
		as.Requests++
		switch op {
		case OpRemember:
			as.Remembers++
		case OpRecall:
			as.Recalls++
		case OpMutate:
			as.Mutations++
		}
	}

	if op != "" {
		ring := c.latencies[op]
		if len(ring) >= maxLatencySamples {
			ring = ring[1:]
		}
		c.latencies[op] = append(ring, latency)
	}
}

// RecordProviderCall feeds the 200-sample outcome ring for a provider.
// Implements the pipeline's observer contract.
func (c *Collector) RecordProviderCall(provider, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring := c.providers[provider]
	if len(ring) >= providerRingSize {
		ring = ring[1:]
	}
	c.providers[provider] = append(ring, outcome)
}

// RecordConnector accounts one external connector call.
func (c *Collector) RecordConnector(name string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.connectors[name]
	if !ok {
		cs = &ConnectorStats{}
		c.connectors[name] = cs
	}
	cs.Calls++
	if !success {
		cs.Failures++
	}
	now := time.Now().UTC()
	cs.LastCall = &now
}

// RecordError appends to the bounded error ring.
func (c *Collector) RecordError(e ErrorEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) >= maxErrorRing {
		c.errors = c.errors[1:]
	}
	c.errors = append(c.errors, e)
}

// ErrorsMatching returns ring entries whose memory or request id matches.
// Used by the timeline builder.
func (c *Collector) ErrorsMatching(id string) []ErrorEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ErrorEntry
	for _, e := range c.errors {
		if e.MemoryID == id || (e.RequestID != "" && e.RequestID == id) {
			out = append(out, e)
		}
	}
	return out
}

// ProviderHealth summarizes one provider's recent outcomes. ok is false
// when the ring has no samples yet.
func (c *Collector) ProviderHealth(provider string) (ProviderStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring, ok := c.providers[provider]
	if !ok || len(ring) == 0 {
		return ProviderStats{}, false
	}
	return summarizeRing(ring), true
}

// Snapshot deep-copies the collector state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Endpoints:  make(map[string]EndpointStats, len(c.endpoints)),
		Actors:     make(map[string]ActorStats, len(c.actors)),
		Providers:  make(map[string]ProviderStats, len(c.providers)),
		Connectors: make(map[string]ConnectorStats, len(c.connectors)),
		Latencies:  make(map[string]LatencyStats, len(c.latencies)),
		Errors:     append([]ErrorEntry(nil), c.errors...),
		Since:      c.since,
	}
	for k, v := range c.endpoints {
		snap.Endpoints[k] = *v
	}
	for k, v := range c.actors {
		snap.Actors[k] = *v
	}
	for k, ring := range c.providers {
		snap.Providers[k] = summarizeRing(ring)
	}
	for k, v := range c.connectors {
		cs := *v
		if v.LastCall != nil {
			t := *v.LastCall
			cs.LastCall = &t
		}
		snap.Connectors[k] = cs
	}
	for k, samples := range c.latencies {
		snap.Latencies[k] = calculateLatencyStats(samples)
	}
	return snap
}

func summarizeRing(ring []string) ProviderStats {
	var s ProviderStats
	for _, o := range ring {
		switch o {
		case OutcomeSuccess:
			s.Success++
		case OutcomeTimeout:
			s.Timeout++
		default:
			s.Failure++
		}
	}
	if n := s.Success + s.Failure + s.Timeout; n > 0 {
		s.Availability = float64(s.Success) / float64(n)
	}
	return s
}

// calculateLatencyStats sorts a copy of the samples and reads percentiles
// off it. Percentiles are lazy: nothing is computed until a snapshot asks.
func calculateLatencyStats(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	idx := func(pct int) int {
		i := n * pct / 100
		if i > n-1 {
			i = n - 1
		}
		return i
	}
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	toMS := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	return LatencyStats{
		Count:  n,
		MeanMS: toMS(sum / time.Duration(n)),
		P50MS:  toMS(sorted[idx(50)]),
		P95MS:  toMS(sorted[idx(95)]),
		P99MS:  toMS(sorted[idx(99)]),
	}
}
