// Package monitor keeps in-process service metrics exposed on the API.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyHistogram keeps the most recent samples in a ring buffer.
// Stats are recomputed lazily when samples changed.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	dirty   bool
	cached  LatencyStats
}

// NewLatencyHistogram creates a histogram holding up to size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, size), dirty: true}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = latencyMs
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return h.cached
	}

	n := h.next
	if h.full {
		n = len(h.samples)
	}
	if n == 0 {
		h.cached, h.dirty = LatencyStats{}, false
		return h.cached
	}
	sorted := make([]float64, n)
	copy(sorted, h.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		P99:   sorted[int(float64(n-1)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cached
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Metrics aggregates request counters, latency and named gauges read from
// other components at snapshot time.
type Metrics struct {
	APILatency *LatencyHistogram

	requests  atomic.Uint64
	apiErrors atomic.Uint64
	started   time.Time

	mu     sync.RWMutex
	gauges map[string]func() float64
}

// New creates an empty metrics set.
func New() *Metrics {
	return &Metrics{
		APILatency: NewLatencyHistogram(1000),
		started:    time.Now(),
		gauges:     make(map[string]func() float64),
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.Add(1)
	if status >= 500 {
		m.apiErrors.Add(1)
	}
	m.APILatency.RecordDuration(latency)
}

// RegisterGauge exposes fn under name. Registering a name again replaces it.
func (m *Metrics) RegisterGauge(name string, fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = fn
}

// Snapshot is a point-in-time view of Metrics.
type Snapshot struct {
	APILatency     LatencyStats       `json:"api_latency"`
	Requests       uint64             `json:"requests"`
	APIErrors      uint64             `json:"api_errors"`
	Gauges         map[string]float64 `json:"gauges"`
	GoroutineCount int                `json:"goroutine_count"`
	HeapAlloc      uint64             `json:"heap_alloc_bytes"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Snapshot reads every counter and gauge.
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	gauges := make(map[string]float64, len(m.gauges))
	for name, fn := range m.gauges {
		gauges[name] = fn()
	}
	m.mu.RUnlock()

	now := time.Now()
	return Snapshot{
		APILatency:     m.APILatency.Stats(),
		Requests:       m.requests.Load(),
		APIErrors:      m.apiErrors.Load(),
		Gauges:         gauges,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		UptimeSeconds:  now.Sub(m.started).Seconds(),
		Timestamp:      now,
	}
}
