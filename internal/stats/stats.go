package stats

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Stats aggregates probe outcomes over a whole run. Counters are safe to read
// while the run is still recording.
type Stats struct {
	Attempts uint64
	OK       uint64
	Failed   uint64
	Verdicts uint64
	Bytes    uint64

	// Latency of every probe, successful or not (microseconds)
	Latency *SafeHistogram

	mu       sync.Mutex
	statuses map[int]int
	errors   map[string]int
}

func NewStats() *Stats {
	return &Stats{
		Latency:  NewSafeHistogram(),
		statuses: make(map[int]int),
		errors:   make(map[string]int),
	}
}

// Add records one probe. status 0 means no response was received.
func (s *Stats) Add(ok bool, status int, bytes int64, latency time.Duration, errCause string, verdict bool) {
	atomic.AddUint64(&s.Attempts, 1)
	if ok {
		atomic.AddUint64(&s.OK, 1)
	} else {
		atomic.AddUint64(&s.Failed, 1)
	}
	if verdict {
		atomic.AddUint64(&s.Verdicts, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(bytes))
	}
	s.Latency.Record(latency)

	s.mu.Lock()
	defer s.mu.Unlock()
	if status > 0 {
		s.statuses[status]++
	}
	if errCause != "" {
		s.errors[errCause]++
	}
}

func (s *Stats) ErrorRate() float64 {
	reqs := atomic.LoadUint64(&s.Attempts)
	if reqs == 0 {
		return 0
	}
	fails := atomic.LoadUint64(&s.Failed)
	return (float64(fails) / float64(reqs)) * 100
}

// StatusCounts returns a copy of the per-status-code counters.
func (s *Stats) StatusCounts() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.statuses)
}

// ErrorCounts returns a copy of the per-cause failure counters.
func (s *Stats) ErrorCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.errors)
}

// Snapshot is a point-in-time copy of Stats suitable for serialization.
type Snapshot struct {
	Attempts     uint64         `json:"attempts"`
	OK           uint64         `json:"ok"`
	Failed       uint64         `json:"failed"`
	Verdicts     uint64         `json:"verdicts"`
	Bytes        uint64         `json:"bytes"`
	ErrorRate    float64        `json:"errorRate"`
	MeanMs       float64        `json:"meanMs"`
	P50Ms        float64        `json:"p50Ms"`
	P90Ms        float64        `json:"p90Ms"`
	P99Ms        float64        `json:"p99Ms"`
	MaxMs        float64        `json:"maxMs"`
	StatusCounts map[int]int    `json:"statusCounts,omitempty"`
	ErrorCounts  map[string]int `json:"errorCounts,omitempty"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Attempts:     atomic.LoadUint64(&s.Attempts),
		OK:           atomic.LoadUint64(&s.OK),
		Failed:       atomic.LoadUint64(&s.Failed),
		Verdicts:     atomic.LoadUint64(&s.Verdicts),
		Bytes:        atomic.LoadUint64(&s.Bytes),
		ErrorRate:    s.ErrorRate(),
		MeanMs:       s.Latency.MeanMs(),
		P50Ms:        s.Latency.QuantileMs(50),
		P90Ms:        s.Latency.QuantileMs(90),
		P99Ms:        s.Latency.QuantileMs(99),
		MaxMs:        s.Latency.MaxMs(),
		StatusCounts: s.StatusCounts(),
		ErrorCounts:  s.ErrorCounts(),
	}
}
