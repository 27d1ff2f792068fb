package tick

import (
	"sync"
	"time"
)

// MetricsSnapshot summarises observed tick durations.
type MetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// Monitor accumulates timing statistics for the tick loop.
type Monitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewMonitor constructs an empty monitor ready to collect samples.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Observe records the duration of a completed tick.
func (m *Monitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *Monitor) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	samples := m.samples
	total := m.total
	max := m.max
	last := m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return MetricsSnapshot{Samples: samples, Average: average, Max: max, Last: last}
}
