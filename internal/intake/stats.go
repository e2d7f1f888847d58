package intake

import (
	"sync"
	"time"
)

// DefaultAverageWindow is the number of samples in the moving average.
const DefaultAverageWindow = 100

// MovingAverage averages the most recent durations.
type MovingAverage struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	sum     time.Duration
}

// NewMovingAverage keeps the last size samples.
func NewMovingAverage(size int) *MovingAverage {
	if size <= 0 {
		size = DefaultAverageWindow
	}
	return &MovingAverage{samples: make([]time.Duration, size)}
}

// Add records one sample, evicting the oldest when full.
func (m *MovingAverage) Add(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sum -= m.samples[m.next]
	m.samples[m.next] = d
	m.sum += d
	m.next++
	if m.next == len(m.samples) {
		m.next = 0
		m.full = true
	}
}

// Average returns the mean of the retained samples, or 0 with none.
func (m *MovingAverage) Average() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.countLocked()
	if n == 0 {
		return 0
	}
	return m.sum / time.Duration(n)
}

// Count returns the number of retained samples.
func (m *MovingAverage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked()
}

func (m *MovingAverage) countLocked() int {
	if m.full {
		return len(m.samples)
	}
	return m.next
}

// Stats is a point-in-time view of the intake for health reporting.
type Stats struct {
	QueueDepth      int           `json:"queue_depth"`
	QueueCapacity   int           `json:"queue_capacity"`
	InFlight        int64         `json:"in_flight"`
	Processed       int64         `json:"processed"`
	Notified        int64         `json:"notified"`
	Ignored         int64         `json:"ignored"`
	Rejected        int64         `json:"rejected"`
	Failed          int64         `json:"failed"`
	Dropped         int64         `json:"dropped"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	RecentFiles     int           `json:"recent_files"`
}

type counters struct {
	mu        sync.Mutex
	processed int64
	byStatus  map[Status]int64
}

func (c *counters) observe(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byStatus == nil {
		c.byStatus = make(map[Status]int64)
	}
	c.processed++
	c.byStatus[s]++
}

func (c *counters) fill(st *Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Processed = c.processed
	st.Notified = c.byStatus[StatusNotified]
	st.Ignored = c.byStatus[StatusIgnored]
	st.Rejected = c.byStatus[StatusRejected]
	st.Failed = c.byStatus[StatusFailed]
}
