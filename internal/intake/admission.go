package intake

import (
	"sync"
	"time"
)

// RecentFiles remembers when each original filename was last notified.
// Keys are filenames, not content: two different files sharing a name
// inside the horizon are treated as duplicates.
type RecentFiles struct {
	mu      sync.Mutex
	horizon time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewRecentFiles creates a cache whose entries expire after horizon.
func NewRecentFiles(horizon time.Duration) *RecentFiles {
	return &RecentFiles{
		horizon: horizon,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether name was recorded within the horizon.
func (r *RecentFiles) Seen(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.entries[name]
	return ok && r.now().Sub(at) < r.horizon
}

// Record marks name as notified now.
func (r *RecentFiles) Record(name string) {
	r.mu.Lock()
	r.entries[name] = r.now()
	r.mu.Unlock()
}

// Evict drops expired entries and returns how many were removed.
func (r *RecentFiles) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for name, at := range r.entries {
		if now.Sub(at) >= r.horizon {
			delete(r.entries, name)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered filenames.
func (r *RecentFiles) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RateWindow caps notifications per fixed interval.
type RateWindow struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	count    int
	start    time.Time
	now      func() time.Time
}

// NewRateWindow allows limit notifications per interval.
func NewRateWindow(limit int, interval time.Duration) *RateWindow {
	return &RateWindow{
		limit:    limit,
		interval: interval,
		start:    time.Now(),
		now:      time.Now,
	}
}

// Allow reports whether another notification fits in the current window.
// It does not consume capacity; Record does.
func (w *RateWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked()
	return w.limit <= 0 || w.count < w.limit
}

// Record counts one sent notification.
func (w *RateWindow) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked()
	w.count++
}

// Count returns notifications counted in the current window.
func (w *RateWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked()
	return w.count
}

func (w *RateWindow) rollLocked() {
	if now := w.now(); now.Sub(w.start) >= w.interval {
		w.count = 0
		w.start = now
	}
}
