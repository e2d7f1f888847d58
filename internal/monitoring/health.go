// Package monitoring samples process resources into a CSV log, runs health
// checks and serves the optional status endpoint with its live outcome
// stream.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/conneroisu/docrelay/internal/logging"
)

// HealthStatus is the state of one check or of the whole process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// CheckResult is what a probe reports. Name, Critical, LastChecked and
// Duration are filled in by Check.Run.
type CheckResult struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// Check is a named probe. An unhealthy critical check makes the whole
// process unhealthy; anything else only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) CheckResult
}

// Run executes the probe and stamps the result.
func (c Check) Run(ctx context.Context) CheckResult {
	start := time.Now()
	result := c.Probe(ctx)
	result.Name = c.Name
	result.Critical = c.Critical
	result.Duration = time.Since(start)
	result.LastChecked = time.Now()
	return result
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Critical  int `json:"critical"`
}

// HealthMonitor runs registered checks on demand. Each probe gets its own
// timeout.
type HealthMonitor struct {
	mu      sync.RWMutex
	checks  []Check
	logger  logging.Logger
	timeout time.Duration
	started time.Time
}

func NewHealthMonitor(logger logging.Logger) *HealthMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthMonitor{
		logger:  logger.WithComponent("health_monitor"),
		timeout: 5 * time.Second,
		started: time.Now(),
	}
}

// Register adds c, replacing any check with the same name.
func (hm *HealthMonitor) Register(c Check) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	for i := range hm.checks {
		if hm.checks[i].Name == c.Name {
			hm.checks[i] = c
			return
		}
	}
	hm.checks = append(hm.checks, c)
}

// Check runs every registered probe concurrently and aggregates the results.
func (hm *HealthMonitor) Check(ctx context.Context) HealthResponse {
	hm.mu.RLock()
	checks := append([]Check(nil), hm.checks...)
	hm.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()
			results[i] = c.Run(checkCtx)
		}()
	}
	wg.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.started),
		Checks:    make(map[string]CheckResult, len(results)),
		Summary:   HealthSummary{Total: len(results)},
	}
	for _, r := range results {
		resp.Checks[r.Name] = r
		resp.Summary.add(r)
		if r.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", r.Name, "status", string(r.Status), "message", r.Message)
		}
		switch {
		case r.Critical && r.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case r.Status != HealthStatusHealthy && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func (s *HealthSummary) add(r CheckResult) {
	switch r.Status {
	case HealthStatusHealthy:
		s.Healthy++
	case HealthStatusUnhealthy:
		s.Unhealthy++
	case HealthStatusDegraded:
		s.Degraded++
	}
	if r.Critical {
		s.Critical++
	}
}

// HTTPStatus maps a health status onto a response code.
func HTTPStatus(s HealthStatus) int {
	switch s {
	case HealthStatusHealthy, HealthStatusDegraded:
		return http.StatusOK
	case HealthStatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// DirectoryCheck is unhealthy when path is not a directory. With writable
// set it also creates and removes a probe file.
func DirectoryCheck(name, path string, writable bool) Check {
	return Check{Name: name, Critical: true, Probe: func(context.Context) CheckResult {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return CheckResult{Status: HealthStatusUnhealthy, Message: "directory is missing"}
		}
		if !writable {
			return CheckResult{Status: HealthStatusHealthy, Message: "directory is readable"}
		}

		probeFile := filepath.Join(path, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
		if err := os.WriteFile(probeFile, nil, 0o600); err != nil {
			return CheckResult{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("cannot write: %v", err)}
		}
		if err := os.Remove(probeFile); err != nil {
			return CheckResult{Status: HealthStatusDegraded, Message: fmt.Sprintf("cannot remove probe: %v", err)}
		}
		return CheckResult{Status: HealthStatusHealthy, Message: "directory is writable"}
	}}
}

// MemoryCheck degrades when memory obtained from the OS exceeds thresholdMB.
func MemoryCheck(thresholdMB float64) Check {
	return Check{Name: "memory", Probe: func(context.Context) CheckResult {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		sysMB := float64(mem.Sys) / (1 << 20)
		result := CheckResult{
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%.1f MB in use", sysMB),
			Metadata: map[string]interface{}{"heap_alloc": mem.HeapAlloc, "sys": mem.Sys, "gc_runs": mem.NumGC},
		}
		if sysMB > thresholdMB {
			result.Status = HealthStatusDegraded
			result.Message = fmt.Sprintf("%.1f MB in use, above %.0f MB", sysMB, thresholdMB)
		}
		return result
	}}
}

const maxGoroutines = 1000

// GoroutineCheck degrades above a fixed goroutine count, which points at a
// leaked pipeline.
func GoroutineCheck() Check {
	return Check{Name: "goroutines", Probe: func(context.Context) CheckResult {
		n := runtime.NumGoroutine()
		result := CheckResult{Status: HealthStatusHealthy, Metadata: map[string]interface{}{"count": n}}
		if n > maxGoroutines {
			result.Status = HealthStatusDegraded
			result.Message = fmt.Sprintf("%d goroutines", n)
		}
		return result
	}}
}

// IntakeCheck is unhealthy when the consumer loop is dead and degraded when
// the queue is above watermark.
func IntakeCheck(alive func() bool, source StatsSource, watermark int) Check {
	return Check{Name: "intake", Critical: true, Probe: func(context.Context) CheckResult {
		if !alive() {
			return CheckResult{Status: HealthStatusUnhealthy, Message: "intake is not consuming events"}
		}
		st := source.Stats()
		result := CheckResult{
			Status:   HealthStatusHealthy,
			Message:  "intake is consuming events",
			Metadata: map[string]interface{}{"queue_depth": st.QueueDepth, "in_flight": st.InFlight},
		}
		if watermark > 0 && st.QueueDepth > watermark {
			result.Status = HealthStatusDegraded
			result.Message = fmt.Sprintf("queue depth %d is above %d", st.QueueDepth, watermark)
		}
		return result
	}}
}
