package monitoring

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/logging"
	"github.com/conneroisu/docrelay/internal/notify"
)

// StatsSource exposes intake counters.
type StatsSource interface {
	Stats() intake.Stats
}

// ResourceHeader is the first row of every resource log.
var ResourceHeader = []string{
	"Timestamp", "Heap MB", "Sys MB", "Goroutines", "Queue Depth", "In Flight", "Avg Processing (ms)",
}

// ResourceConfig configures a ResourceMonitor. An empty Path keeps samples
// in the log only.
type ResourceConfig struct {
	Path              string
	MaxBytes          int64
	MemoryThresholdMB float64
	AlertCooldown     time.Duration
}

// ResourceSample is one row of the resource log.
type ResourceSample struct {
	At            time.Time
	HeapMB        float64
	SysMB         float64
	Goroutines    int
	QueueDepth    int
	InFlight      int64
	AvgProcessing time.Duration
}

func (s ResourceSample) record() []string {
	return []string{
		s.At.Format("2006-01-02 15:04:05"),
		strconv.FormatFloat(s.HeapMB, 'f', 2, 64),
		strconv.FormatFloat(s.SysMB, 'f', 2, 64),
		strconv.Itoa(s.Goroutines),
		strconv.Itoa(s.QueueDepth),
		strconv.FormatInt(s.InFlight, 10),
		strconv.FormatInt(s.AvgProcessing.Milliseconds(), 10),
	}
}

// ResourceMonitor appends process samples to a CSV file and alerts on high
// memory use.
type ResourceMonitor struct {
	cfg    ResourceConfig
	source StatsSource
	alerts notify.Alerter
	logger logging.Logger

	now     func() time.Time
	readMem func() (heap, sys uint64)

	mu        sync.Mutex
	lastAlert time.Time
	// day of the last row written, as 2006-01-02
	day string
}

// NewResourceMonitor creates a monitor. source and alerts may be nil.
func NewResourceMonitor(cfg ResourceConfig, source StatsSource, alerts notify.Alerter, logger logging.Logger) *ResourceMonitor {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if cfg.MemoryThresholdMB <= 0 {
		cfg.MemoryThresholdMB = 500
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ResourceMonitor{
		cfg:     cfg,
		source:  source,
		alerts:  alerts,
		logger:  logger.WithComponent("resource_monitor"),
		now:     time.Now,
		readMem: readMemStats,
	}
}

func readMemStats() (uint64, uint64) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.HeapAlloc, mem.Sys
}

// Sample collects one sample, checks the memory threshold and appends the
// row to the CSV file.
func (m *ResourceMonitor) Sample(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.collect()
	m.logger.Info(ctx, "Resource usage",
		"heap", humanize.IBytes(uint64(s.HeapMB*(1<<20))),
		"goroutines", s.Goroutines,
		"queue_depth", s.QueueDepth)

	m.checkThreshold(ctx, s)

	if m.cfg.Path == "" {
		return nil
	}
	return m.append(s)
}

func (m *ResourceMonitor) collect() ResourceSample {
	heap, sys := m.readMem()
	s := ResourceSample{
		At:         m.now(),
		HeapMB:     float64(heap) / (1 << 20),
		SysMB:      float64(sys) / (1 << 20),
		Goroutines: runtime.NumGoroutine(),
	}
	if m.source != nil {
		st := m.source.Stats()
		s.QueueDepth = st.QueueDepth
		s.InFlight = st.InFlight
		s.AvgProcessing = st.AverageDuration
	}
	return s
}

func (m *ResourceMonitor) checkThreshold(ctx context.Context, s ResourceSample) {
	if s.SysMB <= m.cfg.MemoryThresholdMB {
		return
	}
	if !m.lastAlert.IsZero() && s.At.Sub(m.lastAlert) < m.cfg.AlertCooldown {
		return
	}
	m.lastAlert = s.At

	msg := fmt.Sprintf("High resource usage detected: Memory %.2f MB (threshold %.0f MB), %d goroutines",
		s.SysMB, m.cfg.MemoryThresholdMB, s.Goroutines)
	m.logger.Warn(ctx, nil, msg)
	if m.alerts != nil {
		m.alerts.Raise(notify.Alert{
			Name:      notify.AlertResourceUsage,
			Level:     notify.AlertLevelWarning,
			Component: "resource_monitor",
			Subject:   "Docrelay Resource Alert",
			Message:   msg,
		})
	}
}

func (m *ResourceMonitor) append(s ResourceSample) error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.Path), 0o700); err != nil {
		return fmt.Errorf("creating resource log directory: %w", err)
	}
	if err := m.rotateIfNeeded(s.At); err != nil {
		m.logger.Warn(context.Background(), err, "Resource log rotation failed")
	}

	f, err := os.OpenFile(m.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening resource log: %w", err)
	}
	defer f.Close()
	m.day = s.At.Format(dayLayout)

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(ResourceHeader); err != nil {
			return err
		}
	}
	if err := w.Write(s.record()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

const dayLayout = "2006-01-02"

// rotateIfNeeded moves the log aside when it is too large or was last
// written on another day. The day comes from the monitor's own clock; a
// file left by a previous run is dated by its modification time.
func (m *ResourceMonitor) rotateIfNeeded(now time.Time) error {
	info, err := os.Stat(m.cfg.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if m.day == "" {
		m.day = info.ModTime().Format(dayLayout)
	}
	if info.Size() < m.cfg.MaxBytes && m.day == now.Format(dayLayout) {
		return nil
	}

	backup := fmt.Sprintf("%s.%s.bak", m.cfg.Path, now.Format("20060102_150405"))
	if err := os.Rename(m.cfg.Path, backup); err != nil {
		return err
	}
	m.logger.Info(context.Background(), "Rotated resource log",
		"size", humanize.IBytes(uint64(info.Size())),
		"backup", filepath.Base(backup))
	return nil
}
