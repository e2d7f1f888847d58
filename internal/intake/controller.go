package intake

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/docrelay/internal/classify"
	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/logging"
	"github.com/conneroisu/docrelay/internal/notify"
	"github.com/conneroisu/docrelay/internal/staging"
	"github.com/conneroisu/docrelay/internal/watcher"
)

// Config sizes the intake. Zero fields take the defaults below.
type Config struct {
	WatchDir          string
	RenameFormat      string
	QueueCapacity     int
	HighWatermark     int
	Workers           int
	DedupHorizon      time.Duration
	RateLimit         int
	RateInterval      time.Duration
	MaxAttachment     int64
	LargeFileNote     string
	DiskFreeThreshold uint64
	PollInterval      time.Duration
}

// Defaults.
const (
	DefaultQueueCapacity     = 100
	DefaultHighWatermark     = 50
	DefaultWorkers           = 4
	DefaultDedupHorizon      = time.Hour
	DefaultRateLimit         = 60
	DefaultRateInterval      = time.Minute
	DefaultDiskFreeThreshold = uint64(1 << 30)
	DefaultRenameFormat      = "{base}_{timestamp}.pdf"
)

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = DefaultHighWatermark
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.DedupHorizon <= 0 {
		c.DedupHorizon = DefaultDedupHorizon
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateInterval <= 0 {
		c.RateInterval = DefaultRateInterval
	}
	if c.MaxAttachment <= 0 {
		c.MaxAttachment = DefaultMaxAttachment
	}
	if c.LargeFileNote == "" {
		c.LargeFileNote = DefaultLargeFileNote
	}
	if c.DiskFreeThreshold == 0 {
		c.DiskFreeThreshold = DefaultDiskFreeThreshold
	}
	if c.RenameFormat == "" {
		c.RenameFormat = DefaultRenameFormat
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Deps are the collaborators the controller wires into the pipeline.
type Deps struct {
	Staging   *staging.Manager
	Validator PDFValidator
	Matcher   *classify.Matcher
	Enricher  CCResolver
	Sender    notify.Sender
	Alerts    notify.Alerter
	Logger    logging.Logger
}

// Controller receives creation events and owns the queue, the admission
// state and the worker pool.
type Controller struct {
	cfg      Config
	queue    *Queue
	pool     *Pool
	pipeline *Pipeline
	recent   *RecentFiles
	rate     *RateWindow
	staging  *staging.Manager
	enricher CCResolver
	alerts   notify.Alerter
	logger   logging.Logger

	overflowing atomic.Bool
	dropped     atomic.Int64
}

// NewController wires a controller. Validator, Matcher, Sender and Staging
// are required.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Staging == nil || deps.Validator == nil || deps.Matcher == nil || deps.Sender == nil {
		return nil, docerrors.NewConfigError(docerrors.ErrCodeConfigInvalid, "intake controller is missing a collaborator")
	}
	if cfg.WatchDir == "" {
		return nil, docerrors.NewConfigError(docerrors.ErrCodeConfigInvalid, "watch directory is required")
	}
	cfg.applyDefaults()
	if !strings.Contains(cfg.RenameFormat, "{base}") || !strings.Contains(cfg.RenameFormat, "{timestamp}") {
		return nil, docerrors.NewConfigError(docerrors.ErrCodeConfigInvalid, "rename format must contain {base} and {timestamp}")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = noAlerts{}
	}

	c := &Controller{
		cfg:      cfg,
		recent:   NewRecentFiles(cfg.DedupHorizon),
		rate:     NewRateWindow(cfg.RateLimit, cfg.RateInterval),
		staging:  deps.Staging,
		enricher: deps.Enricher,
		alerts:   alerts,
		logger:   logger.WithComponent("intake"),
	}

	c.pipeline = &Pipeline{
		cfg: PipelineConfig{
			WatchDir:      cfg.WatchDir,
			RenameFormat:  cfg.RenameFormat,
			MaxAttachment: cfg.MaxAttachment,
			LargeFileNote: cfg.LargeFileNote,
		},
		staging:   deps.Staging,
		validator: deps.Validator,
		matcher:   deps.Matcher,
		enricher:  deps.Enricher,
		sender:    deps.Sender,
		recent:    c.recent,
		rate:      c.rate,
		logger:    logger.WithComponent("pipeline"),
		now:       time.Now,
	}

	c.queue = NewQueue(cfg.QueueCapacity, cfg.HighWatermark, c.onHighWatermark)
	c.pool = NewPool(c.queue, cfg.Workers, c.pipeline.Run, logger)
	c.pool.pollInterval = cfg.PollInterval

	return c, nil
}

// AddSink registers an outcome sink. Call before Start.
func (c *Controller) AddSink(s OutcomeSink) { c.pool.AddSink(s) }

// OnCreated is the watcher callback. It never blocks.
func (c *Controller) OnCreated(ev watcher.Event) {
	if ev.IsDir || !strings.EqualFold(filepath.Ext(ev.Path), ".pdf") {
		return
	}

	at := ev.DiscoveredAt
	if at.IsZero() {
		at = time.Now()
	}
	fe := FileEvent{ID: uuid.NewString(), Path: ev.Path, DiscoveredAt: at}
	masked := logging.MaskFilename(filepath.Base(ev.Path))

	err := c.queue.Enqueue(fe)
	if err == nil {
		c.overflowing.Store(false)
		c.logger.Info(context.Background(), "Detected new PDF", "event_id", fe.ID, "file", masked)
		return
	}

	c.dropped.Add(1)
	c.logger.Error(context.Background(), err, "Event dropped", "file", masked)
	if errors.Is(err, ErrQueueFull) && c.overflowing.CompareAndSwap(false, true) {
		c.alerts.Raise(notify.Alert{
			Name:      notify.AlertQueueFull,
			Level:     notify.AlertLevelCritical,
			Component: "intake",
			Subject:   "Docrelay Queue Full",
			Message:   "Event queue is full, new events are being dropped.",
		})
	}
}

func (c *Controller) onHighWatermark(depth int) {
	c.logger.Warn(context.Background(), nil, "Queue above high watermark", "depth", depth, "watermark", c.cfg.HighWatermark)
	c.alerts.Raise(notify.Alert{
		Name:      notify.AlertQueueHigh,
		Level:     notify.AlertLevelWarning,
		Component: "intake",
		Subject:   "Docrelay Queue Alert",
		Message:   fmt.Sprintf("Queue size exceeded %d items: %d.", c.cfg.HighWatermark, depth),
	})
}

// Start launches the consumer and workers.
func (c *Controller) Start(ctx context.Context) error {
	return c.pool.Start(ctx)
}

// Stop stops dequeuing and waits up to timeout for in-flight files.
func (c *Controller) Stop(timeout time.Duration) error {
	c.queue.Close()
	return c.pool.Stop(timeout)
}

// IsAlive reports whether events are being consumed.
func (c *Controller) IsAlive() bool { return c.pool.Running() }

// MaintenanceReport summarises one maintenance pass.
type MaintenanceReport struct {
	Evicted        int
	Space          staging.SpaceReport
	Sweep          staging.SweepReport
	SidecarBackoff int
}

type failurePruner interface {
	PruneFailures() int
}

// PeriodicMaintenance evicts expired dedup entries, checks free space on
// the staging root and removes orphaned workspaces.
func (c *Controller) PeriodicMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	var errs []error

	report.Evicted = c.recent.Evict()

	space, err := c.staging.CheckSpace(c.cfg.DiskFreeThreshold)
	report.Space = space
	if err != nil {
		errs = append(errs, err)
		c.logger.Warn(ctx, err, "Could not read free space")
	} else if space.Low() {
		c.logger.Warn(ctx, nil, "Low disk space on staging root", "detail", space.String())
		c.alerts.Raise(notify.Alert{
			Name:      notify.AlertLowDisk,
			Level:     notify.AlertLevelCritical,
			Component: "staging",
			Subject:   "Low Disk Space Alert",
			Message:   "Staging root: " + space.String(),
		})
	}

	sweep, err := c.staging.SweepOrphans(ctx)
	report.Sweep = sweep
	if err != nil {
		errs = append(errs, err)
		c.logger.Error(ctx, err, "Orphan sweep failed")
	}

	if p, ok := c.enricher.(failurePruner); ok {
		report.SidecarBackoff = p.PruneFailures()
	}

	c.logger.Info(ctx, "Maintenance complete",
		"evicted", report.Evicted,
		"orphans_removed", sweep.Removed,
		"orphans_skipped", sweep.Skipped)
	return report, errors.Join(errs...)
}

// Stats returns a snapshot for health reporting.
func (c *Controller) Stats() Stats {
	st := Stats{
		QueueDepth:      c.queue.Len(),
		QueueCapacity:   c.queue.Cap(),
		InFlight:        c.pool.InFlight(),
		Dropped:         c.dropped.Load(),
		AverageDuration: c.pool.AverageDuration(),
		RecentFiles:     c.recent.Len(),
	}
	c.pool.counters.fill(&st)
	return st
}

// QueueDepth returns the current queue occupancy.
func (c *Controller) QueueDepth() int { return c.queue.Len() }

type noAlerts struct{}

func (noAlerts) Raise(notify.Alert) {}
