package cmd

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/conneroisu/docrelay/internal/audit"
	"github.com/conneroisu/docrelay/internal/classify"
	"github.com/conneroisu/docrelay/internal/config"
	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/logging"
	"github.com/conneroisu/docrelay/internal/monitoring"
	"github.com/conneroisu/docrelay/internal/notify"
	"github.com/conneroisu/docrelay/internal/pdf"
	"github.com/conneroisu/docrelay/internal/service"
	"github.com/conneroisu/docrelay/internal/sidecar"
	"github.com/conneroisu/docrelay/internal/staging"
	"github.com/conneroisu/docrelay/internal/watcher"
)

// app is a fully wired service instance.
type app struct {
	cfg        *config.Config
	logger     logging.Logger
	alerts     *notify.AlertManager
	controller *intake.Controller
	watcher    *watcher.FileWatcher
	supervisor *service.Supervisor
	status     *monitoring.StatusServer
	ledger     *audit.Ledger
	closers    []func() error
}

type appOptions struct {
	transport notify.Transport
}

type appOption func(*appOptions)

// withTransport replaces the SMTP transport.
func withTransport(t notify.Transport) appOption {
	return func(o *appOptions) { o.transport = t }
}

// newLogger builds the console logger and, when logging.dir is set, a
// daily file logger behind a MultiLogger.
func newLogger(cfg *config.Config, console io.Writer) (logging.Logger, func() error, error) {
	base := logging.LoggerConfig{Level: cfg.LogLevel(), Format: cfg.Logging.Format, Output: console}
	out := logging.NewLogger(&base)
	if cfg.Logging.Dir == "" {
		return out, func() error { return nil }, nil
	}

	fileCfg := base
	fileCfg.Output = nil
	fl, err := logging.NewFileLogger(&fileCfg, cfg.Logging.Dir)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewMultiLogger(out, fl), fl.Close, nil
}

func newApp(cfg *config.Config, logger logging.Logger, opts ...appOption) (*app, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = notify.NewMailTransport(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.SMTP.Timeout,
		})
	}

	a := &app{cfg: cfg, logger: logger}

	dispatcher := notify.NewDispatcher(cfg.Mail.From, o.transport, logger,
		notify.WithRetry(cfg.Mail.SendAttempts, cfg.Mail.SendBackoff))

	a.alerts = notify.NewAlertManager(logger, cfg.Mail.AlertBacklog)
	a.alerts.AddChannel(notify.NewLogChannel(logger))
	if len(cfg.Mail.AlertTo) > 0 {
		a.alerts.AddChannel(notify.NewEmailChannel(dispatcher, cfg.Mail.AlertTo))
	}
	if cfg.Mail.AlertCooldown > 0 {
		for _, name := range []string{
			notify.AlertQueueHigh, notify.AlertQueueFull, notify.AlertLowDisk,
			notify.AlertWatcherFailure, notify.AlertUnexpectedError,
		} {
			a.alerts.SetCooldown(name, cfg.Mail.AlertCooldown)
		}
	}

	stagingMgr, err := staging.NewManager(cfg.Staging.Dir, logger,
		staging.WithCopyRetry(staging.RetryPolicy{Attempts: cfg.Staging.CopyAttempts, Backoff: cfg.Staging.CopyBackoff}),
		staging.WithRemoveRetry(staging.RetryPolicy{Attempts: cfg.Staging.RemoveAttempts, Backoff: cfg.Staging.RemoveBackoff}))
	if err != nil {
		return nil, err
	}

	a.controller, err = intake.NewController(intake.Config{
		WatchDir:          cfg.Watch.Dir,
		RenameFormat:      cfg.Intake.RenameFormat,
		QueueCapacity:     cfg.Intake.QueueCapacity,
		HighWatermark:     cfg.Intake.HighWatermark,
		Workers:           cfg.Intake.Workers,
		DedupHorizon:      cfg.Intake.DedupHorizon,
		RateLimit:         cfg.Intake.RateLimit,
		RateInterval:      cfg.Intake.RateInterval,
		MaxAttachment:     cfg.Intake.MaxAttachmentMB << 20,
		LargeFileNote:     cfg.Intake.LargeFileNote,
		DiskFreeThreshold: cfg.Staging.DiskFreeThresholdMB << 20,
		PollInterval:      cfg.Intake.PollInterval,
	}, intake.Deps{
		Staging:   stagingMgr,
		Validator: pdf.NewValidator(),
		Matcher:   classify.NewMatcher(cfg.CompiledTemplates()),
		Enricher:  sidecar.NewExtractor(cfg.Mail.Domain, logger, sidecar.WithCooldown(cfg.Sidecar.FailureCooldown)),
		Sender:    dispatcher,
		Alerts:    a.alerts,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a.watcher = watcher.NewFileWatcher(cfg.Watch.Dir, a.controller.OnCreated, logger)
	a.watcher.AddFilter(watcher.PDFFilter)

	var in service.Intake = a.controller
	if cfg.Audit.DBPath != "" {
		a.ledger, err = audit.Open(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.ledger.Close)
		a.controller.AddSink(a.ledger)
		in = &prunedIntake{Controller: a.controller, ledger: a.ledger, retention: cfg.Audit.Retention, logger: logger}
	}

	if cfg.Status.Addr != "" {
		hub := monitoring.NewEventHub(logger)
		a.controller.AddSink(hub)
		a.status = monitoring.NewStatusServer(cfg.Status.Addr, a.healthMonitor(), a.controller, hub, logger)
	}

	resources := monitoring.NewResourceMonitor(monitoring.ResourceConfig{
		Path:              cfg.ResourceLogPath(),
		MaxBytes:          cfg.Monitoring.MaxLogBytes,
		MemoryThresholdMB: cfg.Monitoring.MemoryThresholdMB,
		AlertCooldown:     cfg.Monitoring.AlertCooldown,
	}, a.controller, a.alerts, logger)

	a.supervisor = service.New(service.Options{
		WatchDir:         cfg.Watch.Dir,
		StagingDir:       cfg.Staging.Dir,
		StartAttempts:    cfg.Supervisor.StartAttempts,
		StartBackoff:     cfg.Supervisor.StartBackoff,
		AliveInterval:    cfg.Supervisor.AliveInterval,
		CleanupInterval:  cfg.Supervisor.CleanupInterval,
		ResourceInterval: cfg.Supervisor.ResourceInterval,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	}, a.watcher, in, resources, a.alerts, logger)

	return a, nil
}

func (a *app) healthMonitor() *monitoring.HealthMonitor {
	hm := monitoring.NewHealthMonitor(a.logger)
	hm.Register(monitoring.DirectoryCheck("watch_dir", a.cfg.Watch.Dir, false))
	hm.Register(monitoring.DirectoryCheck("staging_dir", a.cfg.Staging.Dir, true))
	hm.Register(monitoring.MemoryCheck(a.cfg.Monitoring.MemoryThresholdMB))
	hm.Register(monitoring.GoroutineCheck())
	hm.Register(monitoring.IntakeCheck(a.controller.IsAlive, a.controller, a.cfg.Intake.HighWatermark))
	hm.Register(monitoring.Check{Name: "watcher", Critical: true, Probe: func(context.Context) monitoring.CheckResult {
		if !a.watcher.IsAlive() {
			return monitoring.CheckResult{Status: monitoring.HealthStatusUnhealthy, Message: "watcher is not running"}
		}
		return monitoring.CheckResult{Status: monitoring.HealthStatusHealthy, Message: "watching " + a.cfg.Watch.Dir}
	}})
	return hm
}

// Run blocks until ctx is cancelled or the supervisor gives up.
func (a *app) Run(ctx context.Context) error {
	a.alerts.Start(context.WithoutCancel(ctx))

	if a.status != nil {
		if err := a.status.Start(ctx); err != nil {
			a.alerts.Stop()
			a.close()
			return err
		}
	}

	runErr := a.supervisor.Run(ctx)

	var errs []error
	if a.status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		errs = append(errs, a.status.Shutdown(shutdownCtx))
		cancel()
	}
	a.alerts.Stop()
	errs = append(errs, a.close())

	return errors.Join(append([]error{runErr}, errs...)...)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// prunedIntake also trims the audit ledger on each maintenance pass.
type prunedIntake struct {
	*intake.Controller
	ledger    *audit.Ledger
	retention time.Duration
	logger    logging.Logger
}

func (p *prunedIntake) PeriodicMaintenance(ctx context.Context) (intake.MaintenanceReport, error) {
	report, err := p.Controller.PeriodicMaintenance(ctx)
	if p.retention <= 0 {
		return report, err
	}
	n, perr := p.ledger.Prune(ctx, time.Now().Add(-p.retention))
	if perr != nil {
		p.logger.Warn(ctx, perr, "Audit prune failed")
	} else if n > 0 {
		p.logger.Info(ctx, "Pruned audit ledger", "removed", n)
	}
	return report, errors.Join(err, perr)
}
