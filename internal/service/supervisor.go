// Package service supervises a running docrelay instance: it validates the
// directories, keeps the watcher alive, schedules maintenance and resource
// sampling, and raises lifecycle alerts.
package service

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/logging"
	"github.com/conneroisu/docrelay/internal/notify"
	"github.com/conneroisu/docrelay/internal/watcher"
)

// Intake is the part of the intake controller the supervisor drives.
type Intake interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	PeriodicMaintenance(ctx context.Context) (intake.MaintenanceReport, error)
}

// Sampler records one resource sample.
type Sampler interface {
	Sample(ctx context.Context) error
}

// Options are the supervisor schedules. Zero values take defaults.
type Options struct {
	WatchDir         string
	StagingDir       string
	StartAttempts    int
	StartBackoff     time.Duration
	AliveInterval    time.Duration
	CleanupInterval  time.Duration
	ResourceInterval time.Duration
	ShutdownTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.StartAttempts <= 0 {
		o.StartAttempts = 3
	}
	if o.StartBackoff <= 0 {
		o.StartBackoff = 10 * time.Second
	}
	if o.AliveInterval <= 0 {
		o.AliveInterval = 500 * time.Millisecond
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Hour
	}
	if o.ResourceInterval <= 0 {
		o.ResourceInterval = 10 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
}

// Supervisor runs the service main loop.
type Supervisor struct {
	opts    Options
	watcher watcher.Watcher
	intake  Intake
	sampler Sampler
	alerts  notify.Alerter
	logger  logging.Logger
	now     func() time.Time
}

// New creates a supervisor. sampler may be nil.
func New(opts Options, w watcher.Watcher, in Intake, sampler Sampler, alerts notify.Alerter, logger logging.Logger) *Supervisor {
	opts.applyDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Supervisor{
		opts:    opts,
		watcher: w,
		intake:  in,
		sampler: sampler,
		alerts:  alerts,
		logger:  logger.WithComponent("supervisor"),
		now:     time.Now,
	}
}

// ValidateDirs checks that the watch directory is a readable directory and
// that the staging root exists and is writable.
func ValidateDirs(watchDir, stagingDir string) error {
	info, err := os.Stat(watchDir)
	if err != nil {
		return docerrors.NewConfigError(docerrors.ErrCodeInvalidPath, "watch directory does not exist")
	}
	if !info.IsDir() {
		return docerrors.NewConfigError(docerrors.ErrCodeInvalidPath, "watch directory is not a directory")
	}
	f, err := os.Open(watchDir)
	if err != nil {
		return docerrors.NewConfigError(docerrors.ErrCodeInvalidPath, "watch directory is not readable")
	}
	_ = f.Close()

	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return docerrors.WrapIO(err, docerrors.ErrCodeWorkspaceFailed, "creating staging directory")
	}
	probe, err := os.CreateTemp(stagingDir, ".probe-*")
	if err != nil {
		return docerrors.WrapIO(err, docerrors.ErrCodeWorkspaceFailed, "staging directory is not writable")
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// Run starts everything and blocks until ctx is done or the watcher cannot
// be kept alive. It returns nil on a clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := ValidateDirs(s.opts.WatchDir, s.opts.StagingDir); err != nil {
		s.logger.Error(ctx, err, "Directory validation failed")
		return err
	}

	if err := s.intake.Start(ctx); err != nil {
		return fmt.Errorf("starting intake: %w", err)
	}

	if err := s.startWatcher(ctx); err != nil {
		s.raise(notify.AlertStartFailed, notify.AlertLevelCritical,
			"Docrelay Failed to Start",
			fmt.Sprintf("The service couldn't start watching the folder after %d tries.", s.opts.StartAttempts))
		s.stopIntake(ctx)
		return err
	}

	s.logger.Info(ctx, "Service started", "watch_dir", logging.MaskPath(s.opts.WatchDir))
	s.raise(notify.AlertStarted, notify.AlertLevelInfo,
		"Docrelay Started",
		fmt.Sprintf("The docrelay service started successfully at %s.", s.stamp()))

	err := s.loop(ctx)

	if stopErr := s.watcher.Stop(); stopErr != nil {
		s.logger.Warn(ctx, stopErr, "Watcher stop failed")
	}
	s.stopIntake(ctx)

	if err != nil {
		return err
	}
	s.logger.Info(ctx, "Service stopped")
	s.raise(notify.AlertStopped, notify.AlertLevelInfo,
		"Docrelay Stopped",
		fmt.Sprintf("The docrelay service stopped at %s.", s.stamp()))
	return nil
}

func (s *Supervisor) loop(ctx context.Context) error {
	alive := time.NewTicker(s.opts.AliveInterval)
	defer alive.Stop()
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()
	resources := time.NewTicker(s.opts.ResourceInterval)
	defer resources.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-alive.C:
			if s.watcher.IsAlive() {
				continue
			}
			s.logger.Warn(ctx, nil, "Watcher stopped unexpectedly, attempting restart")
			_ = s.watcher.Stop()
			if err := s.startWatcher(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.raise(notify.AlertWatcherFailure, notify.AlertLevelCritical,
					"Docrelay Watcher Failure", "The folder watcher failed to restart.")
				return err
			}
			s.logger.Info(ctx, "Watcher restarted")
		case <-cleanup.C:
			s.guard(ctx, "maintenance", func() {
				if _, err := s.intake.PeriodicMaintenance(ctx); err != nil {
					s.logger.Warn(ctx, err, "Maintenance finished with errors")
				}
			})
		case <-resources.C:
			if s.sampler == nil {
				continue
			}
			s.guard(ctx, "resource_sample", func() {
				if err := s.sampler.Sample(ctx); err != nil {
					s.logger.Warn(ctx, err, "Resource sample failed")
				}
			})
		}
	}
}

// startWatcher tries StartAttempts times, StartBackoff apart.
func (s *Supervisor) startWatcher(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.StartAttempts; attempt++ {
		err := s.watcher.Start(ctx)
		if err == nil {
			s.logger.Info(ctx, "File watcher started", "attempt", attempt)
			return nil
		}
		lastErr = err
		s.logger.Error(ctx, err, "Watcher start attempt failed", "attempt", attempt)
		if attempt == s.opts.StartAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.StartBackoff):
		}
	}
	return fmt.Errorf("watcher failed to start after %d attempts: %w", s.opts.StartAttempts, lastErr)
}

func (s *Supervisor) stopIntake(ctx context.Context) {
	if err := s.intake.Stop(s.opts.ShutdownTimeout); err != nil {
		s.logger.Error(ctx, err, "Intake did not stop cleanly")
	}
}

// guard runs a scheduled task and turns a panic into an alert so the main
// loop survives.
func (s *Supervisor) guard(ctx context.Context, task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in %s: %v", task, r)
			s.logger.Error(ctx, err, "Scheduled task panicked", "stack", string(debug.Stack()))
			s.raise(notify.AlertUnexpectedError, notify.AlertLevelCritical,
				"Docrelay Error", fmt.Sprintf("Unexpected error: %v", err))
		}
	}()
	fn()
}

func (s *Supervisor) raise(name string, level notify.AlertLevel, subject, message string) {
	if s.alerts == nil {
		return
	}
	s.alerts.Raise(notify.Alert{
		Name:      name,
		Level:     level,
		Component: "service",
		Subject:   subject,
		Message:   message,
	})
}

func (s *Supervisor) stamp() string {
	return s.now().Format("2006-01-02 15:04:05")
}
