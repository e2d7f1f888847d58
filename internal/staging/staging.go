// Package staging owns the per-event workspaces under the staging root:
// creation, retrying file copies, removal and the orphan sweep.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/logging"
)

// WorkspacePrefix starts every workspace directory name.
const WorkspacePrefix = "pdf_"

// TimestampLayout renders {timestamp} in staged filenames.
const TimestampLayout = "20060102_150405"

// RetryPolicy is a bounded retry with a fixed backoff.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var (
	DefaultCopyRetry   = RetryPolicy{Attempts: 5, Backoff: time.Second}
	DefaultRemoveRetry = RetryPolicy{Attempts: 3, Backoff: time.Second}
)

// CopyFunc copies src to dst and leaves dst with perm.
type CopyFunc func(src, dst string, perm os.FileMode) error

// Manager creates and removes workspaces under one root.
type Manager struct {
	root        string
	copyRetry   RetryPolicy
	removeRetry RetryPolicy
	copyFile    CopyFunc
	logger      logging.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithCopyRetry overrides DefaultCopyRetry.
func WithCopyRetry(p RetryPolicy) Option { return func(m *Manager) { m.copyRetry = p } }

// WithRemoveRetry overrides DefaultRemoveRetry.
func WithRemoveRetry(p RetryPolicy) Option { return func(m *Manager) { m.removeRetry = p } }

// WithCopyFunc replaces CopyFile.
func WithCopyFunc(fn CopyFunc) Option { return func(m *Manager) { m.copyFile = fn } }

// NewManager creates the staging root (0700) if needed.
func NewManager(root string, logger logging.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, docerrors.WrapIO(err, docerrors.ErrCodeWorkspaceFailed, "resolving staging root")
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, docerrors.WrapIO(err, docerrors.ErrCodeWorkspaceFailed, "creating staging root")
	}

	m := &Manager{
		root:        abs,
		copyRetry:   DefaultCopyRetry,
		removeRetry: DefaultRemoveRetry,
		copyFile:    CopyFile,
		logger:      logger.WithComponent("staging"),
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.copyRetry.Attempts < 1 {
		m.copyRetry.Attempts = 1
	}
	if m.removeRetry.Attempts < 1 {
		m.removeRetry.Attempts = 1
	}
	return m, nil
}

// Root returns the absolute staging root.
func (m *Manager) Root() string { return m.root }

// Workspace is one event's private directory.
type Workspace struct {
	Dir string
	m   *Manager
}

// Create makes a fresh owner-only workspace and marks it in flight. The
// directory is registered before it exists so a concurrent sweep never
// sees it as an orphan.
func (m *Manager) Create() (*Workspace, error) {
	dir := filepath.Join(m.root, WorkspacePrefix+uuid.NewString())

	m.mu.Lock()
	m.active[dir] = struct{}{}
	m.mu.Unlock()

	fail := func(err error, msg string) (*Workspace, error) {
		_ = os.RemoveAll(dir)
		m.mu.Lock()
		delete(m.active, dir)
		m.mu.Unlock()
		return nil, docerrors.WrapIO(err, docerrors.ErrCodeWorkspaceFailed, msg)
	}

	if err := os.Mkdir(dir, 0o700); err != nil {
		return fail(err, "creating workspace")
	}
	// Mkdir is subject to umask
	if err := os.Chmod(dir, 0o700); err != nil {
		return fail(err, "restricting workspace")
	}

	m.logger.Debug(context.Background(), "Created workspace", "dir", filepath.Base(dir))
	return &Workspace{Dir: dir, m: m}, nil
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Stage copies src into the workspace as name with perm.
func (w *Workspace) Stage(ctx context.Context, src, name string, perm os.FileMode) (string, error) {
	dst := w.Path(name)
	if err := w.m.CopyWithRetry(ctx, src, dst, perm); err != nil {
		return "", err
	}
	return dst, nil
}

// Release removes the workspace with the remove retry policy. A failed
// removal is logged and left for the orphan sweep.
func (w *Workspace) Release(ctx context.Context) error {
	err := w.m.RemoveWithRetry(ctx, w.Dir)

	w.m.mu.Lock()
	delete(w.m.active, w.Dir)
	w.m.mu.Unlock()

	return err
}

// ActiveCount returns the number of workspaces in flight.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) isActive(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[dir]
	return ok
}

// CopyWithRetry copies src to dst, retrying only transient errors (locked
// or permission-denied files still being written by the scanner).
func (m *Manager) CopyWithRetry(ctx context.Context, src, dst string, perm os.FileMode) error {
	var err error
	for attempt := 1; attempt <= m.copyRetry.Attempts; attempt++ {
		err = m.copyFile(src, dst, perm)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			break
		}
		m.logger.Warn(ctx, err, "Copy attempt failed", "attempt", attempt, "max_attempts", m.copyRetry.Attempts)
		if attempt < m.copyRetry.Attempts && !sleepCtx(ctx, m.copyRetry.Backoff) {
			err = errors.Join(err, ctx.Err())
			break
		}
	}
	return docerrors.WrapIO(err, docerrors.ErrCodeCopyFailed, "copy failed").
		WithFile(logging.MaskFilename(filepath.Base(src)))
}

// RemoveWithRetry deletes dir and everything below it.
func (m *Manager) RemoveWithRetry(ctx context.Context, dir string) error {
	var err error
	for attempt := 1; attempt <= m.removeRetry.Attempts; attempt++ {
		if err = os.RemoveAll(dir); err == nil {
			return nil
		}
		m.logger.Warn(ctx, err, "Remove attempt failed", "dir", filepath.Base(dir), "attempt", attempt)
		if attempt < m.removeRetry.Attempts && !sleepCtx(ctx, m.removeRetry.Backoff) {
			break
		}
	}
	m.logger.Error(ctx, err, "Failed to remove workspace", "dir", filepath.Base(dir), "attempts", m.removeRetry.Attempts)
	return docerrors.WrapIO(err, docerrors.ErrCodeRemoveFailed, "remove failed")
}

// SweepReport summarises one orphan sweep.
type SweepReport struct {
	Removed int
	Skipped int
	Failed  int
}

// SweepOrphans removes workspace directories under the root that no
// in-flight event owns. Only names starting with WorkspacePrefix are
// considered, so a staging root shared with other tools keeps their files.
func (m *Manager) SweepOrphans(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return report, docerrors.WrapIO(err, docerrors.ErrCodeRemoveFailed, "listing staging root")
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), WorkspacePrefix) {
			continue
		}
		dir := filepath.Join(m.root, e.Name())
		if m.isActive(dir) {
			report.Skipped++
			continue
		}

		age := ""
		if info, err := e.Info(); err == nil {
			age = humanize.Time(info.ModTime())
		}
		if err := m.RemoveWithRetry(ctx, dir); err != nil {
			report.Failed++
			m.logger.Error(ctx, err, "Orphaned workspace not removed", "dir", e.Name(), "modified", age)
			continue
		}
		report.Removed++
		m.logger.Info(ctx, "Removed orphaned workspace", "dir", e.Name(), "modified", age)
	}
	return report, nil
}

// SpaceReport describes free space at the staging root.
type SpaceReport struct {
	Free      uint64
	Threshold uint64
}

// Low reports whether free space is under the threshold.
func (r SpaceReport) Low() bool { return r.Free < r.Threshold }

// String renders the report for alerts.
func (r SpaceReport) String() string {
	return fmt.Sprintf("free disk space is %s, below the %s threshold",
		humanize.IBytes(r.Free), humanize.IBytes(r.Threshold))
}

// CheckSpace reports free space on the filesystem holding the root.
func (m *Manager) CheckSpace(threshold uint64) (SpaceReport, error) {
	free, err := FreeBytes(m.root)
	if err != nil {
		return SpaceReport{Threshold: threshold}, docerrors.WrapIO(err, docerrors.ErrCodeWorkspaceFailed, "reading free space")
	}
	return SpaceReport{Free: free, Threshold: threshold}, nil
}

// CopyFile copies src to dst, preserving the modification time, and sets
// perm on dst.
func CopyFile(src, dst string, perm os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "copy", Path: src, Err: errors.New("is a directory")}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = os.Chmod(dst, perm); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// StagedName renders format with {base} (original name without extension)
// and {timestamp}.
func StagedName(format, original string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	return strings.NewReplacer(
		"{base}", base,
		"{timestamp}", at.Format(TimestampLayout),
	).Replace(format)
}

// SidecarName is the staged name of a sidecar: the staged PDF's base name
// with the sidecar's own extension.
func SidecarName(stagedPDF, sidecar string) string {
	return strings.TrimSuffix(stagedPDF, filepath.Ext(stagedPDF)) + filepath.Ext(sidecar)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
