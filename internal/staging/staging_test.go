package staging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/testutils"
)

var fast = RetryPolicy{Attempts: 5, Backoff: time.Millisecond}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithCopyRetry(fast), WithRemoveRetry(RetryPolicy{Attempts: 3, Backoff: time.Millisecond})}, opts...)
	m, err := NewManager(filepath.Join(t.TempDir(), "staging"), nil, opts...)
	require.NoError(t, err)
	return m
}

func TestCreateWorkspace(t *testing.T) {
	m := newManager(t)

	ws, err := m.Create()
	require.NoError(t, err)
	assert.Equal(t, m.Root(), filepath.Dir(ws.Dir))
	assert.Contains(t, filepath.Base(ws.Dir), WorkspacePrefix)
	assert.Equal(t, 1, m.ActiveCount())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(ws.Dir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	}

	other, err := m.Create()
	require.NoError(t, err)
	assert.NotEqual(t, ws.Dir, other.Dir)

	require.NoError(t, ws.Release(context.Background()))
	require.NoError(t, other.Release(context.Background()))
	assert.Zero(t, m.ActiveCount())
	assert.Empty(t, testutils.Entries(t, m.Root()))
}

func TestStageCopiesWithPermissions(t *testing.T) {
	m := newManager(t)
	src := testutils.WriteFile(t, t.TempDir(), "meta.xml", "<doc/>")

	ws, err := m.Create()
	require.NoError(t, err)
	defer ws.Release(context.Background())

	dst, err := ws.Stage(context.Background(), src, "renamed.xml", 0o600)
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "<doc/>", string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestCopyWithRetryToleratesPermissionErrors(t *testing.T) {
	var calls atomic.Int32
	flaky := func(src, dst string, perm os.FileMode) error {
		if calls.Add(1) < 3 {
			return &fs.PathError{Op: "open", Path: src, Err: fs.ErrPermission}
		}
		return CopyFile(src, dst, perm)
	}
	m := newManager(t, WithCopyFunc(flaky))
	src := testutils.WritePDF(t, t.TempDir(), "a.pdf", 0)

	require.NoError(t, m.CopyWithRetry(context.Background(), src, filepath.Join(m.Root(), "a.pdf"), 0o600))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCopyWithRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	denied := func(src, _ string, _ os.FileMode) error {
		calls.Add(1)
		return &fs.PathError{Op: "open", Path: src, Err: fs.ErrPermission}
	}
	m := newManager(t, WithCopyFunc(denied))

	err := m.CopyWithRetry(context.Background(), "a.pdf", filepath.Join(m.Root(), "a.pdf"), 0o600)
	require.Error(t, err)
	assert.True(t, docerrors.IsType(err, docerrors.ErrorTypeIO))
	assert.Equal(t, int32(5), calls.Load())
}

func TestCopyWithRetryDoesNotRetryMissingFile(t *testing.T) {
	var calls atomic.Int32
	m := newManager(t, WithCopyFunc(func(src, dst string, perm os.FileMode) error {
		calls.Add(1)
		return CopyFile(src, dst, perm)
	}))

	err := m.CopyWithRetry(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), filepath.Join(m.Root(), "x.pdf"), 0o600)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSweepOrphansSkipsActive(t *testing.T) {
	m := newManager(t)

	live, err := m.Create()
	require.NoError(t, err)

	orphan := filepath.Join(m.Root(), WorkspacePrefix+"left-behind")
	require.NoError(t, os.MkdirAll(filepath.Join(orphan, "nested"), 0o700))
	testutils.WriteFile(t, orphan, "nested/x.pdf", "x")
	testutils.WriteFile(t, m.Root(), "stray.txt", "keep")

	report, err := m.SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Removed: 1, Skipped: 1}, report)

	assert.ElementsMatch(t, []string{filepath.Base(live.Dir), "stray.txt"}, testutils.Entries(t, m.Root()))

	require.NoError(t, live.Release(context.Background()))
	report, err = m.SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestSweepOrphansLeavesForeignDirectories(t *testing.T) {
	m := newManager(t)

	foreign := filepath.Join(m.Root(), "scanner-cache")
	require.NoError(t, os.MkdirAll(foreign, 0o700))
	testutils.WriteFile(t, foreign, "index.db", "keep")
	orphan := filepath.Join(m.Root(), WorkspacePrefix+"stale")
	require.NoError(t, os.MkdirAll(orphan, 0o700))

	report, err := m.SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Removed: 1}, report)
	assert.Equal(t, []string{"scanner-cache"}, testutils.Entries(t, m.Root()))
	assert.FileExists(t, filepath.Join(foreign, "index.db"))
}

func TestCheckSpace(t *testing.T) {
	m := newManager(t)

	report, err := m.CheckSpace(1)
	if errors.Is(err, errors.ErrUnsupported) {
		t.Skip("free space not supported on this platform")
	}
	require.NoError(t, err)
	assert.Greater(t, report.Free, uint64(0))
	assert.False(t, report.Low())

	huge := SpaceReport{Free: 512 << 20, Threshold: 1 << 30}
	assert.True(t, huge.Low())
	assert.Equal(t, "free disk space is 512 MiB, below the 1.0 GiB threshold", huge.String())
}

func TestStagedName(t *testing.T) {
	at := time.Date(2025, 5, 29, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, "WIRE_1_20250529_101500.pdf", StagedName("{base}_{timestamp}.pdf", "/watch/WIRE_1.pdf", at))
	assert.Equal(t, "20250529_101500-x.y.pdf", StagedName("{timestamp}-{base}.pdf", "x.y.PDF", at))
}

func TestSidecarName(t *testing.T) {
	assert.Equal(t, "WIRE_1_20250529_101500.XML", SidecarName("WIRE_1_20250529_101500.pdf", "/watch/WIRE_1.XML"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&fs.PathError{Err: fs.ErrPermission}))
	assert.False(t, IsTransient(fs.ErrNotExist))
	assert.False(t, IsTransient(nil))
}
