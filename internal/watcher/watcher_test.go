package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = filepath.Base(e.Path)
	}
	return out
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "created", EventTypeCreated.String())
	assert.Equal(t, "unknown", EventType(42).String())
}

func TestPDFFilter(t *testing.T) {
	assert.True(t, PDFFilter("/x/a.pdf"))
	assert.True(t, PDFFilter("/x/a.PDF"))
	assert.False(t, PDFFilter("/x/a.xml"))
	assert.False(t, PDFFilter("/x/pdf"))
}

func TestFileWatcherReportsCreations(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	fw := NewFileWatcher(dir, c.handle, nil)

	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()
	assert.True(t, fw.IsAlive())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	require.Eventually(t, func() bool { return len(c.paths()) >= 2 }, 5*time.Second, 10*time.Millisecond)

	// files inside subdirectories are not watched
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "deep.pdf"), []byte("%PDF"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.ElementsMatch(t, []string{"a.pdf", "sub"}, c.paths())

	c.mu.Lock()
	for _, ev := range c.events {
		assert.Equal(t, EventTypeCreated, ev.Type)
		assert.Equal(t, ev.Path == filepath.Join(dir, "sub"), ev.IsDir)
		assert.False(t, ev.DiscoveredAt.IsZero())
	}
	c.mu.Unlock()
}

func TestFileWatcherFilters(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	fw := NewFileWatcher(dir, c.handle, nil)
	fw.AddFilter(PDFFilter)

	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte("<a/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.PDF"), []byte("%PDF"), 0o644))

	require.Eventually(t, func() bool { return len(c.paths()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"b.PDF"}, c.paths())
}

func TestFileWatcherLifecycle(t *testing.T) {
	dir := t.TempDir()
	fw := NewFileWatcher(dir, func(Event) {}, nil)

	assert.False(t, fw.IsAlive())
	require.NoError(t, fw.Stop())

	require.NoError(t, fw.Start(context.Background()))
	assert.Error(t, fw.Start(context.Background()))
	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsAlive())

	// restartable
	require.NoError(t, fw.Start(context.Background()))
	assert.True(t, fw.IsAlive())
	require.NoError(t, fw.Stop())
}

func TestFileWatcherContextCancelEndsLoop(t *testing.T) {
	fw := NewFileWatcher(t.TempDir(), func(Event) {}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, fw.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !fw.IsAlive() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, fw.Stop())
}

func TestFileWatcherMissingDir(t *testing.T) {
	fw := NewFileWatcher(filepath.Join(t.TempDir(), "missing"), func(Event) {}, nil)
	assert.Error(t, fw.Start(context.Background()))
	assert.False(t, fw.IsAlive())

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, NewFileWatcher(file, func(Event) {}, nil).Start(context.Background()))
}
