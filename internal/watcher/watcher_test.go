package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, root string, fired *atomic.Int64) context.CancelFunc {
	t.Helper()
	w, err := New(root, 20*time.Millisecond, nil, testLogger(), func(ctx context.Context) {
		fired.Add(1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWatcherMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), 0, nil, testLogger(), func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestWatcherFiresAfterSettle(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int64
	startWatcher(t, dir, &fired)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "post.md"), []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int64
	startWatcher(t, dir, &fired)

	// Several writes inside the debounce window.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "post.md"), []byte{byte('a' + i)}, 0o644))
	}

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give any stray timers a chance to fire; the burst must not
	// produce one run per write.
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, fired.Load(), int64(2))
}

func TestWatcherSeesNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int64
	startWatcher(t, dir, &fired)

	sub := filepath.Join(dir, "new-post")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	before := fired.Load()
	require.NoError(t, os.WriteFile(filepath.Join(sub, "index.md"), []byte("body"), 0o644))
	require.Eventually(t, func() bool {
		return fired.Load() > before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelevantFiltersNoise(t *testing.T) {
	w := &Watcher{}
	assert.False(t, w.relevant(fsnotify.Event{Name: "/p/.index.md.swp", Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/p/index.md~", Op: fsnotify.Write}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/p/draft.tmp", Op: fsnotify.Write}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/p/index.md", Op: fsnotify.Chmod}))
	assert.True(t, w.relevant(fsnotify.Event{Name: "/p/index.md", Op: fsnotify.Write}))
}
