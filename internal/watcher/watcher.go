// Package watcher triggers indexing runs when the post directory
// changes on disk. Events are debounced so a burst of writes from an
// editor or a git checkout collapses into a single run.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pressridge/blogidx/internal/clock"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

// DefaultDebounce is how long the directory must stay quiet before a
// run fires.
const DefaultDebounce = 2 * time.Second

// Watcher observes a directory tree and invokes a callback after
// changes settle.
type Watcher struct {
	root     string
	debounce time.Duration
	clk      clock.Clock
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	onChange func(ctx context.Context)
}

// New creates a Watcher over root. onChange runs on the watcher's
// goroutine once per settled burst of filesystem events.
func New(root string, debounce time.Duration, clk clock.Clock, logger *slog.Logger, onChange func(ctx context.Context)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeInternal, "failed to create filesystem watcher", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		clk:      clk,
		logger:   logger,
		fsw:      fsw,
		onChange: onChange,
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers root and every subdirectory. fsnotify watches are
// not recursive.
func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeDataDirMissing, "failed to watch directory tree", err).
			WithDetail("path", root)
	}
	return nil
}

// Run processes events until ctx is cancelled. It blocks; call it on
// its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			// New directories must be added so events inside them arrive.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err == nil {
						w.logger.Debug("watching new directory", slog.String("path", event.Name))
					}
				}
			}
			w.logger.Debug("filesystem event",
				slog.String("op", event.Op.String()),
				slog.String("path", event.Name))
			settle = w.clk.After(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-settle:
			settle = nil
			w.logger.Info("changes settled, triggering run", slog.String("root", w.root))
			w.onChange(ctx)
		}
	}
}

// relevant filters out events that cannot affect indexing output.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	// Editor swap and hidden files churn constantly.
	if len(base) > 0 && base[0] == '.' {
		return false
	}
	ext := filepath.Ext(base)
	if ext == ".swp" || ext == ".tmp" || strings.HasSuffix(base, "~") {
		return false
	}
	return true
}
