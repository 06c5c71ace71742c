// Package watcher reports changes to catalog files.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet period after the last write before a change
// is reported
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches files for changes
type Watcher struct {
	paths    []string
	onChange func(path string)
	debounce time.Duration
	logger   logrus.FieldLogger
}

// New creates a watcher calling onChange with the absolute path of each
// changed file
func New(paths []string, onChange func(path string)) *Watcher {
	return &Watcher{
		paths:    paths,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   logrus.StandardLogger(),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// WithLogger sets the logger
func (w *Watcher) WithLogger(l logrus.FieldLogger) *Watcher {
	if l != nil {
		w.logger = l
	}
	return w
}

// Watch starts watching the files for changes.
// It blocks until the context is cancelled or an error occurs.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer watcher.Close()

	// Watch the directories containing the files.
	// This handles cases where a file is replaced (e.g., by editors).
	watchedDirs := make(map[string]bool)
	fileSet := make(map[string]bool)
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		dir := filepath.Dir(absPath)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				w.logger.WithError(err).WithField("dir", dir).Warn("Failed to watch directory")
				continue
			}
			watchedDirs[dir] = true
		}

		fileSet[absPath] = true
		w.logger.WithField("path", absPath).Info("Watching catalog file for changes")
	}
	if len(fileSet) == 0 {
		return errors.New("no catalog files could be watched")
	}

	var mu sync.Mutex
	debounceTimers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, timer := range debounceTimers {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil || !fileSet[absPath] {
				continue
			}

			// Handle write or create events
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce rapid changes
			mu.Lock()
			if timer, exists := debounceTimers[absPath]; exists {
				timer.Stop()
			}
			debounceTimers[absPath] = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.WithField("path", absPath).Info("Catalog file changed")
				w.onChange(absPath)
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
