package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/stacker/pkg/telemetry"
)

// DefaultWatchDelay collapses bursts of writes into one change.
const DefaultWatchDelay = 500 * time.Millisecond

// Watcher reports changes to a single file.
type Watcher struct {
	path   string
	delay  time.Duration
	logger *telemetry.Logger
}

// NewWatcher returns a Watcher for path. A zero delay uses DefaultWatchDelay.
func NewWatcher(path string, delay time.Duration, logger *telemetry.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Watcher{
		path:   filepath.Clean(path),
		delay:  delay,
		logger: logger.NewComponentLogger("watcher").WithField("file", path),
	}
}

// Watch calls onChange after the file is written, created or renamed into
// place, until ctx is done. The parent directory is watched so editors that
// replace the file are seen. Calls to onChange never overlap. Errors from
// onChange are logged and watching continues.
func (w *Watcher) Watch(ctx context.Context, onChange func(ctx context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Watching for changes")

	var (
		running sync.Mutex
		timer   *time.Timer
		wg      sync.WaitGroup
	)
	defer func() {
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("File changed")

			if timer != nil && timer.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timer = time.AfterFunc(w.delay, func() {
				defer wg.Done()
				running.Lock()
				defer running.Unlock()
				if ctx.Err() != nil {
					return
				}
				if err := onChange(ctx); err != nil {
					w.logger.WithError(err).Error("Change handler failed")
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}
