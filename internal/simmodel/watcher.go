package simmodel

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultReloadDelay = 250 * time.Millisecond

// Watcher reloads the Holder whenever the artifact file is replaced. It runs
// as a supervised service in the serve command.
type Watcher struct {
	holder *Holder
	delay  time.Duration
	logger zerolog.Logger
}

func NewWatcher(holder *Holder, logger zerolog.Logger) *Watcher {
	return &Watcher{
		holder: holder,
		delay:  defaultReloadDelay,
		logger: logger.With().Str("component", "model_watcher").Logger(),
	}
}

func (w *Watcher) String() string {
	return "model-watcher"
}

// Serve watches the artifact directory until ctx is cancelled. Directory
// watches survive the rename used by FileStore.Save; a file watch would not.
func (w *Watcher) Serve(ctx context.Context) error {
	path := w.holder.store.Path()
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create model watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch model directory %s: %w", dir, err)
	}
	w.logger.Info().Str("dir", dir).Str("file", base).Msg("watching similarity model")

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("model watcher event channel closed")
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.delay)
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("model watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("model watcher error")
		case <-timer.C:
			_ = w.holder.Reload()
		}
	}
}
