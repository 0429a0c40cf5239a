// Package watch reports changes to the model artifact on disk. The loaded
// model is immutable, so a change only produces a warning telling the
// operator to restart.
package watch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func(fsnotify.Event)
}

// New watches path. onChange may be nil.
func New(path string, logger *zap.Logger, onChange func(fsnotify.Event)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: filepath.Clean(path), logger: logger, onChange: onChange}
}

// Run blocks until ctx is done. The parent directory is watched so atomic
// replace-by-rename is seen too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Warn("model file changed on disk; restart to load it",
				zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if w.onChange != nil {
				w.onChange(ev)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}
