package policy

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its backing file changes,
// grounded on the teacher's use of fsnotify for live config/asset
// reloading in internal/skills/manager.go and internal/canvas/host.go.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// Watch starts watching path for changes. onReload is invoked with the
// freshly parsed Config each time the file is written. Call Close to
// stop watching.
func Watch(path string, onReload func(Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch policy file: %w", err)
	}
	w := &Watcher{path: path, fsw: fsw, logger: logger}
	go w.loop(onReload)
	return w, nil
}

func (w *Watcher) loop(onReload func(Config)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadFromFile(w.path)
			if err != nil {
				w.logger.Warn("policy reload failed", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("policy reloaded", "path", w.path, "rules", len(cfg.Rules))
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
