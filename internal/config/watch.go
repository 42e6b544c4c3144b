package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes and calls apply with each config
// that loads and validates. Invalid edits are logged and skipped. The parent
// directory is watched so editors that replace the file are seen. Watch
// blocks until ctx ends.
func Watch(ctx context.Context, path string, log *slog.Logger, apply func(Config)) error {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "config: resolve path")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: create watcher")
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "config: watch %s", filepath.Dir(abs))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				log.WarnContext(ctx, "config.reload.fail", slog.String("path", abs), slog.String("err", err.Error()))
				continue
			}
			log.InfoContext(ctx, "config.reload.ok", slog.String("path", abs), slog.String("log_level", cfg.LogLevel))
			apply(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.DebugContext(ctx, "config.watch.error", slog.String("err", err.Error()))
		}
	}
}
