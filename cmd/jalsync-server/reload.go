package main

import (
	"context"
	"log/slog"

	"github.com/yndnr/jalsync-go/internal/infra/confloader"
)

// watchConfig reloads the config file on change. An invalid file is
// logged and ignored.
func watchConfig(ctx context.Context, path string, loader *confloader.Loader, a *app, l *slog.Logger) error {
	w, err := confloader.NewWatcher(path, confloader.WithWatcherLogger(l))
	if err != nil {
		return err
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(loader)
		if err != nil {
			l.Error("config reload rejected", "path", path, "error", err)
			return
		}
		if err := a.applyReload(cfg); err != nil {
			l.Error("config reload failed", "path", path, "error", err)
		}
	})
	go w.Run(ctx)
	return nil
}
