package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yndnr/jalsync-go/internal/infra/buildinfo"
	"github.com/yndnr/jalsync-go/internal/infra/confloader"
	"github.com/yndnr/jalsync-go/internal/infra/shutdown"
	"github.com/yndnr/jalsync-go/internal/server/config"
	"github.com/yndnr/jalsync-go/internal/telemetry/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	loader := newLoader(*configFile)
	cfg, err := loadConfig(loader)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := log.Slog()

	slogger.Info("starting jalsync-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile)
	slogger.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sd := shutdown.NewHandler(30*time.Second, slogger)
	app, err := build(ctx, cfg, slogger, sd)
	if err != nil {
		_ = sd.Shutdown()
		return err
	}
	if err := app.start(ctx); err != nil {
		_ = sd.Shutdown()
		return err
	}

	if path := loader.FilePath(); path != "" {
		if err := watchConfig(ctx, path, loader, app, slogger); err != nil {
			slogger.Warn("config hot reload disabled", "error", err)
		}
	}

	slogger.Info("server started")
	err = sd.Wait(ctx)
	cancel(errors.New("server stopped"))
	if err != nil {
		slogger.Error("shutdown error", "error", err)
		return err
	}
	slogger.Info("server stopped gracefully")
	return nil
}

func newLoader(configFile string) *confloader.Loader {
	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	return confloader.NewLoader(opts...)
}

// loadConfig layers the file and environment over the defaults.
func loadConfig(loader *confloader.Loader) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
