package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"

	"connectrpc.com/connect"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/infra/shutdown"
	"github.com/yndnr/jalsync-go/internal/infra/tlsroots"
	"github.com/yndnr/jalsync-go/internal/protocol/digest"
	"github.com/yndnr/jalsync-go/internal/server/adminrpc"
	"github.com/yndnr/jalsync-go/internal/server/config"
	"github.com/yndnr/jalsync-go/internal/server/httpserver"
	"github.com/yndnr/jalsync-go/internal/storage"
	"github.com/yndnr/jalsync-go/internal/storage/fsstore"
	"github.com/yndnr/jalsync-go/internal/telemetry/logger"
	"github.com/yndnr/jalsync-go/internal/telemetry/metric"
	"github.com/yndnr/jalsync-go/internal/transport"
	"github.com/yndnr/jalsync-go/internal/transport/channel"
	"github.com/yndnr/jalsync-go/internal/transport/httpx"
)

// app holds the running components.
type app struct {
	cfg    *config.ServerConfig
	logger *slog.Logger
	sd     *shutdown.Handler

	metrics    *metric.Registry
	registry   *service.SessionRegistry
	engine     *service.Engine
	negotiator *service.Negotiator
	authorizer *service.PeerAuthorizer
	source     *fsstore.Source
	certs      *tlsroots.Watcher
	tlsConfig  *tls.Config

	channel *channel.Server
	httpx   *httpx.Server
	http    *httpserver.Server
}

// build opens storage and assembles the session stack. Every component
// that needs cleanup registers a shutdown hook as it is created.
func build(ctx context.Context, cfg *config.ServerConfig, l *slog.Logger, sd *shutdown.Handler) (*app, error) {
	a := &app{cfg: cfg, logger: l, sd: sd, metrics: metric.NewRegistry()}

	kv, err := storage.OpenKV(storage.KVConfig{
		Dir:      cfg.Storage.DataDir,
		InMemory: cfg.Storage.InMemory,
		Engine:   cfg.Storage.Engine,
		Badger:   cfg.Storage.Badger,
		SQLite:   cfg.Storage.SQLite,
	}, a.metrics.Registerer(), l)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	sd.OnShutdown("storage", func(context.Context) error { return kv.Close() })
	state := storage.NewStateStore(kv, l)

	a.source = fsstore.NewSource(filepath.Join(cfg.Storage.RecordDir, "outgoing"), l)
	sink := fsstore.NewSink(filepath.Join(cfg.Storage.RecordDir, "incoming"), l)

	a.registry = service.NewSessionRegistry(service.RegistryConfig{
		MaxConcurrentSessions: cfg.Session.MaxConcurrent,
		Scope:                 cfg.Session.RegistryScope(),
		OnAdmit:               func(*domain.Session) { a.metrics.SessionAdmitted() },
		OnEvict: func(s *domain.Session) {
			a.metrics.SessionEvicted(s)
			a.engine.Stop(s.ID)
		},
		OnChange: a.metrics.SessionsChanged,
		Logger:   l,
	})

	algs := digest.Default()
	a.engine = service.NewEngine(service.EngineConfig{
		Sink:            sink,
		Source:          a.source,
		Handoff:         sink,
		Registry:        a.registry,
		Digests:         algs,
		PendingStore:    state,
		ResumeStore:     state,
		MaxPending:      cfg.Ledger.MaxPending,
		PendingTimeout:  cfg.Ledger.PendingTimeout,
		ResponseTimeout: cfg.Session.ResponseTimeout,
		PollInterval:    cfg.Session.PollInterval,
		CloseGrace:      cfg.Session.CloseGrace,
		Observer:        a.metrics,
		Logger:          l,
	})
	a.metrics.Registerer().MustRegister(metric.NewCollector(a.engine))

	rules, err := cfg.Session.PeerRules()
	if err != nil {
		return nil, err
	}
	if a.authorizer, err = service.NewPeerAuthorizer(rules); err != nil {
		return nil, err
	}
	a.negotiator = service.NewNegotiator(cfg.Session.NegotiatorConfig(), algs, a.registry,
		service.WithAuthorizer(a.authorizer),
		service.WithAdmissionLimiter(service.NewAdmissionLimiter(cfg.Session.AdmissionRate, cfg.Session.AdmissionBurst)),
		service.WithResumeProvider(sink),
		service.WithRejectHook(a.metrics.Rejected),
		service.WithNegotiatorLogger(l),
	)

	if err := a.buildTLS(); err != nil {
		return nil, err
	}

	if cfg.Server.Channel.Enabled {
		a.channel = channel.New(&channel.Config{
			Address:      cfg.Server.Channel.Addr,
			TLSConfig:    a.tlsConfig,
			ReadTimeout:  cfg.Server.Channel.ReadTimeout,
			WriteTimeout: cfg.Server.Channel.WriteTimeout,
			IdleTimeout:  cfg.Server.Channel.IdleTimeout,
		}, a.accept, l)
	}
	if cfg.Server.HTTP.Enabled {
		a.buildHTTP(state)
	}
	return a, nil
}

func (a *app) buildTLS() error {
	sec := a.cfg.Security
	if sec.TLSCertFile == "" {
		return nil
	}
	certs, err := tlsroots.NewWatcher(sec.TLSCertFile, sec.TLSKeyFile, tlsroots.WithLogger(a.logger))
	if err != nil {
		return err
	}
	pool, err := tlsroots.LoadPool(sec.TLSCAFile)
	if err != nil {
		return err
	}
	a.tlsConfig, err = tlsroots.ServerConfig(pool, certs)
	if err != nil {
		return err
	}
	a.certs = certs
	return nil
}

func (a *app) buildHTTP(state *storage.StateStore) {
	hc := a.cfg.Server.HTTP
	a.httpx = httpx.NewServer(&httpx.ServerConfig{
		PollWait:    hc.PollWait,
		IdleTimeout: hc.IdleTimeout,
	}, a.accept, a.logger)

	adminPath, admin := adminrpc.NewHandler(&adminrpc.EngineBackend{
		Engine:   a.engine,
		Registry: a.registry,
		Store:    state,
	}, a.logger, connect.WithInterceptors(adminrpc.DefaultInterceptors(a.logger, a.cfg.Server.Admin.Token)...))

	var limiter *service.AdmissionLimiter
	if hc.RateLimit > 0 {
		limiter = service.NewAdmissionLimiter(hc.RateLimit, hc.RateBurst)
	}
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Exchange:      a.httpx,
		Metrics:       a.metrics.Handler(),
		AdminPath:     adminPath,
		Admin:         admin,
		AdminNetworks: a.cfg.Server.Admin.AllowedNetworks,
		Health:        func() int { return a.registry.Count("") },
		Observer:      a.metrics,
		Limiter:       limiter,
		Logger:        a.logger,
	})
	a.http = httpserver.New(hc.Addr, router, a.tlsConfig, a.logger)
}

// accept runs the listener side of one transport connection.
func (a *app) accept(ctx context.Context, conn transport.Conn) {
	if err := a.engine.Accept(ctx, conn, a.negotiator); err != nil {
		a.logger.Info("session ended", "peer", conn.Peer(), "transport", conn.Kind().String(), "reason", err)
	}
}

// start launches listeners and background watchers.
func (a *app) start(ctx context.Context) error {
	if a.certs != nil {
		go func() {
			if err := a.certs.Run(ctx); err != nil {
				a.logger.Warn("certificate watcher stopped", "error", err)
			}
		}()
	}
	go func() {
		if err := a.source.Watch(ctx); err != nil {
			a.logger.Warn("record directory watch disabled", "error", err)
		}
	}()

	if a.channel != nil {
		if err := a.channel.Start(ctx); err != nil {
			return fmt.Errorf("start channel listener: %w", err)
		}
		a.sd.OnShutdown("channel", a.channel.Shutdown)
	}
	if a.http != nil {
		a.httpx.Start(ctx)
		if err := a.http.Start(); err != nil {
			return fmt.Errorf("start http listener: %w", err)
		}
		a.sd.OnShutdown("httpx", a.httpx.Shutdown)
		a.sd.OnShutdown("http", a.http.Shutdown)
	}
	return nil
}

// applyReload pushes reloadable settings into the running components.
func (a *app) applyReload(cfg *config.ServerConfig) error {
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	a.engine.SetLedgerLimits(cfg.Ledger.MaxPending, cfg.Ledger.PendingTimeout)
	a.registry.SetLimit(cfg.Session.MaxConcurrent)
	rules, err := cfg.Session.PeerRules()
	if err != nil {
		return err
	}
	if err := a.authorizer.SetRules(rules); err != nil {
		return err
	}
	a.logger.Info("configuration reloaded",
		"log_level", cfg.Log.Level,
		"max_pending", cfg.Ledger.MaxPending,
		"pending_timeout", cfg.Ledger.PendingTimeout,
		"max_concurrent", cfg.Session.MaxConcurrent,
		"peer_rules", len(rules),
	)
	return nil
}
