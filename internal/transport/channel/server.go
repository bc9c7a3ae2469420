package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/jalsync-go/internal/infra/tlsroots"
	"github.com/yndnr/jalsync-go/internal/transport"
)

// Config holds the channel transport configuration.
type Config struct {
	// Address is the listen address for servers.
	Address string
	// TLSConfig enables TLS when set.
	TLSConfig *tls.Config
	// ReadTimeout bounds reading one frame once its first byte arrived.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing one frame.
	WriteTimeout time.Duration
	// IdleTimeout closes connections with no inbound frame for this long.
	// Zero keeps idle connections open; TCP keepalive still detects dead peers.
	IdleTimeout time.Duration
	// KeepAlive is the TCP keepalive period (default: 30s).
	KeepAlive time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:1234",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		KeepAlive:    30 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	out := *DefaultConfig()
	if c == nil {
		return &out
	}
	cp := *c
	if cp.ReadTimeout <= 0 {
		cp.ReadTimeout = out.ReadTimeout
	}
	if cp.WriteTimeout <= 0 {
		cp.WriteTimeout = out.WriteTimeout
	}
	if cp.KeepAlive == 0 {
		cp.KeepAlive = out.KeepAlive
	}
	return &cp
}

// Server accepts channel connections.
type Server struct {
	cfg     *Config
	handler transport.Handler
	logger  *slog.Logger

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New creates a channel server.
func New(cfg *Config, handler transport.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		handler: handler,
		logger:  logger.With("transport", "channel"),
		conns:   make(map[*conn]struct{}),
	}
}

// Start listens and accepts connections in the background.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{KeepAlive: s.cfg.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.ln = ln
	s.running.Store(true)
	s.logger.Info("channel listener started", "address", ln.Addr().String(), "tls", s.cfg.TLSConfig != nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.logger.Error("channel accept loop error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting, closes live connections and waits for handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}

	s.mu.Lock()
	for c := range s.conns {
		_ = c.mux.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	if tc, ok := nc.(*tls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			s.logger.Warn("tls handshake failed", "remote", nc.RemoteAddr().String(), "error", err)
			_ = nc.Close()
			return
		}
		cs := tc.ConnectionState()
		if name := tlsroots.PeerName(&cs); name != "" {
			s.logger.Info("tls peer authenticated", "remote", nc.RemoteAddr().String(), "subject", name)
		}
	}

	c := newConn(nc, s.cfg, s.logger)
	s.track(c, true)
	defer s.track(c, false)

	read := make(chan struct{})
	go func() {
		defer close(read)
		c.readLoop(ctx)
	}()
	s.handler(ctx, c.mux)
	_ = c.mux.Close()
	<-read
}

func (s *Server) track(c *conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Dialer opens channel connections.
type Dialer struct {
	cfg    *Config
	logger *slog.Logger
}

// NewDialer creates a dialer. cfg.Address is ignored.
func NewDialer(cfg *Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg.withDefaults(), logger: logger.With("transport", "channel")}
}

// Dial connects to addr. The returned connection reads until closed.
func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	nd := &net.Dialer{KeepAlive: d.cfg.KeepAlive}
	var (
		nc  net.Conn
		err error
	)
	if d.cfg.TLSConfig != nil {
		td := &tls.Dialer{NetDialer: nd, Config: d.cfg.TLSConfig}
		nc, err = td.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	c := newConn(nc, d.cfg, d.logger)
	go c.readLoop(context.Background())
	return c.mux, nil
}

var _ transport.Dialer = (*Dialer)(nil)
