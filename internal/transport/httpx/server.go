package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/transport"
	"github.com/yndnr/jalsync-go/pkg/cmap"
)

// ExchangePath is the single endpoint of the HTTP transport.
const ExchangePath = "/jalop/v2/exchange"

const contentType = "application/octet-stream"

// ServerConfig configures the server side of the HTTP transport.
type ServerConfig struct {
	// PollWait is how long an empty POST waits for outbound frames.
	PollWait time.Duration
	// IdleTimeout reaps connections the client has not contacted for this long.
	IdleTimeout time.Duration
	// MaxOutbox bounds the bytes queued for one client.
	MaxOutbox int
}

// DefaultServerConfig returns the default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		PollWait:    5 * time.Second,
		IdleTimeout: 2 * time.Minute,
		MaxOutbox:   4 << 20,
	}
}

type httpConn struct {
	id       string
	mux      *transport.Mux
	out      *outbox
	lastSeen atomic.Int64
	served   atomic.Bool
}

func (c *httpConn) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// Server is the http.Handler for ExchangePath.
type Server struct {
	cfg     *ServerConfig
	handler transport.Handler
	logger  *slog.Logger
	conns   *cmap.Map[*httpConn]

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates the exchange handler. Start must be called before
// connections are accepted.
func NewServer(cfg *ServerConfig, handler transport.Handler, logger *slog.Logger) *Server {
	def := DefaultServerConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.PollWait <= 0 {
		c.PollWait = def.PollWait
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxOutbox <= 0 {
		c.MaxOutbox = def.MaxOutbox
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     &c,
		handler: handler,
		logger:  logger.With("transport", "http"),
		conns:   cmap.New[*httpConn](),
	}
}

// Start runs the idle reaper until Shutdown or ctx ends.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reapLoop(s.ctx)
	}()
}

// Shutdown closes every connection and waits for their handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	for _, c := range s.conns.Values() {
		_ = c.mux.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of tracked connections.
func (s *Server) Count() int { return s.conns.Count() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		s.serveDelete(w, r)
		return
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, created, err := s.lookupOrCreate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c.touch()
	w.Header().Set(wire.HeaderConnectionID, c.id)

	n, err := s.deliver(r.Context(), c, r.Body)
	if err != nil {
		s.logger.Warn("exchange request failed", "connection_id", c.id, "error", err)
		c.mux.Fail(err)
		writeError(w, err)
		return
	}
	if n > 0 || created {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.poll(w, r, c)
}

func (s *Server) lookupOrCreate(r *http.Request) (*httpConn, bool, error) {
	if id := r.Header.Get(wire.HeaderConnectionID); id != "" {
		c, ok := s.conns.Get(id)
		if !ok {
			return nil, false, domain.ErrTransportClosed.WithDetailsf("unknown connection %s", id)
		}
		return c, false, nil
	}

	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return nil, false, domain.ErrTransportClosed.WithDetails("server not running")
	}

	id, err := domain.GenerateConnectionID()
	if err != nil {
		return nil, false, domain.ErrInternalServer.WithCause(err)
	}
	c := &httpConn{id: id}
	done := make(chan struct{})
	c.out = newOutbox(s.cfg.MaxOutbox, done)
	c.mux = transport.NewMux(transport.KindHTTP, peerOf(r), c.out, func() error {
		close(done)
		return nil
	})
	c.touch()
	s.conns.Set(id, c)
	s.logger.Debug("connection opened", "connection_id", id, "peer", c.mux.Peer())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer c.served.Store(true)
		defer c.mux.Close()
		s.handler(base, c.mux)
	}()
	return c, true, nil
}

// deliver feeds the request body frames to the connection.
func (s *Server) deliver(ctx context.Context, c *httpConn, body io.Reader) (int, error) {
	n := 0
	for {
		f, err := transport.ReadFrame(body)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := c.mux.Deliver(ctx, f); err != nil {
			return n, err
		}
		n++
	}
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request, c *httpConn) {
	data := c.out.take(r.Context(), s.cfg.PollWait)
	if len(data) == 0 {
		select {
		case <-c.mux.Done():
			s.conns.Delete(c.id)
			writeError(w, domain.ErrTransportClosed)
			return
		default:
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		c.mux.Fail(err)
	}
}

func (s *Server) serveDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(wire.HeaderConnectionID)
	if c, ok := s.conns.Pop(id); ok {
		_ = c.mux.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap(time.Now())
		}
	}
}

func (s *Server) reap(now time.Time) {
	cutoff := now.Add(-s.cfg.IdleTimeout).UnixNano()
	var idle []*httpConn
	s.conns.Range(func(_ string, c *httpConn) bool {
		if c.lastSeen.Load() < cutoff || (c.served.Load() && c.out.empty()) {
			idle = append(idle, c)
		}
		return true
	})
	for _, c := range idle {
		s.conns.Delete(c.id)
		c.mux.Fail(domain.ErrTransportClosed.WithDetails("idle"))
		s.logger.Debug("connection reaped", "connection_id", c.id)
	}
}

// peerOf names the remote host from the socket address. Forwarding headers
// are ignored.
func peerOf(r *http.Request) string {
	return transport.PeerHost(r.RemoteAddr)
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.GetErrorCode(err)
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, domain.ErrTransportClosed):
		status = http.StatusGone
	case errors.Is(err, domain.ErrInternalServer):
		status = http.StatusInternalServerError
	}
	w.Header().Set("X-Error-Code", code)
	http.Error(w, err.Error(), status)
}
