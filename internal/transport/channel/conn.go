package channel

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/jalsync-go/internal/transport"
)

type conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	cfg     *Config
	logger  *slog.Logger
	mux     *transport.Mux
}

func newConn(nc net.Conn, cfg *Config, logger *slog.Logger) *conn {
	c := &conn{
		netConn: nc,
		br:      bufio.NewReaderSize(nc, transport.MaxFramePayload),
		bw:      bufio.NewWriterSize(nc, transport.MaxFramePayload),
		cfg:     cfg,
		logger:  logger.With("remote", nc.RemoteAddr().String()),
	}
	c.mux = transport.NewMux(transport.KindChannel, transport.PeerHost(nc.RemoteAddr().String()),
		transport.FrameWriterFunc(c.writeFrame), nc.Close)
	return c
}

func (c *conn) writeFrame(_ context.Context, f transport.Frame) error {
	if err := c.netConn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := transport.WriteFrame(c.bw, f); err != nil {
		return err
	}
	return c.bw.Flush()
}

// readLoop feeds inbound frames to the mux until the connection fails.
func (c *conn) readLoop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.mux.Done():
			cancel()
		case <-ctx.Done():
			c.mux.Fail(ctx.Err())
		}
	}()

	for {
		// Between frames the connection may sit idle.
		var idle time.Time
		if c.cfg.IdleTimeout > 0 {
			idle = time.Now().Add(c.cfg.IdleTimeout)
		}
		if err := c.netConn.SetReadDeadline(idle); err != nil {
			c.mux.Fail(err)
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			c.fail(err)
			return
		}

		if err := c.netConn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.mux.Fail(err)
			return
		}
		f, err := transport.ReadFrame(c.br)
		if err != nil {
			c.fail(err)
			return
		}
		if err := c.mux.Deliver(ctx, f); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *conn) fail(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug("connection closed by peer")
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logger.Debug("connection timed out")
		} else {
			c.logger.Warn("connection read error", "error", err)
		}
	}
	c.mux.Fail(err)
}
