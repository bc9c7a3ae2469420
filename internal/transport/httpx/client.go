package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/transport"
)

// ClientConfig configures the client side of the HTTP transport.
type ClientConfig struct {
	// Client defaults to a client without overall timeout, since polls and
	// record uploads are long-lived.
	Client *http.Client
	// PollInterval is the pause between polls that returned nothing.
	PollInterval time.Duration
	// MaxPollErrors consecutive failed polls close the connection.
	MaxPollErrors int
}

// Dialer opens HTTP transport connections.
type Dialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a dialer.
func NewDialer(cfg *ClientConfig, logger *slog.Logger) *Dialer {
	var c ClientConfig
	if cfg != nil {
		c = *cfg
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: c, logger: logger.With("transport", "http")}
}

type pendingPost struct {
	pw   *io.PipeWriter
	done chan error
}

type clientConn struct {
	d      *Dialer
	url    string
	id     string
	mux    *transport.Mux
	cancel context.CancelFunc

	mu    sync.Mutex
	posts [3]*pendingPost
}

func (c *clientConn) swapPost(ch transport.ChannelID, p *pendingPost) *pendingPost {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.posts[ch]
	c.posts[ch] = p
	return old
}

// Dial opens a connection to the server at base, e.g. "http://host:8080".
func (d *Dialer) Dial(ctx context.Context, base string) (transport.Conn, error) {
	url := strings.TrimRight(base, "/") + ExchangePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return nil, domain.ErrTransportClosed.WithCause(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}
	id := resp.Header.Get(wire.HeaderConnectionID)
	if id == "" {
		return nil, domain.ErrMissingHeader.WithDetails(wire.HeaderConnectionID)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c := &clientConn{d: d, url: url, id: id, cancel: cancel}
	c.mux = transport.NewMux(transport.KindHTTP, base, transport.FrameWriterFunc(c.writeFrame), c.close)
	go c.pollLoop(pollCtx)
	return c.mux, nil
}

// writeFrame streams the frames of one message into one POST. The end
// frame waits for the server to accept the message so messages on a
// channel arrive in order.
func (c *clientConn) writeFrame(ctx context.Context, f transport.Frame) error {
	enc := transport.AppendFrame(nil, f)
	c.mu.Lock()
	p := c.posts[f.Channel]
	c.mu.Unlock()
	if f.Flags&transport.FlagHeaders != 0 {
		if p != nil {
			return domain.ErrFrameCorrupt.WithDetails("message started before previous ended")
		}
		p = c.startPost()
		c.swapPost(f.Channel, p)
	}
	if p == nil {
		return domain.ErrFrameCorrupt.WithDetails("body frame without message")
	}
	if _, err := p.pw.Write(enc); err != nil {
		c.swapPost(f.Channel, nil)
		return err
	}
	if f.Flags&transport.FlagEnd == 0 {
		return nil
	}

	c.swapPost(f.Channel, nil)
	_ = p.pw.Close()
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *clientConn) startPost() *pendingPost {
	pr, pw := io.Pipe()
	p := &pendingPost{pw: pw, done: make(chan error, 1)}
	go func() {
		err := c.post(pr)
		_ = pr.CloseWithError(err)
		p.done <- err
	}()
	return p
}

func (c *clientConn) post(body io.Reader) error {
	req, err := http.NewRequest(http.MethodPost, c.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(wire.HeaderConnectionID, c.id)
	resp, err := c.d.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return statusError(resp)
}

func (c *clientConn) pollLoop(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		n, err := c.poll(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, domain.ErrTransportClosed), ctx.Err() != nil:
			c.mux.Fail(err)
			return
		default:
			failures++
			c.d.logger.Warn("poll failed", "connection_id", c.id, "error", err, "failures", failures)
			if failures >= c.d.cfg.MaxPollErrors {
				c.mux.Fail(err)
				return
			}
		}
		if n == 0 {
			select {
			case <-time.After(c.d.cfg.PollInterval):
			case <-ctx.Done():
			}
		}
	}
}

// poll fetches queued frames and delivers them. It returns the number of
// frames delivered.
func (c *clientConn) poll(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, http.NoBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set(wire.HeaderConnectionID, c.id)
	resp, err := c.d.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return 0, err
	}

	n := 0
	for {
		f, err := transport.ReadFrame(resp.Body)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, domain.ErrTransportClosed.WithCause(err)
		}
		if err := c.mux.Deliver(ctx, f); err != nil {
			return n, domain.ErrTransportClosed.WithCause(err)
		}
		n++
	}
}

func (c *clientConn) close() error {
	c.cancel()
	for ch := range c.posts {
		if p := c.swapPost(transport.ChannelID(ch), nil); p != nil {
			_ = p.pw.CloseWithError(domain.ErrTransportClosed)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set(wire.HeaderConnectionID, c.id)
	if resp, err := c.d.cfg.Client.Do(req); err == nil {
		resp.Body.Close()
	}
	return nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone:
		return domain.ErrTransportClosed.WithDetails(resp.Header.Get("X-Error-Code"))
	default:
		return fmt.Errorf("exchange: unexpected status %s", resp.Status)
	}
}

var _ transport.Dialer = (*Dialer)(nil)
