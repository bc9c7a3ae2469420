package httpx

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/transport"
)

// outbox buffers encoded frames for the client until it polls.
type outbox struct {
	max  int
	done <-chan struct{}

	mu  sync.Mutex
	buf []byte

	avail chan struct{}
	space chan struct{}
}

func newOutbox(max int, done <-chan struct{}) *outbox {
	return &outbox{
		max:   max,
		done:  done,
		avail: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

// WriteFrame blocks while the buffer is full.
func (o *outbox) WriteFrame(ctx context.Context, f transport.Frame) error {
	enc := transport.AppendFrame(nil, f)
	for {
		o.mu.Lock()
		if len(o.buf) == 0 || len(o.buf)+len(enc) <= o.max {
			o.buf = append(o.buf, enc...)
			o.mu.Unlock()
			notify(o.avail)
			return nil
		}
		o.mu.Unlock()

		select {
		case <-o.space:
		case <-o.done:
			return domain.ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// take returns everything buffered, waiting up to wait for the first frame.
func (o *outbox) take(ctx context.Context, wait time.Duration) []byte {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		o.mu.Lock()
		if len(o.buf) > 0 {
			out := o.buf
			o.buf = nil
			o.mu.Unlock()
			notify(o.space)
			return out
		}
		o.mu.Unlock()

		select {
		case <-o.avail:
		case <-timer.C:
			return nil
		case <-o.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *outbox) empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf) == 0
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
