package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
)

// FrameWriter writes encoded frames to the peer. Mux serializes calls.
type FrameWriter interface {
	WriteFrame(ctx context.Context, f Frame) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(ctx context.Context, f Frame) error

func (fn FrameWriterFunc) WriteFrame(ctx context.Context, f Frame) error { return fn(ctx, f) }

const inboxDepth = 16

type inbound struct {
	msg *Message
	pw  *io.PipeWriter
}

// Mux implements Conn over a frame stream. Inbound frames are handed to
// Deliver by a single reader; outbound messages are cut into frames.
type Mux struct {
	kind Kind
	peer string
	w    FrameWriter

	wmu  sync.Mutex
	smu  [numChannels]sync.Mutex
	dmu  sync.Mutex
	pmu  sync.Mutex
	cur  [numChannels]*inbound
	box  [numChannels]chan *Message
	done chan struct{}

	closeOnce sync.Once
	onClose   func() error
	errMu     sync.Mutex
	err       error
}

// NewMux creates a multiplexer writing through w. onClose releases the
// underlying connection and may be nil.
func NewMux(kind Kind, peer string, w FrameWriter, onClose func() error) *Mux {
	m := &Mux{
		kind:    kind,
		peer:    peer,
		w:       w,
		done:    make(chan struct{}),
		onClose: onClose,
	}
	for i := range m.box {
		m.box[i] = make(chan *Message, inboxDepth)
	}
	return m
}

func (m *Mux) Kind() Kind            { return m.kind }
func (m *Mux) Peer() string          { return m.peer }
func (m *Mux) Done() <-chan struct{} { return m.done }

// Err returns the reason the connection closed, if any.
func (m *Mux) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Deliver routes one inbound frame. It blocks while the receiver of the
// current message body lags behind.
func (m *Mux) Deliver(ctx context.Context, f Frame) error {
	if f.Channel >= numChannels {
		return domain.ErrFrameCorrupt.WithDetailsf("channel %d", f.Channel)
	}
	m.dmu.Lock()
	defer m.dmu.Unlock()

	ch := f.Channel
	m.pmu.Lock()
	in := m.cur[ch]
	m.pmu.Unlock()
	if f.Flags&FlagHeaders != 0 {
		if in != nil {
			return domain.ErrFrameCorrupt.WithDetailsf("%s: message started before previous ended", ch)
		}
		h, err := wire.UnmarshalHeaders(f.Payload)
		if err != nil {
			return err
		}
		pr, pw := io.Pipe()
		msg := NewMessage(h, pr, func() { _ = pr.Close() })
		select {
		case m.box[ch] <- msg:
		case <-m.done:
			return domain.ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
		if f.Flags&FlagEnd != 0 {
			_ = pw.Close()
			return nil
		}
		m.pmu.Lock()
		m.cur[ch] = &inbound{msg: msg, pw: pw}
		m.pmu.Unlock()
		return nil
	}

	if in == nil {
		return domain.ErrFrameCorrupt.WithDetailsf("%s: body frame without message", ch)
	}
	if len(f.Payload) > 0 {
		// A receiver that closed the message discards the rest of it.
		if _, err := in.pw.Write(f.Payload); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
	if f.Flags&FlagEnd != 0 {
		_ = in.pw.Close()
		m.pmu.Lock()
		m.cur[ch] = nil
		m.pmu.Unlock()
	}
	return nil
}

// Send implements Conn.
func (m *Mux) Send(ctx context.Context, ch ChannelID, h wire.Headers, body io.Reader) error {
	if ch >= numChannels {
		return domain.ErrInvalidArgument.WithDetailsf("channel %d", ch)
	}
	hdr, err := wire.MarshalHeaders(h)
	if err != nil {
		return err
	}
	if len(hdr) > MaxFramePayload {
		return domain.ErrMalformedBody.WithDetails("header block exceeds frame size")
	}

	m.smu[ch].Lock()
	defer m.smu[ch].Unlock()

	flags := FlagHeaders
	if body == nil {
		flags |= FlagEnd
	}
	if err := m.write(ctx, Frame{Channel: ch, Flags: flags, Payload: hdr}); err != nil {
		return err
	}
	if body == nil {
		return nil
	}

	buf := make([]byte, MaxFramePayload)
	for {
		n, rerr := io.ReadFull(body, buf)
		last := rerr == io.EOF || rerr == io.ErrUnexpectedEOF
		if rerr != nil && !last {
			// The peer is mid-message; end it so its reader sees a short body.
			_ = m.write(ctx, Frame{Channel: ch, Flags: FlagEnd})
			return rerr
		}
		f := Frame{Channel: ch, Payload: buf[:n]}
		if last {
			f.Flags = FlagEnd
		}
		if err := m.write(ctx, f); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

func (m *Mux) write(ctx context.Context, f Frame) error {
	select {
	case <-m.done:
		return domain.ErrTransportClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := m.w.WriteFrame(ctx, f); err != nil {
		m.Fail(err)
		return domain.ErrTransportClosed.WithCause(err)
	}
	return nil
}

// Receive implements Conn.
func (m *Mux) Receive(ctx context.Context, ch ChannelID) (*Message, error) {
	if ch >= numChannels {
		return nil, domain.ErrInvalidArgument.WithDetailsf("channel %d", ch)
	}
	select {
	case msg := <-m.box[ch]:
		return msg, nil
	default:
	}
	select {
	case msg := <-m.box[ch]:
		return msg, nil
	case <-m.done:
		return nil, domain.ErrTransportClosed.WithCause(m.Err())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fail closes the connection, recording err as the cause.
func (m *Mux) Fail(err error) {
	m.errMu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.errMu.Unlock()
	_ = m.Close()
}

// Close implements Conn.
func (m *Mux) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.pmu.Lock()
		for i, in := range m.cur {
			if in != nil {
				_ = in.pw.CloseWithError(domain.ErrTransportClosed)
				m.cur[i] = nil
			}
		}
		m.pmu.Unlock()
		if m.onClose != nil {
			err = m.onClose()
		}
	})
	return err
}
