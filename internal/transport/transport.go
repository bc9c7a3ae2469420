package transport

import (
	"bytes"
	"context"
	"io"
	"net"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
)

// Kind tags the transport variant at the adapter boundary.
type Kind = domain.TransportKind

const (
	KindChannel = domain.TransportChannel
	KindHTTP    = domain.TransportHTTP
)

// ChannelID selects a logical channel.
type ChannelID uint8

const (
	ChannelControl ChannelID = iota
	ChannelRecord
	ChannelDigest

	numChannels = 3
)

func (c ChannelID) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelRecord:
		return "record"
	case ChannelDigest:
		return "digest"
	default:
		return "invalid"
	}
}

// DefaultMaxBody bounds bodies read into memory with Message.ReadBody.
const DefaultMaxBody = 16 << 20

// Conn is one transport connection between two peers.
type Conn interface {
	Kind() Kind
	// Peer identifies the remote host. It is stable across reconnects, so
	// it carries no port.
	Peer() string
	// Send writes one message. body may be nil. Messages on the same
	// channel never interleave.
	Send(ctx context.Context, ch ChannelID, h wire.Headers, body io.Reader) error
	// Receive returns the next message on ch. The caller must Close it.
	Receive(ctx context.Context, ch ChannelID) (*Message, error)
	Close() error
	// Done is closed once the connection is closed.
	Done() <-chan struct{}
}

// PeerHost strips the port from a socket address. Anything that is not
// "host:port" is returned unchanged.
func PeerHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Handler serves one inbound connection. The connection is closed when it
// returns.
type Handler func(ctx context.Context, c Conn)

// Dialer opens outbound connections.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Message is a received message. Body streams until the sender's last frame.
type Message struct {
	Headers wire.Headers
	Body    io.Reader
	closer  func()
}

// NewMessage wraps headers and an optional body.
func NewMessage(h wire.Headers, body io.Reader, closer func()) *Message {
	if body == nil {
		body = bytes.NewReader(nil)
	}
	return &Message{Headers: h, Body: body, closer: closer}
}

// Type returns the JAL-Message value.
func (m *Message) Type() string {
	return m.Headers.MessageType()
}

// ReadBody reads the whole body, failing beyond max bytes.
func (m *Message) ReadBody(max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(m.Body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, domain.ErrMalformedBody.WithDetailsf("body exceeds %d bytes", max)
	}
	return data, nil
}

// Decode reads the body and decodes the message. Record messages decode
// to their header only; use Body for the record itself.
func (m *Message) Decode() (wire.Message, error) {
	if wire.IsRecordMessage(m.Type()) {
		return wire.Decode(m.Headers, nil)
	}
	body, err := m.ReadBody(DefaultMaxBody)
	if err != nil {
		return nil, err
	}
	return wire.Decode(m.Headers, body)
}

// Close discards any unread body.
func (m *Message) Close() {
	if m.closer != nil {
		m.closer()
		m.closer = nil
	}
}

// SendMessage encodes a typed message and sends it.
func SendMessage(ctx context.Context, c Conn, ch ChannelID, msg wire.Message) error {
	var body io.Reader
	if bm, ok := msg.(wire.BodyMessage); ok {
		body = bytes.NewReader(bm.Body())
	}
	return c.Send(ctx, ch, msg.Headers(), body)
}

// ReceiveMessage receives and decodes the next non-record message on ch.
func ReceiveMessage(ctx context.Context, c Conn, ch ChannelID) (wire.Message, error) {
	m, err := c.Receive(ctx, ch)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return m.Decode()
}
