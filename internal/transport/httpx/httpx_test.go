package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/transport"
)

func startServer(t *testing.T, cfg *ServerConfig, h transport.Handler) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle(ExchangePath, srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return srv, ts.URL
}

func TestHTTP_RecordUploadAndReply(t *testing.T) {
	got := make(chan []byte, 1)
	_, url := startServer(t, &ServerConfig{PollWait: 200 * time.Millisecond}, func(ctx context.Context, c transport.Conn) {
		m, err := c.Receive(ctx, transport.ChannelRecord)
		if err != nil {
			return
		}
		data, _ := io.ReadAll(m.Body)
		m.Close()
		got <- data
		_ = transport.SendMessage(ctx, c, transport.ChannelDigest, &wire.Digest{
			Entries: []wire.DigestEntry{{RecordID: "a-1", Digest: []byte{0xde, 0xad}}},
		})
		<-c.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := NewDialer(nil, nil).Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, transport.KindHTTP, c.Kind())

	payload := bytes.Repeat([]byte("audit "), 30000)
	h := wire.Headers{}
	h.Set(wire.HeaderMessage, wire.MsgAuditRecord)
	require.NoError(t, c.Send(ctx, transport.ChannelRecord, h, bytes.NewReader(payload)))
	assert.Equal(t, payload, <-got)

	msg, err := transport.ReceiveMessage(ctx, c, transport.ChannelDigest)
	require.NoError(t, err)
	d := msg.(*wire.Digest)
	require.Len(t, d.Entries, 1)
	assert.Equal(t, "a-1", d.Entries[0].RecordID)
	assert.Equal(t, []byte{0xde, 0xad}, d.Entries[0].Digest)
}

func TestHTTP_ServerCloseEndsClient(t *testing.T) {
	_, url := startServer(t, &ServerConfig{PollWait: 100 * time.Millisecond}, func(ctx context.Context, c transport.Conn) {
		_ = transport.SendMessage(ctx, c, transport.ChannelControl, &wire.CloseSession{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := NewDialer(nil, nil).Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	msg, err := transport.ReceiveMessage(ctx, c, transport.ChannelControl)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgCloseSession, msg.Type())

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("client not closed after server handler returned")
	}
}

func TestHTTP_UnknownConnection(t *testing.T) {
	_, url := startServer(t, nil, func(ctx context.Context, c transport.Conn) { <-c.Done() })

	req, err := http.NewRequest(http.MethodPost, url+ExchangePath, http.NoBody)
	require.NoError(t, err)
	req.Header.Set(wire.HeaderConnectionID, "jalc-missing")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, domain.ErrTransportClosed.Code, resp.Header.Get("X-Error-Code"))
}

func TestHTTP_CorruptFrameFailsConnection(t *testing.T) {
	srv, url := startServer(t, nil, func(ctx context.Context, c transport.Conn) { <-c.Done() })

	resp, err := http.Post(url+ExchangePath, contentType, http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	id := resp.Header.Get(wire.HeaderConnectionID)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, srv.Count())

	enc := transport.AppendFrame(nil, transport.Frame{Channel: transport.ChannelDigest, Flags: transport.FlagHeaders, Payload: []byte("x")})
	enc[len(enc)-1] ^= 0xFF
	req, err := http.NewRequest(http.MethodPost, url+ExchangePath, bytes.NewReader(enc))
	require.NoError(t, err)
	req.Header.Set(wire.HeaderConnectionID, id)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.ErrFrameCorrupt.Code, resp.Header.Get("X-Error-Code"))
}

func TestServer_ReapIdle(t *testing.T) {
	srv := NewServer(&ServerConfig{IdleTimeout: time.Minute}, func(ctx context.Context, c transport.Conn) { <-c.Done() }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, ExchangePath, http.NoBody)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	id := rec.Header().Get(wire.HeaderConnectionID)
	c, ok := srv.conns.Get(id)
	require.True(t, ok)

	srv.reap(time.Now())
	assert.Equal(t, 1, srv.Count())

	srv.reap(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, srv.Count())
	<-c.mux.Done()
}
