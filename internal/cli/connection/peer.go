package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/jalsync-go/internal/cli/config"
	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/infra/tlsroots"
	"github.com/yndnr/jalsync-go/internal/transport"
	"github.com/yndnr/jalsync-go/internal/transport/channel"
	"github.com/yndnr/jalsync-go/internal/transport/httpx"
)

// TLSConfig builds the dialer TLS config from the CLI settings. It
// returns nil when no CA file is set.
func TLSConfig(c config.TLSConfig) (*tls.Config, error) {
	if c.CAFile == "" {
		return nil, nil
	}
	pool, err := tlsroots.LoadPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	var certs *tlsroots.Watcher
	if c.CertFile != "" {
		if certs, err = tlsroots.NewWatcher(c.CertFile, c.KeyFile); err != nil {
			return nil, err
		}
	}
	return tlsroots.ClientConfig(pool, certs), nil
}

// DialPeer opens a protocol connection of the given kind. An HTTP address
// without scheme gets http://, or https:// when tlsCfg is set.
func DialPeer(ctx context.Context, kind domain.TransportKind, addr string, tlsCfg *tls.Config, l *slog.Logger) (transport.Conn, error) {
	switch kind {
	case domain.TransportChannel:
		return channel.NewDialer(&channel.Config{TLSConfig: tlsCfg}, l).Dial(ctx, addr)
	case domain.TransportHTTP:
		client := &http.Client{}
		if tlsCfg != nil {
			client.Transport = &http.Transport{TLSClientConfig: tlsCfg}
			if !hasScheme(addr) {
				addr = "https://" + addr
			}
		}
		return httpx.NewDialer(&httpx.ClientConfig{Client: client}, l).Dial(ctx, BaseURL(addr))
	}
	return nil, fmt.Errorf("unsupported transport %v", kind)
}

func hasScheme(addr string) bool {
	return strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://")
}
