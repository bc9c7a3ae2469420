package connection

import (
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/jalsync-go/internal/server/adminrpc"
)

// DefaultTimeout bounds one admin call.
const DefaultTimeout = 30 * time.Second

// BaseURL adds http:// when server carries no scheme.
func BaseURL(server string) string {
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	return strings.TrimRight(server, "/")
}

// NewAdminClient returns an admin client for server, e.g. "localhost:5080".
func NewAdminClient(server, token string, timeout time.Duration) *adminrpc.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return adminrpc.NewClient(&http.Client{Timeout: timeout}, BaseURL(server), token)
}
