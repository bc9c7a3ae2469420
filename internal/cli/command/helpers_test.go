package command

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/server/adminrpc"
)

type fakeBackend struct {
	mu       sync.Mutex
	sessions []adminrpc.SessionInfo
	evicted  []string
	report   adminrpc.LedgerReport
}

func (f *fakeBackend) Sessions() []adminrpc.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adminrpc.SessionInfo(nil), f.sessions...)
}

func (f *fakeBackend) Evict(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sessions {
		if s.ID == id {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			f.evicted = append(f.evicted, id)
			return true
		}
	}
	return false
}

func (f *fakeBackend) Ledger(context.Context) (adminrpc.LedgerReport, error) {
	return f.report, nil
}

// newAdminServer serves b over the admin RPC.
func newAdminServer(t *testing.T, b adminrpc.Backend) *httptest.Server {
	t.Helper()
	path, h := adminrpc.NewHandler(b, nil)
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// runApp runs the CLI with a config path that does not exist, so only
// flags and defaults apply.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	argv := append([]string{"jalsync-cli", "--config", filepath.Join(t.TempDir(), "cli.yaml")}, args...)
	err := app.Run(argv)
	return stdout.String(), err
}

func sampleSessions() []adminrpc.SessionInfo {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id1, _ := domain.GenerateSessionID()
	id2, _ := domain.GenerateSessionID()
	return []adminrpc.SessionInfo{
		{ID: id1, Role: "subscriber", RecordType: "log", Mode: "archive", Digest: "sha256", XMLCompression: "none",
			Peer: "192.0.2.10:4100", Transport: "channel", CreatedAt: created, LastTouched: created, OK: true},
		{ID: id2, Role: "publisher", RecordType: "audit", Mode: "live", Digest: "sha256", XMLCompression: "none",
			Peer: "192.0.2.11:4100", Transport: "http", CreatedAt: created.Add(time.Minute), LastTouched: created.Add(time.Minute)},
	}
}

// captureFlagsCommand captures the parsed global flags.
func captureFlagsCommand(dst **GlobalFlags) *cli.Command {
	return &cli.Command{
		Name: "capture-flags",
		Action: func(c *cli.Context) error {
			g, err := ParseGlobalFlags(c)
			*dst = g
			return err
		},
	}
}
