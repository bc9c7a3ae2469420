package adminrpc

import (
	"context"

	"github.com/yndnr/jalsync-go/internal/core/service"
)

// PendingCounter reports persisted digest counts per session key.
type PendingCounter interface {
	PendingCounts(ctx context.Context) (map[string]int, error)
}

// EngineBackend serves the admin service from a running engine.
type EngineBackend struct {
	Engine   *service.Engine
	Registry *service.SessionRegistry
	// Store may be nil when the server keeps no state.
	Store PendingCounter
}

// Sessions implements Backend.
func (b *EngineBackend) Sessions() []SessionInfo {
	list := b.Registry.List()
	out := make([]SessionInfo, len(list))
	for i, s := range list {
		out[i] = SessionInfoFrom(s.Snapshot())
	}
	return out
}

// Evict implements Backend.
func (b *EngineBackend) Evict(_ context.Context, id string) bool {
	if b.Engine.Stop(id) {
		return true
	}
	return b.Registry.Remove(id)
}

// Ledger implements Backend.
func (b *EngineBackend) Ledger(ctx context.Context) (LedgerReport, error) {
	running, total := b.Engine.Stats()
	r := LedgerReport{
		Running:   running,
		Pending:   total.Pending,
		InFlight:  total.InFlight,
		Persisted: map[string]int{},
	}
	if b.Store == nil {
		return r, nil
	}
	counts, err := b.Store.PendingCounts(ctx)
	if err != nil {
		return r, err
	}
	r.Persisted = counts
	return r, nil
}
