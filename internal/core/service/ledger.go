package service

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
)

// Ledger defaults.
const (
	DefaultMaxPending     = 128
	DefaultPendingTimeout = 120 * time.Second
)

// PendingStore persists ledger entries so they survive a disconnect.
type PendingStore interface {
	SavePending(ctx context.Context, key string, pd domain.PendingDigest) error
	DeletePending(ctx context.Context, key, id string) error
	LoadPending(ctx context.Context, key string) ([]domain.PendingDigest, error)
}

// LedgerConfig configures a DigestLedger.
type LedgerConfig struct {
	// MaxPending triggers a batch when this many entries wait to be sent.
	MaxPending int
	// Timeout triggers a batch when it elapses without one.
	Timeout time.Duration

	Store  PendingStore
	Key    string
	Logger *slog.Logger
	Clock  func() time.Time
}

// LedgerStats is a point-in-time view of the ledger.
type LedgerStats struct {
	Pending  int
	InFlight int
}

// DigestLedger holds digests awaiting reconciliation, oldest first. An
// entry leaves the ledger only when a peer reports an outcome for it.
type DigestLedger struct {
	cfg    LedgerConfig
	logger *slog.Logger

	mu      sync.Mutex
	order   *list.List // of *domain.PendingDigest
	entries map[string]*list.Element

	ready chan struct{}
}

// NewDigestLedger creates an empty ledger.
func NewDigestLedger(cfg LedgerConfig) *DigestLedger {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPendingTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestLedger{
		cfg:     cfg,
		logger:  logger.With("component", "ledger", "key", cfg.Key),
		order:   list.New(),
		entries: make(map[string]*list.Element),
		ready:   make(chan struct{}, 1),
	}
}

// Preload restores entries persisted by an earlier session with the same key.
func (l *DigestLedger) Preload(ctx context.Context) (int, error) {
	if l.cfg.Store == nil {
		return 0, nil
	}
	saved, err := l.cfg.Store.LoadPending(ctx, l.cfg.Key)
	if err != nil {
		return 0, domain.ErrStorageError.WithCause(err)
	}
	l.mu.Lock()
	n := 0
	for _, pd := range saved {
		if _, ok := l.entries[pd.RecordID]; ok {
			continue
		}
		pd.InFlight = false
		pd.SentAt = time.Time{}
		p := pd
		l.entries[pd.RecordID] = l.order.PushBack(&p)
		n++
	}
	waiting := l.waitingLocked()
	l.mu.Unlock()

	if n > 0 {
		l.logger.Info("restored pending digests", "count", n)
		l.signal(waiting)
	}
	return n, nil
}

// Add records a digest for id. Each identifier may be pending at most once.
func (l *DigestLedger) Add(ctx context.Context, id string, digest []byte) error {
	pd := domain.PendingDigest{
		RecordID: id,
		Digest:   bytes.Clone(digest),
		AddedAt:  l.cfg.Clock(),
	}

	l.mu.Lock()
	if _, ok := l.entries[id]; ok {
		l.mu.Unlock()
		return domain.ErrDuplicatePending.WithDetails(id)
	}
	p := pd
	l.entries[id] = l.order.PushBack(&p)
	waiting := l.waitingLocked()
	l.mu.Unlock()

	if l.cfg.Store != nil {
		if err := l.cfg.Store.SavePending(ctx, l.cfg.Key, pd); err != nil {
			l.logger.Warn("persist pending digest failed", "id", id, "error", err)
		}
	}
	l.signal(waiting)
	return nil
}

// NextBatch returns the entries not yet in flight, oldest first, and marks
// them in flight. They stay in the ledger until resolved or requeued.
func (l *DigestLedger) NextBatch() []domain.PendingDigest {
	now := l.cfg.Clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	var batch []domain.PendingDigest
	for e := l.order.Front(); e != nil; e = e.Next() {
		pd := e.Value.(*domain.PendingDigest)
		if pd.InFlight {
			continue
		}
		pd.InFlight = true
		pd.SentAt = now
		batch = append(batch, *pd)
	}
	return batch
}

// Requeue returns in-flight entries to the waiting set.
func (l *DigestLedger) Requeue(ids []string) {
	l.mu.Lock()
	for _, id := range ids {
		if e, ok := l.entries[id]; ok {
			e.Value.(*domain.PendingDigest).InFlight = false
		}
	}
	waiting := l.waitingLocked()
	l.mu.Unlock()
	l.signal(waiting)
}

// ApplyResponse resolves every reported identifier that is still pending
// and requeues in-flight entries the peer did not mention. Identifiers not
// pending are ignored, so applying the same response twice is a no-op.
func (l *DigestLedger) ApplyResponse(ctx context.Context, statuses []wire.DigestStatus) []domain.Resolution {
	l.mu.Lock()
	var out []domain.Resolution
	for _, st := range statuses {
		if _, ok := l.removeLocked(st.RecordID); ok {
			out = append(out, domain.Resolution{RecordID: st.RecordID, Outcome: st.Outcome})
		}
	}
	for e := l.order.Front(); e != nil; e = e.Next() {
		e.Value.(*domain.PendingDigest).InFlight = false
	}
	waiting := l.waitingLocked()
	l.mu.Unlock()

	l.forget(ctx, out)
	l.signal(waiting)
	return out
}

// Reconcile compares a peer batch with the local digests. Matching bytes
// confirm, differing bytes invalidate, and identifiers with no local
// digest are unknown. Local identifiers the peer omitted stay pending.
func (l *DigestLedger) Reconcile(ctx context.Context, peer []wire.DigestEntry) []domain.Resolution {
	l.mu.Lock()
	out := make([]domain.Resolution, 0, len(peer))
	seen := make(map[string]bool, len(peer))
	for _, claim := range peer {
		if seen[claim.RecordID] {
			continue
		}
		seen[claim.RecordID] = true

		outcome := domain.DigestUnknown
		if local, ok := l.removeLocked(claim.RecordID); ok {
			if bytes.Equal(local.Digest, claim.Digest) {
				outcome = domain.DigestConfirmed
			} else {
				outcome = domain.DigestInvalid
			}
		}
		out = append(out, domain.Resolution{RecordID: claim.RecordID, Outcome: outcome})
	}
	l.mu.Unlock()

	l.forget(ctx, out)
	return out
}

// Resolve removes id. The second call for the same id reports false.
func (l *DigestLedger) Resolve(ctx context.Context, id string) (domain.PendingDigest, bool) {
	l.mu.Lock()
	pd, ok := l.removeLocked(id)
	l.mu.Unlock()
	if ok {
		l.forget(ctx, []domain.Resolution{{RecordID: id}})
	}
	return pd, ok
}

// Get returns the pending entry for id.
func (l *DigestLedger) Get(id string) (domain.PendingDigest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		return *e.Value.(*domain.PendingDigest), true
	}
	return domain.PendingDigest{}, false
}

// Drain empties the in-memory ledger and returns its entries oldest first.
// Persisted copies are kept for the next session.
func (l *DigestLedger) Drain() []domain.PendingDigest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PendingDigest, 0, len(l.entries))
	for e := l.order.Front(); e != nil; e = e.Next() {
		pd := *e.Value.(*domain.PendingDigest)
		pd.InFlight = false
		out = append(out, pd)
	}
	l.order.Init()
	l.entries = make(map[string]*list.Element)
	return out
}

// Len returns the number of pending entries.
func (l *DigestLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stats returns pending and in-flight counts.
func (l *DigestLedger) Stats() LedgerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LedgerStats{Pending: len(l.entries)}
	for e := l.order.Front(); e != nil; e = e.Next() {
		if e.Value.(*domain.PendingDigest).InFlight {
			st.InFlight++
		}
	}
	return st
}

// Kick asks the worker to send whatever waits now instead of at the next
// count or timer trigger.
func (l *DigestLedger) Kick() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// ExchangeFunc sends a batch and applies the peer's answer.
type ExchangeFunc func(ctx context.Context, batch []domain.PendingDigest) error

// Run is the digest worker loop. A batch goes out when MaxPending entries
// wait or Timeout elapses, whichever comes first; the timer restarts after
// every batch. A failed exchange requeues its batch. Run returns when ctx
// ends or the exchange reports a closed transport or failed session.
func (l *DigestLedger) Run(ctx context.Context, exchange ExchangeFunc) error {
	timer := time.NewTimer(l.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ready:
		case <-timer.C:
		}

		if batch := l.NextBatch(); len(batch) > 0 {
			if err := exchange(ctx, batch); err != nil {
				l.Requeue(batchIDs(batch))
				if ctx.Err() != nil || errors.Is(err, domain.ErrTransportClosed) || errors.Is(err, domain.ErrSessionFailure) {
					return err
				}
				l.logger.Warn("digest exchange failed, batch requeued", "count", len(batch), "error", err)
			}
		}

		timer.Stop()
		timer.Reset(l.cfg.Timeout)
	}
}

func (l *DigestLedger) removeLocked(id string) (domain.PendingDigest, bool) {
	e, ok := l.entries[id]
	if !ok {
		return domain.PendingDigest{}, false
	}
	delete(l.entries, id)
	pd := l.order.Remove(e).(*domain.PendingDigest)
	return *pd, true
}

func (l *DigestLedger) waitingLocked() int {
	n := 0
	for e := l.order.Front(); e != nil; e = e.Next() {
		if !e.Value.(*domain.PendingDigest).InFlight {
			n++
		}
	}
	return n
}

func (l *DigestLedger) signal(waiting int) {
	if waiting < l.cfg.MaxPending {
		return
	}
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *DigestLedger) forget(ctx context.Context, resolved []domain.Resolution) {
	if l.cfg.Store == nil {
		return
	}
	for _, r := range resolved {
		if err := l.cfg.Store.DeletePending(ctx, l.cfg.Key, r.RecordID); err != nil {
			l.logger.Warn("delete persisted digest failed", "id", r.RecordID, "error", err)
		}
	}
}

func batchIDs(batch []domain.PendingDigest) []string {
	ids := make([]string, len(batch))
	for i, pd := range batch {
		ids[i] = pd.RecordID
	}
	return ids
}
