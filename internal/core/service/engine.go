package service

import (
	"context"
	"errors"
	"hash"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/digest"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	tlog "github.com/yndnr/jalsync-go/internal/telemetry/logger"
	"github.com/yndnr/jalsync-go/internal/transport"
	"github.com/yndnr/jalsync-go/pkg/cmap"
)

// Engine defaults.
const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultPollInterval    = time.Second
	DefaultCloseGrace      = 10 * time.Second
)

var (
	errSessionClosed = errors.New("session closed")
	errEvicted       = errors.New("session evicted")
)

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	RecordReceived(rt domain.RecordType, result string, bytes int64)
	RecordSent(rt domain.RecordType, bytes int64)
	DigestOutcome(o domain.DigestOutcome)
	DigestBatch(size int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) RecordReceived(domain.RecordType, string, int64) {}
func (NopObserver) RecordSent(domain.RecordType, int64)             {}
func (NopObserver) DigestOutcome(domain.DigestOutcome)              {}
func (NopObserver) DigestBatch(int)                                 {}

// Record results reported to the Observer.
const (
	ResultOK         = "ok"
	ResultIncomplete = "incomplete"
	ResultRejected   = "rejected"
)

// EngineConfig wires an Engine to its collaborators.
type EngineConfig struct {
	// Sink handles Subscriber sessions; Source handles Publisher sessions.
	Sink   RecordSink
	Source RecordSource
	// Handoff receives pending digests and resume state on close.
	Handoff Handoff

	Registry     *SessionRegistry
	Digests      *digest.Registry
	PendingStore PendingStore
	ResumeStore  ResumeStore

	MaxPending     int
	PendingTimeout time.Duration
	// ResponseTimeout bounds waiting for an ack or a digest-response.
	ResponseTimeout time.Duration
	// PollInterval is how often a live Publisher asks an empty source again.
	PollInterval time.Duration
	// CloseGrace bounds waiting for outstanding digests after close-session.
	CloseGrace time.Duration

	Observer Observer
	Logger   *slog.Logger
}

type runningSession struct {
	session *domain.Session
	ledger  *DigestLedger
	cancel  context.CancelCauseFunc
}

// Engine runs established sessions: one record worker and one digest
// worker each, plus a watcher on the control channel.
type Engine struct {
	cfg     EngineConfig
	logger  *slog.Logger
	running *cmap.Map[*runningSession]

	limitsMu       sync.RWMutex
	maxPending     int
	pendingTimeout time.Duration
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Digests == nil {
		cfg.Digests = digest.Default()
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:            cfg,
		logger:         logger.With("component", "engine"),
		running:        cmap.New[*runningSession](),
		maxPending:     cfg.MaxPending,
		pendingTimeout: cfg.PendingTimeout,
	}
}

// SetLedgerLimits changes the batch triggers for sessions started later.
func (e *Engine) SetLedgerLimits(maxPending int, timeout time.Duration) {
	e.limitsMu.Lock()
	e.maxPending, e.pendingTimeout = maxPending, timeout
	e.limitsMu.Unlock()
}

func (e *Engine) ledgerLimits() (int, time.Duration) {
	e.limitsMu.RLock()
	defer e.limitsMu.RUnlock()
	return e.maxPending, e.pendingTimeout
}

// Stop cancels a running session. The peer is told the session limit was
// exceeded. It reports whether the session was running here.
func (e *Engine) Stop(id string) bool {
	rs, ok := e.running.Get(id)
	if !ok {
		return false
	}
	rs.cancel(errEvicted)
	return true
}

// SessionLedger returns the ledger counts of a running session.
func (e *Engine) SessionLedger(id string) (LedgerStats, bool) {
	rs, ok := e.running.Get(id)
	if !ok {
		return LedgerStats{}, false
	}
	return rs.ledger.Stats(), true
}

// Stats sums ledger counts over all running sessions.
func (e *Engine) Stats() (sessions int, total LedgerStats) {
	for _, rs := range e.running.Values() {
		st := rs.ledger.Stats()
		total.Pending += st.Pending
		total.InFlight += st.InFlight
		sessions++
	}
	return sessions, total
}

// Accept runs the listener side of a connection: it waits for an offer,
// answers it and serves the session.
func (e *Engine) Accept(ctx context.Context, conn transport.Conn, neg *Negotiator) error {
	g := neg.Begin(conn.Peer(), conn.Kind())
	if err := g.Listen(); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResponseTimeout)
	msg, err := transport.ReceiveMessage(rctx, conn, transport.ChannelControl)
	cancel()
	if err != nil {
		return err
	}
	offer, ok := msg.(*wire.Initialize)
	if !ok {
		return wire.UnexpectedValue(wire.HeaderMessage, msg.Type())
	}

	out, reply, err := g.Accept(ctx, offer)
	if reply != nil {
		if serr := transport.SendMessage(ctx, conn, transport.ChannelControl, reply); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil {
		if out != nil && e.cfg.Registry != nil {
			e.cfg.Registry.Remove(out.Session.ID)
		}
		return err
	}
	return e.Serve(ctx, conn, out)
}

// Initiate runs the initiator side: it sends an offer for the local role
// and serves the session once the peer acknowledged it.
func (e *Engine) Initiate(ctx context.Context, conn transport.Conn, neg *Negotiator, role domain.Role, rt domain.RecordType, mode domain.Mode) error {
	g := neg.Begin(conn.Peer(), conn.Kind())
	offer, err := g.Offer(role, rt, mode)
	if err != nil {
		return err
	}
	if err := transport.SendMessage(ctx, conn, transport.ChannelControl, offer); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResponseTimeout)
	reply, err := transport.ReceiveMessage(rctx, conn, transport.ChannelControl)
	cancel()
	if err != nil {
		return err
	}
	out, err := g.Complete(ctx, reply)
	if err != nil {
		return err
	}
	return e.Serve(ctx, conn, out)
}

// Serve runs an established session until it closes. A clean close by
// either side returns nil.
func (e *Engine) Serve(ctx context.Context, conn transport.Conn, out *Outcome) error {
	s := out.Session
	ctx, cancel := context.WithCancelCause(tlog.WithSessionID(ctx, s.ID))
	defer cancel(nil)

	maxPending, timeout := e.ledgerLimits()
	logger := e.logger.With("session_id", s.ID, "role", s.Role.String(), "record_type", s.RecordType.String())
	r := &sessionRun{
		e:       e,
		s:       s,
		out:     out,
		conn:    conn,
		obs:     e.cfg.Observer,
		logger:  logger,
		tracker: NewJournalResumeTracker(e.cfg.ResumeStore, s.Key(), logger),
		ledger: NewDigestLedger(LedgerConfig{
			MaxPending: maxPending,
			Timeout:    timeout,
			Store:      e.cfg.PendingStore,
			Key:        s.Key(),
			Logger:     logger,
		}),
	}

	e.running.Set(s.ID, &runningSession{session: s, ledger: r.ledger, cancel: cancel})
	defer e.running.Delete(s.ID)

	logger.Info("session started", "mode", s.Mode.String(), "initiator", out.Initiator, "transport", conn.Kind().String())
	err := r.run(ctx)

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errEvicted):
		r.notifyPeer(&wire.SessionFailure{Reasons: []domain.RejectionReason{domain.ReasonSessionLimitExceeded}})
		err = domain.ErrSessionFailure.WithDetails(string(domain.ReasonSessionLimitExceeded))
	case err == nil && !r.peerClosed.Load() && ctx.Err() != nil:
		r.notifyPeer(&wire.CloseSession{})
	}

	r.handoff(context.WithoutCancel(ctx))
	if e.cfg.Registry != nil {
		e.cfg.Registry.Remove(s.ID)
	}
	_ = conn.Close()

	if err != nil {
		s.SetErrored()
		logger.Warn("session ended", "error", err)
		return err
	}
	logger.Info("session closed")
	return nil
}

// sessionRun is the per-session state shared by its workers.
type sessionRun struct {
	e       *Engine
	s       *domain.Session
	out     *Outcome
	conn    transport.Conn
	ledger  *DigestLedger
	tracker *JournalResumeTracker
	obs     Observer
	logger  *slog.Logger

	// closing is set once close-session was sent or received.
	closing    atomic.Bool
	peerClosed atomic.Bool
	// peerErr is the peer's verdict once peerClosed is set: nil after
	// close-session, a session failure otherwise.
	peerErr    error
	exchangeMu sync.Mutex

	// stopRecords ends the Subscriber record worker once the records
	// already queued are handled; recordsDone closes when it has returned.
	stopRecords context.CancelFunc
	recordsDone chan struct{}
}

func (r *sessionRun) run(ctx context.Context) error {
	switch r.s.Role {
	case domain.RoleSubscriber:
		if r.e.cfg.Sink == nil {
			return domain.ErrInternalServer.WithDetails("no record sink for subscriber session")
		}
		if err := r.startSubscriber(ctx); err != nil {
			return err
		}
	case domain.RolePublisher:
		if r.e.cfg.Source == nil {
			return domain.ErrInternalServer.WithDetails("no record source for publisher session")
		}
	default:
		return domain.ErrInvalidArgument.WithDetailsf("session role %s", r.s.Role)
	}

	if _, err := r.ledger.Preload(ctx); err != nil {
		r.logger.Warn("preload pending digests failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.s.Role == domain.RoleSubscriber {
		recv, stop := context.WithCancel(gctx)
		r.stopRecords = stop
		r.recordsDone = make(chan struct{})
		g.Go(func() error { return r.watchControl(gctx) })
		g.Go(func() error {
			defer stop()
			return r.subscriberRecords(gctx, recv)
		})
		g.Go(func() error { return r.ledger.Run(gctx, r.exchange) })
	} else {
		g.Go(func() error { return r.watchControl(gctx) })
		g.Go(func() error { return r.publisherRecords(gctx) })
		g.Go(func() error { return r.publisherDigests(gctx) })
	}

	err := g.Wait()
	if !r.peerClosed.Load() && errors.Is(err, domain.ErrTransportClosed) {
		r.takeVerdict()
	}
	if r.peerClosed.Load() {
		return r.peerErr
	}
	switch {
	case err == nil, errors.Is(err, errSessionClosed):
		return nil
	case r.closing.Load() && errors.Is(err, domain.ErrTransportClosed):
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	}
	return err
}

// watchControl handles close-session and session-failure from the peer.
func (r *sessionRun) watchControl(ctx context.Context) error {
	for {
		msg, err := transport.ReceiveMessage(ctx, r.conn, transport.ChannelControl)
		if err != nil {
			if fatal(err) {
				return err
			}
			r.logger.Warn("malformed control message", "error", err)
			continue
		}
		if !r.verdict(msg) {
			r.logger.Warn("unexpected control message", "type", msg.Type())
			continue
		}
		if r.peerErr != nil {
			return r.peerErr
		}
		r.logger.Info("peer closed session")
		if r.s.Role == domain.RoleSubscriber {
			r.finishRecords(ctx)
			r.settle(ctx)
		}
		return errSessionClosed
	}
}

// verdict records a close-session or session-failure from the peer.
func (r *sessionRun) verdict(msg wire.Message) bool {
	switch m := msg.(type) {
	case *wire.CloseSession:
		r.closing.Store(true)
	case *wire.SessionFailure:
		r.peerErr = domain.ErrSessionFailure.WithDetails(domain.JoinReasons(m.Reasons))
	default:
		return false
	}
	r.peerClosed.Store(true)
	return true
}

// takeVerdict looks for a control message the peer queued right before it
// closed the connection, which another worker may have noticed first.
func (r *sessionRun) takeVerdict() {
	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		msg, err := transport.ReceiveMessage(stopped, r.conn, transport.ChannelControl)
		if err != nil {
			if fatal(err) {
				return
			}
			continue
		}
		if r.verdict(msg) {
			return
		}
	}
}

// finishRecords lets the record worker handle the records that arrived
// before close-session.
func (r *sessionRun) finishRecords(ctx context.Context) {
	r.stopRecords()
	grace := time.NewTimer(r.e.cfg.CloseGrace)
	defer grace.Stop()
	select {
	case <-r.recordsDone:
	case <-grace.C:
		r.logger.Warn("close grace elapsed while receiving records")
	case <-ctx.Done():
	}
}

// settle lets outstanding digests resolve before the Subscriber closes.
func (r *sessionRun) settle(ctx context.Context) {
	deadline := time.NewTimer(r.e.cfg.CloseGrace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	r.ledger.Kick()
	for r.ledger.Len() > 0 {
		select {
		case <-tick.C:
			r.ledger.Kick()
		case <-deadline.C:
			r.logger.Warn("close grace elapsed with pending digests", "pending", r.ledger.Len())
			return
		case <-ctx.Done():
			return
		}
	}
	// Wait for the exchange that emptied the ledger to send its syncs.
	r.exchangeMu.Lock()
	r.exchangeMu.Unlock()
}

// notifyPeer sends a final control message on a fresh short context.
func (r *sessionRun) notifyPeer(msg wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := transport.SendMessage(ctx, r.conn, transport.ChannelControl, msg); err != nil {
		r.logger.Debug("final control message not sent", "type", msg.Type(), "error", err)
	}
}

func (r *sessionRun) handoff(ctx context.Context) {
	pending := r.ledger.Drain()
	resume := r.tracker.Handoff()
	if len(pending) > 0 || resume.Active() {
		r.logger.Info("handing off session state", "pending", len(pending), "resume_id", resume.RecordID, "resume_offset", resume.Offset)
	}
	if h := r.e.cfg.Handoff; h != nil {
		h.OnSessionClosed(ctx, r.s, pending, resume)
	}
}

func (r *sessionRun) newHash() (hash.Hash, error) {
	if !r.s.ConfigureDigest {
		return nil, nil
	}
	return r.e.cfg.Digests.New(r.s.DigestAlgorithm)
}

func (r *sessionRun) touch() {
	if r.e.cfg.Registry != nil {
		r.e.cfg.Registry.Touch(r.s.ID)
	}
}

// fatal reports whether err ends the session rather than one message.
func fatal(err error) bool {
	return errors.Is(err, domain.ErrTransportClosed) ||
		errors.Is(err, domain.ErrSessionFailure) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
