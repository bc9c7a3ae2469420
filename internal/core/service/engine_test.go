package service

import (
	"context"
	"crypto/sha512"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/digest"
	"github.com/yndnr/jalsync-go/internal/protocol/record"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/transport"
)

type testRecord struct {
	id, sys, app, payload string
}

// memSource serves a fixed list of records and remembers callbacks.
type memSource struct {
	rt      domain.RecordType
	records []testRecord

	mu        sync.Mutex
	completed []string
	synced    []string
	failures  map[string][]domain.RejectionReason
	changed   chan struct{}
}

func newMemSource(rt domain.RecordType, records ...testRecord) *memSource {
	return &memSource{
		rt:       rt,
		records:  records,
		failures: make(map[string][]domain.RejectionReason),
		changed:  make(chan struct{}, 64),
	}
}

func (m *memSource) outbound(r testRecord) *OutboundRecord {
	return &OutboundRecord{
		Envelope: domain.RecordEnvelope{
			RecordID:      r.id,
			RecordType:    m.rt,
			SysMetaLength: int64(len(r.sys)),
			AppMetaLength: int64(len(r.app)),
			PayloadLength: int64(len(r.payload)),
		},
		Source: record.Source{
			SysMeta: strings.NewReader(r.sys),
			AppMeta: strings.NewReader(r.app),
			Payload: strings.NewReader(r.payload),
		},
	}
}

func (m *memSource) NextRecord(_ context.Context, _ *domain.Session, lastID string) (*OutboundRecord, error) {
	next := 0
	for i, r := range m.records {
		if r.id == lastID {
			next = i + 1
		}
	}
	if next >= len(m.records) {
		return nil, ErrNoRecord
	}
	return m.outbound(m.records[next]), nil
}

func (m *memSource) OpenRecord(_ context.Context, _ *domain.Session, id string) (*OutboundRecord, error) {
	for _, r := range m.records {
		if r.id == id {
			return m.outbound(r), nil
		}
	}
	return nil, ErrNoRecord
}

func (m *memSource) OnRecordComplete(_ context.Context, _ *domain.Session, id string, _ []byte) {
	m.mu.Lock()
	m.completed = append(m.completed, id)
	m.mu.Unlock()
}

func (m *memSource) OnSync(_ context.Context, _ *domain.Session, id string) {
	m.mu.Lock()
	m.synced = append(m.synced, id)
	m.mu.Unlock()
	m.notify()
}

func (m *memSource) OnRecordFailure(_ context.Context, _ *domain.Session, id string, reasons []domain.RejectionReason) {
	m.mu.Lock()
	m.failures[id] = reasons
	m.mu.Unlock()
	m.notify()
}

func (m *memSource) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *memSource) syncedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.synced)
}

func (m *memSource) failure(id string) []domain.RejectionReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[id]
}

// waitSynced blocks until n records were synced or failed.
func (m *memSource) waitSettled(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		m.mu.Lock()
		got := len(m.synced) + len(m.failures)
		m.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-m.changed:
		case <-deadline:
			t.Fatalf("settled %d records, want %d", got, n)
		}
	}
}

// memSink stores received segments and outcomes.
type memSink struct {
	mu       sync.Mutex
	payloads map[string]string
	digests  map[string][]byte
	outcomes map[string]domain.DigestOutcome
	missing  []string
	refuse   map[string]bool

	resumeID     string
	resumeOffset int64
	resumePrefix string
}

func newMemSink() *memSink {
	return &memSink{
		payloads: make(map[string]string),
		digests:  make(map[string][]byte),
		outcomes: make(map[string]domain.DigestOutcome),
		refuse:   make(map[string]bool),
	}
}

func (m *memSink) drain(r io.Reader) bool {
	_, err := io.Copy(io.Discard, r)
	return err == nil
}

func (m *memSink) OnSystemMetadata(_ context.Context, _ *domain.Session, _ domain.RecordEnvelope, r io.Reader) bool {
	return m.drain(r)
}

func (m *memSink) OnAppMetadata(_ context.Context, _ *domain.Session, _ domain.RecordEnvelope, r io.Reader) bool {
	return m.drain(r)
}

func (m *memSink) OnPayload(_ context.Context, _ *domain.Session, env domain.RecordEnvelope, r io.Reader) bool {
	b, err := io.ReadAll(r)
	if err != nil {
		return false
	}
	m.mu.Lock()
	m.payloads[env.RecordID] = string(b)
	m.mu.Unlock()
	return true
}

func (m *memSink) OnDigest(_ context.Context, _ *domain.Session, env domain.RecordEnvelope, d []byte) bool {
	m.mu.Lock()
	m.digests[env.RecordID] = d
	m.mu.Unlock()
	return true
}

func (m *memSink) OnDigestResponse(_ context.Context, _ *domain.Session, id string, o domain.DigestOutcome) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[id] = o
	return !m.refuse[id]
}

func (m *memSink) OnJournalMissing(_ context.Context, _ *domain.Session, id string) bool {
	m.mu.Lock()
	m.missing = append(m.missing, id)
	m.mu.Unlock()
	return true
}

func (m *memSink) ResumePoint(context.Context, *domain.Session) (string, int64, io.Reader, bool) {
	if m.resumeID == "" {
		return "", 0, nil, false
	}
	return m.resumeID, m.resumeOffset, strings.NewReader(m.resumePrefix), true
}

func (m *memSink) payload(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payloads[id]
}

func (m *memSink) outcome(id string) (domain.DigestOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outcomes[id]
	return o, ok
}

// recordingHandoff keeps what sessions hand off on close.
type recordingHandoff struct {
	mu      sync.Mutex
	pending map[string][]domain.PendingDigest
}

func (h *recordingHandoff) OnSessionClosed(_ context.Context, s *domain.Session, pending []domain.PendingDigest, _ domain.ResumeState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		h.pending = make(map[string][]domain.PendingDigest)
	}
	h.pending[s.ID] = pending
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(cfg EngineConfig) *Engine {
	if cfg.MaxPending == 0 {
		cfg.MaxPending = 2
	}
	if cfg.PendingTimeout == 0 {
		cfg.PendingTimeout = 50 * time.Millisecond
	}
	cfg.ResponseTimeout = 2 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CloseGrace = 2 * time.Second
	cfg.Logger = quietLogger()
	return NewEngine(cfg)
}

type sessionResult struct {
	pub, sub error
}

// runPair runs a Publisher initiator against a Subscriber listener until
// both ends return.
func runPair(ctx context.Context, pub, sub *Engine, pubNeg, subNeg *Negotiator, rt domain.RecordType, mode domain.Mode) sessionResult {
	a, b := transport.Pipe()
	return runPairOn(ctx, a, b, pub, sub, pubNeg, subNeg, rt, mode)
}

// runPairOn is runPair over given connections; a is the Publisher end.
func runPairOn(ctx context.Context, a, b transport.Conn, pub, sub *Engine, pubNeg, subNeg *Negotiator, rt domain.RecordType, mode domain.Mode) sessionResult {
	var (
		wg  sync.WaitGroup
		res sessionResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.sub = sub.Accept(ctx, b, subNeg)
	}()
	go func() {
		defer wg.Done()
		res.pub = pub.Initiate(ctx, a, pubNeg, domain.RolePublisher, rt, mode)
	}()
	wg.Wait()
	return res
}

func threeLogs() []testRecord {
	return []testRecord{
		{id: "r1", sys: "<sys>1</sys>", app: "<app/>", payload: "first"},
		{id: "r2", sys: "<sys>2</sys>", payload: "second"},
		{id: "r3", sys: "<sys>3</sys>", app: "<app>3</app>", payload: strings.Repeat("z", 200_000)},
	}
}

func TestEngine_ArchiveSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := newMemSource(domain.RecordTypeLog, threeLogs()...)
	sink := newMemSink()
	handoff := &recordingHandoff{}
	pub := testEngine(EngineConfig{Source: src, Handoff: handoff})
	sub := testEngine(EngineConfig{Sink: sink, Handoff: handoff, Registry: NewSessionRegistry(RegistryConfig{})})

	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, sub.cfg.Registry),
		domain.RecordTypeLog, domain.ModeArchive)

	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}
	if got := src.syncedIDs(); !slices.Equal(got, []string{"r1", "r2", "r3"}) {
		t.Errorf("synced = %v, want r1 r2 r3", got)
	}
	for _, r := range threeLogs() {
		if sink.payload(r.id) != r.payload {
			t.Errorf("payload %s differs", r.id)
		}
		if o, _ := sink.outcome(r.id); o != domain.DigestConfirmed {
			t.Errorf("outcome %s = %s, want confirmed", r.id, o)
		}
	}
	if sub.cfg.Registry.Count("") != 0 {
		t.Error("closed session still registered")
	}
	handoff.mu.Lock()
	defer handoff.mu.Unlock()
	for id, pending := range handoff.pending {
		if len(pending) != 0 {
			t.Errorf("session %s handed off %d pending digests", id, len(pending))
		}
	}
}

func TestEngine_InvalidDigest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The publisher computes a different hash under the same name.
	lying := digest.Default()
	lying.Register(digest.Algorithm{Name: wire.DefaultDigest, Size: sha512.Size, New: sha512.New})

	src := newMemSource(domain.RecordTypeAudit, testRecord{id: "a1", sys: "s", payload: "audit"})
	sink := newMemSink()
	pub := testEngine(EngineConfig{Source: src, Digests: lying})
	sub := testEngine(EngineConfig{Sink: sink})

	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), lying, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		domain.RecordTypeAudit, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}

	if o, _ := sink.outcome("a1"); o != domain.DigestInvalid {
		t.Errorf("sink outcome = %s, want invalid", o)
	}
	if got := src.failure("a1"); !slices.Equal(got, []domain.RejectionReason{domain.ReasonInvalidDigest}) {
		t.Errorf("source failure = %v, want invalid digest", got)
	}
	if len(src.syncedIDs()) != 0 {
		t.Errorf("synced = %v, want none", src.syncedIDs())
	}
}

func TestEngine_SyncFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := newMemSource(domain.RecordTypeLog, threeLogs()...)
	sink := newMemSink()
	sink.refuse["r2"] = true
	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})

	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		domain.RecordTypeLog, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}
	if got := src.syncedIDs(); !slices.Equal(got, []string{"r1", "r3"}) {
		t.Errorf("synced = %v, want r1 r3", got)
	}
	if got := src.failure("r2"); !slices.Equal(got, []domain.RejectionReason{domain.ReasonSyncFailure}) {
		t.Errorf("r2 failure = %v, want sync failure", got)
	}
}

func TestEngine_ConfigureDigestOff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultNegotiatorConfig()
	cfg.ConfigureDigest = []string{wire.ConfigureDigestOff}
	src := newMemSource(domain.RecordTypeLog, threeLogs()...)
	sink := newMemSink()
	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})

	res := runPair(ctx, pub, sub, NewNegotiator(cfg, nil, nil), NewNegotiator(cfg, nil, nil),
		domain.RecordTypeLog, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}
	if got := src.syncedIDs(); len(got) != 3 {
		t.Errorf("synced = %v, want 3 records", got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.digests) != 0 {
		t.Errorf("sink saw %d digests with digests off", len(sink.digests))
	}
}

func TestEngine_JournalResume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := newMemSource(domain.RecordTypeJournal,
		testRecord{id: "j1", sys: "<s/>", payload: "0123456789"},
		testRecord{id: "j2", sys: "<s/>", payload: "next"},
	)
	sink := newMemSink()
	sink.resumeID, sink.resumeOffset, sink.resumePrefix = "j1", 4, "0123"

	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})
	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil, WithResumeProvider(sink)),
		domain.RecordTypeJournal, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}

	if got := sink.payload("j1"); got != "456789" {
		t.Errorf("resumed payload = %q, want 456789", got)
	}
	if o, _ := sink.outcome("j1"); o != domain.DigestConfirmed {
		t.Errorf("j1 outcome = %s, want confirmed over the whole payload", o)
	}
	if got := src.syncedIDs(); !slices.Equal(got, []string{"j1", "j2"}) {
		t.Errorf("synced = %v, want j1 j2", got)
	}
}

func TestEngine_JournalMissing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := newMemSource(domain.RecordTypeJournal, testRecord{id: "j2", sys: "<s/>", payload: "data"})
	sink := newMemSink()
	sink.resumeID, sink.resumeOffset, sink.resumePrefix = "gone", 2, "ab"

	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})
	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil, WithResumeProvider(sink)),
		domain.RecordTypeJournal, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}

	sink.mu.Lock()
	missing := slices.Clone(sink.missing)
	sink.mu.Unlock()
	if !slices.Equal(missing, []string{"gone"}) {
		t.Errorf("journal missing = %v, want gone", missing)
	}
	if got := src.syncedIDs(); !slices.Equal(got, []string{"j2"}) {
		t.Errorf("synced = %v, want j2", got)
	}
}

func TestEngine_LiveSubscriberInitiator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := newMemSource(domain.RecordTypeLog, threeLogs()...)
	sink := newMemSink()
	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})

	a, b := transport.Pipe()
	pubDone := make(chan error, 1)
	go func() {
		pubDone <- pub.Accept(ctx, a, NewNegotiator(DefaultNegotiatorConfig(), nil, nil))
	}()

	subCtx, stopSub := context.WithCancel(ctx)
	subDone := make(chan error, 1)
	go func() {
		subDone <- sub.Initiate(subCtx, b, NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
			domain.RoleSubscriber, domain.RecordTypeLog, domain.ModeLive)
	}()

	src.waitSettled(t, 3)
	if sessions, _ := pub.Stats(); sessions != 1 {
		t.Errorf("publisher running sessions = %d, want 1", sessions)
	}
	stopSub()

	if err := <-subDone; err != nil {
		t.Errorf("subscriber Initiate() = %v", err)
	}
	if err := <-pubDone; err != nil {
		t.Errorf("publisher Accept() = %v, want clean close", err)
	}
	if got := src.syncedIDs(); len(got) != 3 {
		t.Errorf("synced = %v", got)
	}
}

func TestEngine_EvictionNotifiesPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sub *Engine
	reg := NewSessionRegistry(RegistryConfig{
		MaxConcurrentSessions: 1,
		Scope:                 ScopeGlobal,
		OnEvict:               func(s *domain.Session) { sub.Stop(s.ID) },
	})
	sub = testEngine(EngineConfig{Sink: newMemSink(), Registry: reg})
	subNeg := NewNegotiator(DefaultNegotiatorConfig(), nil, reg)
	pub := testEngine(EngineConfig{Source: newMemSource(domain.RecordTypeLog)})
	pubNeg := NewNegotiator(DefaultNegotiatorConfig(), nil, nil)

	start := func(ctx context.Context) (pubErr, subErr chan error) {
		a, b := transport.Pipe()
		pubErr, subErr = make(chan error, 1), make(chan error, 1)
		go func() { subErr <- sub.Accept(ctx, b, subNeg) }()
		go func() {
			pubErr <- pub.Initiate(ctx, a, pubNeg, domain.RolePublisher, domain.RecordTypeLog, domain.ModeLive)
		}()
		return pubErr, subErr
	}

	firstPub, firstSub := start(ctx)
	waitFor(t, func() bool { return reg.Count("") == 1 })

	secondCtx, stopSecond := context.WithCancel(ctx)
	defer stopSecond()
	secondPub, secondSub := start(secondCtx)

	if err := <-firstPub; !errors.Is(err, domain.ErrSessionFailure) {
		t.Errorf("evicted publisher = %v, want ErrSessionFailure", err)
	}
	if err := <-firstSub; !errors.Is(err, domain.ErrSessionFailure) {
		t.Errorf("evicted subscriber = %v, want ErrSessionFailure", err)
	}
	waitFor(t, func() bool { return reg.Count("") == 1 })

	stopSecond()
	if err := <-secondPub; err != nil {
		t.Errorf("second publisher = %v", err)
	}
	if err := <-secondSub; err != nil {
		t.Errorf("second subscriber = %v", err)
	}
}

func TestEngine_RejectedOffer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultNegotiatorConfig()
	cfg.RecordTypes = []domain.RecordType{domain.RecordTypeJournal}
	pub := testEngine(EngineConfig{Source: newMemSource(domain.RecordTypeLog)})
	sub := testEngine(EngineConfig{Sink: newMemSink()})

	res := runPair(ctx, pub, sub, NewNegotiator(DefaultNegotiatorConfig(), nil, nil), NewNegotiator(cfg, nil, nil),
		domain.RecordTypeLog, domain.ModeLive)

	for name, err := range map[string]error{"publisher": res.pub, "subscriber": res.sub} {
		var rej *RejectedError
		if !errors.As(err, &rej) || !slices.Contains(rej.Reasons, domain.ReasonUnsupportedRecordType) {
			t.Errorf("%s error = %v, want unsupported record type", name, err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
