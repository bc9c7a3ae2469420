package service

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	tlog "github.com/yndnr/jalsync-go/internal/telemetry/logger"
	"github.com/yndnr/jalsync-go/internal/transport"
)

// faultyConn damages the body of the first record message it receives.
// Stream offsets count from the start of the record body.
type faultyConn struct {
	transport.Conn
	cutAt  int64 // close the connection after this many bytes; -1 disables
	flipAt int64 // invert the byte at this offset; -1 disables

	once sync.Once
}

func (c *faultyConn) Receive(ctx context.Context, ch transport.ChannelID) (*transport.Message, error) {
	m, err := c.Conn.Receive(ctx, ch)
	if err != nil || ch != transport.ChannelRecord {
		return m, err
	}
	c.once.Do(func() {
		m.Body = &faultyReader{r: m.Body, conn: c.Conn, cutAt: c.cutAt, flipAt: c.flipAt}
	})
	return m, nil
}

type faultyReader struct {
	r      io.Reader
	conn   transport.Conn
	pos    int64
	cutAt  int64
	flipAt int64
}

func (f *faultyReader) Read(p []byte) (int, error) {
	if f.cutAt >= 0 {
		left := f.cutAt - f.pos
		if left <= 0 {
			_ = f.conn.Close()
			return 0, io.ErrUnexpectedEOF
		}
		if int64(len(p)) > left {
			p = p[:left]
		}
	}
	n, err := f.r.Read(p)
	if f.flipAt >= f.pos && f.flipAt < f.pos+int64(n) {
		p[f.flipAt-f.pos] ^= 0xff
	}
	f.pos += int64(n)
	return n, err
}

// partialSink keeps whatever payload bytes arrive, so an interrupted
// journal can be offered for resume.
type partialSink struct {
	*memSink
	partial  map[string][]byte
	digested map[string]bool
	// ctxMismatch counts digests whose context names another session.
	ctxMismatch int
}

func newPartialSink() *partialSink {
	return &partialSink{memSink: newMemSink(), partial: make(map[string][]byte), digested: make(map[string]bool)}
}

func (k *partialSink) OnPayload(_ context.Context, _ *domain.Session, env domain.RecordEnvelope, r io.Reader) bool {
	var b bytes.Buffer
	_, err := io.Copy(&b, r)

	k.mu.Lock()
	defer k.mu.Unlock()
	held := k.partial[env.RecordID]
	if int64(len(held)) < env.PayloadOffset {
		return false
	}
	k.partial[env.RecordID] = append(held[:env.PayloadOffset:env.PayloadOffset], b.Bytes()...)
	k.payloads[env.RecordID] = string(k.partial[env.RecordID])
	return err == nil
}

func (k *partialSink) OnDigest(ctx context.Context, s *domain.Session, env domain.RecordEnvelope, d []byte) bool {
	k.mu.Lock()
	k.digested[env.RecordID] = true
	if tlog.SessionIDFromContext(ctx) != s.ID {
		k.ctxMismatch++
	}
	k.mu.Unlock()
	return k.memSink.OnDigest(ctx, s, env, d)
}

func (k *partialSink) ResumePoint(context.Context, *domain.Session) (string, int64, io.Reader, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, held := range k.partial {
		if !k.digested[id] && len(held) > 0 {
			return id, int64(len(held)), bytes.NewReader(slices.Clone(held)), true
		}
	}
	return "", 0, nil, false
}

// journalSegments is a journal record with 19, 1125 and 3083 byte segments.
func journalSegments(id string) testRecord {
	pattern := func(n int, seed byte) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = seed + byte(i%61)
		}
		return string(b)
	}
	return testRecord{id: id, sys: pattern(19, 'A'), app: pattern(1125, '0'), payload: pattern(3083, 'a')}
}

// payloadStart is the body offset of the first payload byte of r.
func payloadStart(r testRecord) int64 {
	return int64(len(r.sys) + len("BREAK") + len(r.app) + len("BREAK"))
}

func TestEngine_JournalTransferConfirmed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := journalSegments("j1")
	src := newMemSource(domain.RecordTypeJournal, rec)
	sink := newPartialSink()
	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})

	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		domain.RecordTypeJournal, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}
	if o, _ := sink.outcome("j1"); o != domain.DigestConfirmed {
		t.Errorf("outcome = %s, want confirmed", o)
	}
	if got := sink.payload("j1"); got != rec.payload {
		t.Errorf("payload has %d bytes, want %d", len(got), len(rec.payload))
	}
	if got := src.syncedIDs(); !slices.Equal(got, []string{"j1"}) {
		t.Errorf("synced = %v, want j1", got)
	}
	if sink.ctxMismatch != 0 {
		t.Error("sink callbacks ran without the session id in their context")
	}
}

func TestEngine_AlteredPayloadByte(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := journalSegments("j1")
	src := newMemSource(domain.RecordTypeJournal, rec)
	sink := newPartialSink()
	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink})

	a, b := transport.Pipe()
	damaged := &faultyConn{Conn: b, cutAt: -1, flipAt: payloadStart(rec) + 700}
	res := runPairOn(ctx, a, damaged, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		domain.RecordTypeJournal, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}
	if o, _ := sink.outcome("j1"); o != domain.DigestInvalid {
		t.Errorf("outcome = %s, want invalid", o)
	}
	if got := src.failure("j1"); !slices.Equal(got, []domain.RejectionReason{domain.ReasonInvalidDigest}) {
		t.Errorf("failure = %v, want invalid digest", got)
	}
	if len(src.syncedIDs()) != 0 {
		t.Errorf("synced = %v, want none", src.syncedIDs())
	}
}

func TestEngine_InterruptedJournalResumes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec := journalSegments("j1")
	src := newMemSource(domain.RecordTypeJournal, rec, testRecord{id: "j2", sys: "<s/>", payload: "tail"})
	sink := newPartialSink()
	resumes := newMockResumeStore()
	pub := testEngine(EngineConfig{Source: src})
	sub := testEngine(EngineConfig{Sink: sink, ResumeStore: resumes})

	// First session: the link drops 1200 bytes into the payload.
	a, b := transport.Pipe()
	dropped := &faultyConn{Conn: b, cutAt: payloadStart(rec) + 1200, flipAt: -1}
	runPairOn(ctx, a, dropped, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil, WithResumeProvider(sink)),
		domain.RecordTypeJournal, domain.ModeArchive)
	if _, ok := sink.outcome("j1"); ok {
		t.Fatal("interrupted record reached an outcome")
	}
	if got := len(sink.payload("j1")); got != 1200 {
		t.Fatalf("kept %d payload bytes, want 1200", got)
	}
	resumes.mu.Lock()
	var kept []resumePoint
	for _, p := range resumes.points {
		kept = append(kept, p)
	}
	resumes.mu.Unlock()
	if len(kept) != 1 || kept[0].id != "j1" || kept[0].offset != 1200 {
		t.Fatalf("persisted resume points = %+v, want j1 at 1200", kept)
	}

	// Second session resumes at 1200 and reconciles the whole payload.
	res := runPair(ctx, pub, sub,
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil),
		NewNegotiator(DefaultNegotiatorConfig(), nil, nil, WithResumeProvider(sink)),
		domain.RecordTypeJournal, domain.ModeArchive)
	if res.pub != nil || res.sub != nil {
		t.Fatalf("session errors: publisher %v, subscriber %v", res.pub, res.sub)
	}
	if o, _ := sink.outcome("j1"); o != domain.DigestConfirmed {
		t.Errorf("j1 outcome = %s, want confirmed over the full payload", o)
	}
	if got := sink.payload("j1"); got != rec.payload {
		t.Errorf("reassembled payload has %d bytes, want %d", len(got), len(rec.payload))
	}
	if got := src.syncedIDs(); !slices.Equal(got, []string{"j1", "j2"}) {
		t.Errorf("synced = %v, want j1 j2", got)
	}
	resumes.mu.Lock()
	left := len(resumes.points)
	resumes.mu.Unlock()
	if left != 0 {
		t.Errorf("resume point still persisted after completion")
	}
}
