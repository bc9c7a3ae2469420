package service

import (
	"context"
	"errors"
	"io"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/record"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/transport"
)

// startSubscriber arms the resume tracker and, on the initiating side,
// asks the Publisher to start sending.
func (r *sessionRun) startSubscriber(ctx context.Context) error {
	resume := r.out.Resume
	if r.out.Initiator {
		if r.s.RecordType == domain.RecordTypeJournal && r.s.Mode == domain.ModeArchive {
			if rp, ok := r.e.cfg.Sink.(ResumeProvider); ok {
				if id, off, prefix, ok := rp.ResumePoint(ctx, r.s); ok && off > 0 {
					resume = domain.ResumeState{RecordID: id, Offset: off, Source: prefix}
				}
			}
		}
		var msg wire.Message = &wire.Subscribe{Mode: r.s.Mode}
		if resume.Active() {
			msg = &wire.JournalResume{RecordID: resume.RecordID, Offset: resume.Offset}
		}
		if err := transport.SendMessage(ctx, r.conn, transport.ChannelRecord, msg); err != nil {
			return err
		}
	}
	if resume.Active() {
		r.logger.Info("resuming journal record", "id", resume.RecordID, "offset", resume.Offset)
		return r.tracker.Set(ctx, resume.RecordID, resume.Offset, resume.Source)
	}
	return nil
}

// subscriberRecords is the Subscriber record worker. It takes messages
// until recv ends and handles each on ctx, so a record that has started
// arriving is finished after close-session.
func (r *sessionRun) subscriberRecords(ctx, recv context.Context) error {
	defer close(r.recordsDone)
	for {
		m, err := r.conn.Receive(recv, transport.ChannelRecord)
		if err != nil {
			if r.closing.Load() && ctx.Err() == nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := r.handleRecordChannel(ctx, m); err != nil {
			return err
		}
	}
}

func (r *sessionRun) handleRecordChannel(ctx context.Context, m *transport.Message) error {
	defer m.Close()
	r.touch()

	switch t := m.Type(); {
	case wire.IsRecordMessage(t):
		return r.receiveRecord(ctx, m)
	case t == wire.MsgJournalMissing:
		msg, err := m.Decode()
		if err != nil {
			r.logger.Warn("malformed journal-missing", "error", err)
			return nil
		}
		id := msg.(*wire.JournalMissing).RecordID
		r.logger.Info("publisher has no journal record to resume", "id", id)
		if r.tracker.Current().RecordID == id {
			r.tracker.Clear(ctx)
		}
		if !r.e.cfg.Sink.OnJournalMissing(ctx, r.s, id) {
			r.logger.Warn("sink refused journal-missing", "id", id)
		}
		return transport.SendMessage(ctx, r.conn, transport.ChannelRecord, &wire.JournalMissingResponse{RecordID: id})
	default:
		r.logger.Warn("unexpected message on record channel", "type", t)
		return nil
	}
}

// receiveRecord unframes one record into the sink. Only transport errors
// are returned; every record-level problem becomes a record-failure.
func (r *sessionRun) receiveRecord(ctx context.Context, m *transport.Message) error {
	rt := r.s.RecordType
	hdr, err := wire.DecodeRecordHeader(m.Headers)
	if err != nil {
		r.obs.RecordReceived(rt, ResultRejected, 0)
		r.logger.Warn("malformed record header", "error", err)
		return r.recordFailure(ctx, m.Headers.Get(wire.HeaderID), headerReason(err, rt))
	}
	env := hdr.Envelope
	if env.RecordType != rt {
		r.obs.RecordReceived(rt, ResultRejected, 0)
		return r.recordFailure(ctx, env.RecordID, domain.ReasonUnsupportedRecordKind)
	}
	if reasons, err := env.Validate(); err != nil {
		r.obs.RecordReceived(rt, ResultRejected, 0)
		r.logger.Warn("invalid record envelope", "id", env.RecordID, "error", err)
		return r.recordFailure(ctx, env.RecordID, reasons...)
	}
	opts, err := r.tracker.ReaderOptions(ctx, env, hdr.Offset)
	if err != nil {
		r.obs.RecordReceived(rt, ResultRejected, 0)
		r.logger.Warn("unexpected journal offset", "id", env.RecordID, "error", err)
		return r.recordFailure(ctx, env.RecordID, domain.ReasonIncompleteRecord)
	}
	if len(opts) > 0 {
		env.PayloadOffset = hdr.Offset
	}
	h, err := r.newHash()
	if err != nil {
		return r.recordFailure(ctx, env.RecordID, domain.ReasonUnsupportedDigest)
	}

	body := &countingReader{r: m.Body}
	rd := record.NewReader(body, env, h, opts...)
	c := &sinkConsumer{sink: r.e.cfg.Sink, session: r.s, env: env}
	if err := rd.Consume(ctx, c); err != nil {
		if ctx.Err() != nil || r.connClosed() {
			r.keepPartial(ctx, env, rd.Offset(), c)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrTransportClosed.WithCause(err)
		}
		r.obs.RecordReceived(rt, ResultIncomplete, body.n)
		r.logger.Warn("record failed", "id", env.RecordID, "error", err)
		return r.recordFailure(ctx, env.RecordID, domain.ReasonIncompleteRecord)
	}
	r.tracker.Complete(ctx, env.RecordID)
	dg, err := rd.Digest()
	if err != nil {
		return r.recordFailure(ctx, env.RecordID, domain.ReasonIncompleteRecord)
	}
	r.obs.RecordReceived(rt, ResultOK, body.n)

	if !r.s.ConfigureDigest {
		return r.finish(ctx, env.RecordID, domain.DigestConfirmed)
	}
	if !r.e.cfg.Sink.OnDigest(ctx, r.s, env, dg) {
		return r.recordFailure(ctx, env.RecordID, domain.ReasonIncompleteRecord)
	}
	if err := r.ledger.Add(ctx, env.RecordID, dg); err != nil {
		r.logger.Warn("record id already pending", "id", env.RecordID)
		return r.recordFailure(ctx, env.RecordID, domain.ReasonInvalidJALID)
	}
	r.touch()
	return nil
}

// keepPartial remembers how much of an interrupted journal payload arrived
// so the next session can resume it.
func (r *sessionRun) keepPartial(ctx context.Context, env domain.RecordEnvelope, offset int64, c *sinkConsumer) {
	if env.RecordType != domain.RecordTypeJournal {
		return
	}
	got := c.payloadReceived(offset)
	if got <= 0 || got >= env.PayloadLength {
		return
	}
	if err := r.tracker.Set(context.WithoutCancel(ctx), env.RecordID, got, nil); err != nil {
		r.logger.Warn("keep journal resume point failed", "id", env.RecordID, "error", err)
	}
}

// exchange sends one digest batch and applies the Publisher's answer.
func (r *sessionRun) exchange(ctx context.Context, batch []domain.PendingDigest) error {
	r.exchangeMu.Lock()
	defer r.exchangeMu.Unlock()

	msg := &wire.Digest{Entries: make([]wire.DigestEntry, len(batch))}
	for i, pd := range batch {
		msg.Entries[i] = wire.DigestEntry{RecordID: pd.RecordID, Digest: pd.Digest}
	}
	r.obs.DigestBatch(len(batch))
	if err := transport.SendMessage(ctx, r.conn, transport.ChannelDigest, msg); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, r.e.cfg.ResponseTimeout)
	reply, err := transport.ReceiveMessage(rctx, r.conn, transport.ChannelDigest)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrSyncFailure.WithDetails("digest-response timed out")
		}
		return err
	}
	resp, ok := reply.(*wire.DigestResponse)
	if !ok {
		return wire.UnexpectedValue(wire.HeaderMessage, reply.Type())
	}

	for _, res := range r.ledger.ApplyResponse(ctx, resp.Entries) {
		if err := r.finish(ctx, res.RecordID, res.Outcome); err != nil {
			return err
		}
	}
	r.touch()
	return nil
}

// finish reports a final outcome to the sink and the Publisher.
func (r *sessionRun) finish(ctx context.Context, id string, outcome domain.DigestOutcome) error {
	r.obs.DigestOutcome(outcome)
	accepted := r.e.cfg.Sink.OnDigestResponse(ctx, r.s, id, outcome)

	var msg wire.Message
	switch {
	case outcome == domain.DigestConfirmed && accepted:
		msg = &wire.Sync{RecordID: id}
	case outcome == domain.DigestConfirmed:
		msg = wire.NewSyncFailure(id, domain.ReasonSyncFailure)
	default:
		r.logger.Warn("digest not confirmed", "id", id, "outcome", outcome.String())
		msg = wire.NewRecordFailure(id, domain.ReasonInvalidDigest)
	}
	return transport.SendMessage(ctx, r.conn, transport.ChannelDigest, msg)
}

func (r *sessionRun) recordFailure(ctx context.Context, id string, reasons ...domain.RejectionReason) error {
	err := transport.SendMessage(ctx, r.conn, transport.ChannelDigest, wire.NewRecordFailure(id, reasons...))
	if err != nil && fatal(err) {
		return err
	}
	return nil
}

func (r *sessionRun) connClosed() bool {
	select {
	case <-r.conn.Done():
		return true
	default:
		return false
	}
}

// headerReason maps a record header error to the reason reported back.
func headerReason(err error, rt domain.RecordType) domain.RejectionReason {
	var he *wire.HeaderError
	if !errors.As(err, &he) {
		return domain.ReasonIncompleteRecord
	}
	switch he.Header {
	case wire.HeaderID:
		return domain.ReasonInvalidJALID
	case wire.HeaderSysMetaLength:
		return domain.ReasonInvalidSysMetaLength
	case wire.HeaderAppMetaLength:
		return domain.ReasonInvalidAppMetaLength
	case wire.HeaderJournalLength, wire.HeaderAuditLength, wire.HeaderLogLength:
		return domain.InvalidPayloadLength(rt)
	case wire.HeaderMessage:
		return domain.ReasonUnsupportedRecordKind
	}
	return domain.ReasonIncompleteRecord
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
