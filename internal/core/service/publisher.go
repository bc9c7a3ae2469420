package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/record"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/transport"
)

// publisherRecords is the Publisher record worker.
func (r *sessionRun) publisherRecords(ctx context.Context) error {
	resume, err := r.awaitSubscribe(ctx)
	if err != nil {
		return err
	}

	var lastID string
	if resume.Active() {
		id, err := r.resumeRecord(ctx, resume)
		if err != nil {
			return err
		}
		lastID = id
	}

	src := r.e.cfg.Source
	for {
		ob, err := src.NextRecord(ctx, r.s, lastID)
		switch {
		case errors.Is(err, ErrNoRecord):
			if r.s.Mode == domain.ModeArchive {
				return r.finishArchive(ctx)
			}
			if err := r.waitForRecords(ctx); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		if err := r.sendRecord(ctx, ob, 0); err != nil {
			return err
		}
		lastID = ob.Envelope.RecordID
	}
}

// awaitSubscribe waits for subscribe or journal-resume when the Subscriber
// initiated the session. An initiating Publisher got the resume point from
// the ack.
func (r *sessionRun) awaitSubscribe(ctx context.Context) (domain.ResumeState, error) {
	if r.out.Initiator {
		return r.out.Resume, nil
	}
	rctx, cancel := context.WithTimeout(ctx, r.e.cfg.ResponseTimeout)
	msg, err := transport.ReceiveMessage(rctx, r.conn, transport.ChannelRecord)
	cancel()
	if err != nil {
		return domain.ResumeState{}, err
	}
	switch m := msg.(type) {
	case *wire.Subscribe:
		if m.Mode != r.s.Mode {
			r.logger.Warn("subscribe mode differs from negotiated mode", "subscribe", m.Mode.String(), "negotiated", r.s.Mode.String())
		}
		return domain.ResumeState{}, nil
	case *wire.JournalResume:
		if r.s.RecordType != domain.RecordTypeJournal {
			return domain.ResumeState{}, wire.UnexpectedValue(wire.HeaderMessage, m.Type())
		}
		return domain.ResumeState{RecordID: m.RecordID, Offset: m.Offset}, nil
	default:
		return domain.ResumeState{}, wire.UnexpectedValue(wire.HeaderMessage, msg.Type())
	}
}

// resumeRecord sends the rest of a partially transferred journal record, or
// tells the Subscriber it is gone.
func (r *sessionRun) resumeRecord(ctx context.Context, resume domain.ResumeState) (string, error) {
	if err := r.tracker.Set(ctx, resume.RecordID, resume.Offset, nil); err != nil {
		r.logger.Warn("persist resume point failed", "error", err)
	}
	defer r.tracker.Clear(ctx)

	ob, err := r.e.cfg.Source.OpenRecord(ctx, r.s, resume.RecordID)
	if errors.Is(err, ErrNoRecord) {
		r.logger.Info("journal record to resume is missing", "id", resume.RecordID)
		if err := transport.SendMessage(ctx, r.conn, transport.ChannelRecord, &wire.JournalMissing{RecordID: resume.RecordID}); err != nil {
			return "", err
		}
		rctx, cancel := context.WithTimeout(ctx, r.e.cfg.ResponseTimeout)
		reply, err := transport.ReceiveMessage(rctx, r.conn, transport.ChannelRecord)
		cancel()
		if err != nil {
			return "", err
		}
		if _, ok := reply.(*wire.JournalMissingResponse); !ok {
			return "", wire.UnexpectedValue(wire.HeaderMessage, reply.Type())
		}
		return resume.RecordID, nil
	}
	if err != nil {
		return "", err
	}
	if resume.Offset > ob.Envelope.PayloadLength {
		closeRecord(ob)
		return "", domain.ErrInvalidArgument.WithDetailsf("resume offset %d beyond payload of %d bytes", resume.Offset, ob.Envelope.PayloadLength)
	}
	return resume.RecordID, r.sendRecord(ctx, ob, resume.Offset)
}

// sendRecord frames one record onto the record channel and registers its
// digest. A source that fails mid-record ends only that record.
func (r *sessionRun) sendRecord(ctx context.Context, ob *OutboundRecord, offset int64) error {
	defer closeRecord(ob)
	env := ob.Envelope
	h, err := r.newHash()
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	type result struct {
		digest []byte
		added  bool
		err    error
	}
	done := make(chan result, 1)
	go func() {
		res := result{}
		res.digest, res.err = record.Write(pw, env, ob.Source, h, offset)
		// The digest must be pending before the end frame lets the
		// Subscriber finish the record and ask about it.
		if res.err == nil && r.s.ConfigureDigest {
			if err := r.ledger.Add(ctx, env.RecordID, res.digest); err != nil {
				r.logger.Warn("record id already pending", "id", env.RecordID)
			} else {
				res.added = true
			}
		}
		_ = pw.CloseWithError(res.err)
		done <- res
	}()

	hdr := &wire.RecordHeader{Envelope: env, Offset: offset}
	sendErr := r.conn.Send(ctx, transport.ChannelRecord, hdr.Headers(), pr)
	_ = pr.CloseWithError(domain.ErrTransportClosed)
	res := <-done

	if sendErr != nil && res.added {
		r.ledger.Resolve(context.WithoutCancel(ctx), env.RecordID)
	}
	if sendErr != nil && fatal(sendErr) {
		return sendErr
	}
	if res.err != nil || sendErr != nil {
		reason := res.err
		if reason == nil {
			reason = sendErr
		}
		r.logger.Warn("record not sent", "id", env.RecordID, "error", reason)
		r.e.cfg.Source.OnRecordFailure(ctx, r.s, env.RecordID, []domain.RejectionReason{domain.ReasonIncompleteRecord})
		return nil
	}

	r.obs.RecordSent(env.RecordType, env.FramedLength(offset, len(record.Sentinel)))
	r.e.cfg.Source.OnRecordComplete(ctx, r.s, env.RecordID, res.digest)
	r.touch()
	return nil
}

// finishArchive waits for every sent record to be reconciled, then closes
// the session and gives the Subscriber time to send its syncs.
func (r *sessionRun) finishArchive(ctx context.Context) error {
	if err := r.awaitReconciled(ctx); err != nil {
		return err
	}

	r.logger.Info("archive exhausted, closing session")
	r.closing.Store(true)
	if err := transport.SendMessage(ctx, r.conn, transport.ChannelControl, &wire.CloseSession{}); err != nil {
		return err
	}
	grace := time.NewTimer(r.e.cfg.CloseGrace)
	defer grace.Stop()
	select {
	case <-r.conn.Done():
	case <-grace.C:
	case <-ctx.Done():
	}
	return errSessionClosed
}

// awaitReconciled waits until the ledger is empty. The Subscriber sends a
// batch at the latest when its timer fires, so the wait is bounded by that.
func (r *sessionRun) awaitReconciled(ctx context.Context) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	limit := time.NewTimer(r.ledger.cfg.Timeout + r.e.cfg.ResponseTimeout)
	defer limit.Stop()
	for r.ledger.Len() > 0 {
		select {
		case <-tick.C:
		case <-limit.C:
			r.logger.Warn("closing with unreconciled digests", "pending", r.ledger.Len())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// publisherDigests is the Publisher digest worker.
func (r *sessionRun) publisherDigests(ctx context.Context) error {
	for {
		msg, err := transport.ReceiveMessage(ctx, r.conn, transport.ChannelDigest)
		if err != nil {
			if fatal(err) {
				if r.closing.Load() {
					r.drainDigests(context.WithoutCancel(ctx))
				}
				return err
			}
			r.logger.Warn("malformed digest channel message", "error", err)
			continue
		}
		r.touch()
		if err := r.handleDigest(ctx, msg); err != nil {
			return err
		}
	}
}

// drainDigests applies syncs and failures that were queued before the
// Subscriber closed the connection.
func (r *sessionRun) drainDigests(ctx context.Context) {
	stopped, cancel := context.WithCancel(ctx)
	cancel()
	for {
		msg, err := transport.ReceiveMessage(stopped, r.conn, transport.ChannelDigest)
		if err != nil {
			if fatal(err) {
				return
			}
			continue
		}
		if _, ok := msg.(*wire.Digest); ok {
			continue
		}
		_ = r.handleDigest(ctx, msg)
	}
}

func (r *sessionRun) handleDigest(ctx context.Context, msg wire.Message) error {
	src := r.e.cfg.Source
	switch m := msg.(type) {
	case *wire.Digest:
		resp := &wire.DigestResponse{}
		for _, res := range r.ledger.Reconcile(ctx, m.Entries) {
			r.obs.DigestOutcome(res.Outcome)
			if res.Outcome != domain.DigestConfirmed {
				r.logger.Warn("digest not confirmed", "id", res.RecordID, "outcome", res.Outcome.String())
			}
			resp.Entries = append(resp.Entries, wire.DigestStatus{RecordID: res.RecordID, Outcome: res.Outcome})
		}
		r.obs.DigestBatch(len(m.Entries))
		return transport.SendMessage(ctx, r.conn, transport.ChannelDigest, resp)
	case *wire.Sync:
		src.OnSync(ctx, r.s, m.RecordID)
	case *wire.Failure:
		r.logger.Warn("peer reported failure", "type", m.Type(), "id", m.RecordID, "reasons", domain.JoinReasons(m.Reasons))
		src.OnRecordFailure(ctx, r.s, m.RecordID, m.Reasons)
	default:
		r.logger.Warn("unexpected message on digest channel", "type", msg.Type())
	}
	return nil
}

func closeRecord(ob *OutboundRecord) {
	if ob.Close != nil {
		_ = ob.Close()
	}
}

// waitForRecords sleeps for the poll interval or until the source reports
// a change.
func (r *sessionRun) waitForRecords(ctx context.Context) error {
	var changed <-chan struct{}
	if n, ok := r.e.cfg.Source.(ChangeNotifier); ok {
		changed = n.Changed()
	}
	t := time.NewTimer(r.e.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-changed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
