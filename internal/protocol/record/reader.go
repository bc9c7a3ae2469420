package record

import (
	"bytes"
	"context"
	"errors"
	"hash"
	"io"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// Consumer receives the three segments of a record in order. Each callback
// must read its segment to the end; returning false aborts the record.
type Consumer interface {
	SystemMetadata(ctx context.Context, seg *Segment) bool
	AppMetadata(ctx context.Context, seg *Segment) bool
	Payload(ctx context.Context, seg *Segment) bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithResume primes the payload digest with offset bytes from prefix.
func WithResume(offset int64, prefix io.Reader) ReaderOption {
	return func(r *Reader) {
		r.offset = offset
		r.prefix = prefix
	}
}

// WithLiveHook registers fn to run once when the first live payload byte
// is consumed.
func WithLiveHook(fn func()) ReaderOption {
	return func(r *Reader) {
		r.liveHook = fn
	}
}

// Reader unframes one record from src and computes its digest.
type Reader struct {
	src      io.Reader
	env      domain.RecordEnvelope
	h        hash.Hash
	offset   int64
	prefix   io.Reader
	liveHook func()

	consumed bool
	complete bool
	err      error
}

// NewReader returns a reader for the record described by env. src must end
// where the record ends. A nil hash disables digest computation.
func NewReader(src io.Reader, env domain.RecordEnvelope, h hash.Hash, opts ...ReaderOption) *Reader {
	r := &Reader{src: src, env: env, h: h}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PayloadRemaining is the number of payload bytes carried on the wire.
func (r *Reader) PayloadRemaining() int64 {
	return r.env.PayloadLength - r.offset
}

// Offset is the resume offset, zero for a fresh record.
func (r *Reader) Offset() int64 { return r.offset }

// Consume runs the record through c. Any short read, bad sentinel, refused
// callback, undrained segment or trailing data yields an error wrapping
// domain.ErrIncompleteRecord.
func (r *Reader) Consume(ctx context.Context, c Consumer) error {
	if r.consumed {
		return domain.ErrInvalidArgument.WithDetails("record already consumed")
	}
	r.consumed = true
	r.err = r.consume(ctx, c)
	r.complete = r.err == nil
	return r.err
}

func (r *Reader) consume(ctx context.Context, c Consumer) error {
	if r.offset < 0 || r.offset > r.env.PayloadLength {
		return incomplete("resume offset %d outside payload of %d bytes", r.offset, r.env.PayloadLength)
	}

	if err := r.segment(ctx, "system metadata", r.env.SysMetaLength, nil, c.SystemMetadata); err != nil {
		return err
	}
	if err := r.segment(ctx, "application metadata", r.env.AppMetaLength, nil, c.AppMetadata); err != nil {
		return err
	}

	if r.offset > 0 {
		if err := r.prime(); err != nil {
			return err
		}
	}
	if err := r.segment(ctx, "payload", r.PayloadRemaining(), r.liveHook, c.Payload); err != nil {
		return err
	}
	return r.trailer()
}

func (r *Reader) segment(ctx context.Context, name string, length int64, onFirst func(), fn func(context.Context, *Segment) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seg := newSegment(r.src, r.h, length, onFirst)
	ok := fn(ctx, seg)
	if seg.short {
		return incomplete("%s: short read, %d of %d bytes", name, length-seg.remaining, length)
	}
	undrained, err := seg.drain()
	if err != nil {
		return incomplete("%s: short read, %d of %d bytes", name, length-seg.remaining, length)
	}
	if !ok {
		return domain.ErrRecordFailure.WithDetailsf("%s refused by consumer", name)
	}
	if undrained {
		return incomplete("%s: consumer left bytes unread", name)
	}
	return r.sentinel(name)
}

func (r *Reader) sentinel(name string) error {
	var buf [len(Sentinel)]byte
	if _, err := io.ReadFull(r.src, buf[:]); err != nil {
		return incomplete("%s: missing sentinel", name)
	}
	if string(buf[:]) != Sentinel {
		return incomplete("%s: bad sentinel %q", name, buf[:])
	}
	return nil
}

func (r *Reader) prime() error {
	if r.prefix == nil {
		return incomplete("resume offset %d without local payload", r.offset)
	}
	w := io.Discard
	if r.h != nil {
		w = r.h
	}
	n, err := io.CopyN(w, r.prefix, r.offset)
	if err != nil {
		return incomplete("resume prefix: %d of %d bytes", n, r.offset)
	}
	return nil
}

// trailer tolerates a single LF after the final sentinel.
func (r *Reader) trailer() error {
	var buf [2]byte
	n, err := io.ReadFull(r.src, buf[:])
	switch {
	case n == 0 && (err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)):
		return nil
	case n == 1 && buf[0] == '\n' && errors.Is(err, io.ErrUnexpectedEOF):
		return nil
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && err != io.EOF:
		return incomplete("trailer: %v", err)
	}
	return incomplete("additional data %q after record", bytes.TrimSpace(buf[:n]))
}

// Digest returns the record digest. It fails with domain.ErrIncompleteRecord
// until the final sentinel has been validated. With a nil hash it returns nil.
func (r *Reader) Digest() ([]byte, error) {
	if !r.complete {
		if r.err != nil {
			return nil, domain.ErrIncompleteRecord.WithCause(r.err)
		}
		return nil, incomplete("digest requested before record end")
	}
	if r.h == nil {
		return nil, nil
	}
	return r.h.Sum(nil), nil
}

func incomplete(format string, args ...any) error {
	return domain.ErrIncompleteRecord.WithDetailsf(format, args...)
}
