package service

import (
	"context"
	"io"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/record"
)

// ErrNoRecord is returned by a RecordSource with nothing to send right now.
var ErrNoRecord = domain.NewDomainError("JAL-SRC-2040", "no record available")

// Authorizer decides whether a peer may open a session for a role and
// record type. An empty result allows the session.
type Authorizer interface {
	Decide(ctx context.Context, role domain.Role, recordType domain.RecordType, peer string) []domain.RejectionReason
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, role domain.Role, recordType domain.RecordType, peer string) []domain.RejectionReason

// Decide calls f.
func (f AuthorizerFunc) Decide(ctx context.Context, role domain.Role, recordType domain.RecordType, peer string) []domain.RejectionReason {
	return f(ctx, role, recordType, peer)
}

// AllowAll authorizes every session.
var AllowAll = AuthorizerFunc(func(context.Context, domain.Role, domain.RecordType, string) []domain.RejectionReason {
	return nil
})

// OutboundRecord is a record handed out by a RecordSource.
type OutboundRecord struct {
	Envelope domain.RecordEnvelope
	Source   record.Source
	// Close releases the segment readers. It may be nil.
	Close func() error
}

// RecordSource supplies records on the Publisher side.
type RecordSource interface {
	// NextRecord returns the record after lastID, or ErrNoRecord.
	NextRecord(ctx context.Context, s *domain.Session, lastID string) (*OutboundRecord, error)
	// OpenRecord reopens a specific record for journal resume.
	OpenRecord(ctx context.Context, s *domain.Session, id string) (*OutboundRecord, error)
	OnRecordComplete(ctx context.Context, s *domain.Session, id string, digest []byte)
	OnSync(ctx context.Context, s *domain.Session, id string)
	OnRecordFailure(ctx context.Context, s *domain.Session, id string, reasons []domain.RejectionReason)
}

// ChangeNotifier is implemented by sources that can signal new records. A
// live Publisher waits on it between polls.
type ChangeNotifier interface {
	// Changed returns a channel that is closed on the next change.
	Changed() <-chan struct{}
}

// RecordSink consumes records on the Subscriber side. Segment callbacks must
// read the handle to the end; returning false fails the record.
type RecordSink interface {
	OnSystemMetadata(ctx context.Context, s *domain.Session, env domain.RecordEnvelope, r io.Reader) bool
	OnAppMetadata(ctx context.Context, s *domain.Session, env domain.RecordEnvelope, r io.Reader) bool
	OnPayload(ctx context.Context, s *domain.Session, env domain.RecordEnvelope, r io.Reader) bool
	OnDigest(ctx context.Context, s *domain.Session, env domain.RecordEnvelope, digest []byte) bool
	// OnDigestResponse reports the final outcome. Returning false for a
	// confirmed record produces a sync-failure.
	OnDigestResponse(ctx context.Context, s *domain.Session, id string, outcome domain.DigestOutcome) bool
	OnJournalMissing(ctx context.Context, s *domain.Session, id string) bool
}

// ResumeProvider is implemented by sinks that keep partial journal records.
type ResumeProvider interface {
	ResumePoint(ctx context.Context, s *domain.Session) (id string, offset int64, prefix io.Reader, ok bool)
}

// Handoff receives state still held when a session closes.
type Handoff interface {
	OnSessionClosed(ctx context.Context, s *domain.Session, pending []domain.PendingDigest, resume domain.ResumeState)
}

// sinkConsumer adapts a RecordSink to record.Consumer for one record. It
// keeps the payload segment so a partial journal transfer can be measured.
type sinkConsumer struct {
	sink    RecordSink
	session *domain.Session
	env     domain.RecordEnvelope
	payload *record.Segment
}

func (c *sinkConsumer) SystemMetadata(ctx context.Context, seg *record.Segment) bool {
	return c.sink.OnSystemMetadata(ctx, c.session, c.env, seg)
}

func (c *sinkConsumer) AppMetadata(ctx context.Context, seg *record.Segment) bool {
	return c.sink.OnAppMetadata(ctx, c.session, c.env, seg)
}

func (c *sinkConsumer) Payload(ctx context.Context, seg *record.Segment) bool {
	c.payload = seg
	return c.sink.OnPayload(ctx, c.session, c.env, seg)
}

// payloadReceived is the number of payload bytes the sink has seen,
// counting the resumed prefix.
func (c *sinkConsumer) payloadReceived(offset int64) int64 {
	if c.payload == nil {
		return 0
	}
	return offset + c.payload.Len() - c.payload.Remaining()
}
