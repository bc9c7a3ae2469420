package domain

import (
	"io"
	"time"
)

// RecordEnvelope carries the identifier and segment lengths announced in a
// record message. PayloadLength is always the full payload length, also for
// a resumed journal record.
type RecordEnvelope struct {
	RecordID      string
	RecordType    RecordType
	SysMetaLength int64
	AppMetaLength int64
	PayloadLength int64
	// PayloadOffset is the number of leading payload bytes the receiver
	// already holds from an interrupted transfer. Only journal records
	// resume.
	PayloadOffset int64
}

// Validate applies the per-type length rules. It returns every violated rule
// as a reason together with an ErrInvalidEnvelope.
func (e RecordEnvelope) Validate() ([]RejectionReason, error) {
	var reasons []RejectionReason
	if e.RecordID == "" {
		reasons = append(reasons, ReasonInvalidJALID)
	}
	if e.SysMetaLength <= 0 {
		reasons = append(reasons, ReasonInvalidSysMetaLength)
	}
	if e.AppMetaLength < 0 {
		reasons = append(reasons, ReasonInvalidAppMetaLength)
	}

	switch e.RecordType {
	case RecordTypeAudit:
		if e.PayloadLength <= 0 {
			reasons = append(reasons, InvalidPayloadLength(e.RecordType))
		}
	case RecordTypeLog:
		if e.PayloadLength < 0 {
			reasons = append(reasons, InvalidPayloadLength(e.RecordType))
		} else if e.PayloadLength == 0 && e.AppMetaLength == 0 {
			reasons = append(reasons, ReasonInvalidLogRecord)
		}
	case RecordTypeJournal:
		if e.PayloadLength < 0 {
			reasons = append(reasons, InvalidPayloadLength(e.RecordType))
		}
	default:
		reasons = append(reasons, ReasonUnsupportedRecordType)
	}

	if len(reasons) > 0 {
		return reasons, ErrInvalidEnvelope.WithDetails(JoinReasons(reasons))
	}
	return nil, nil
}

// FramedLength is the number of bytes a record occupies on the wire when
// offset payload bytes are skipped, including the three sentinels.
func (e RecordEnvelope) FramedLength(offset int64, sentinelLen int) int64 {
	return e.SysMetaLength + e.AppMetaLength + (e.PayloadLength - offset) + int64(3*sentinelLen)
}

// PendingDigest is a ledger entry awaiting reconciliation.
type PendingDigest struct {
	RecordID string
	Digest   []byte
	AddedAt  time.Time
	SentAt   time.Time
	InFlight bool
}

// Resolution is the final outcome for one identifier.
type Resolution struct {
	RecordID string
	Outcome  DigestOutcome
}

// ResumeState describes a partially transferred journal record.
// Source yields the Offset bytes already held locally.
type ResumeState struct {
	RecordID string
	Offset   int64
	Source   io.Reader
}

// Active reports whether the state describes a resume point.
func (r ResumeState) Active() bool {
	return r.RecordID != "" && r.Offset > 0
}
