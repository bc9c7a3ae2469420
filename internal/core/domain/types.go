package domain

import "strings"

// Role is the part a peer plays in a session.
type Role uint8

const (
	RoleUnknown Role = iota
	RolePublisher
	RoleSubscriber
)

// String returns the lower-case role name.
func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

// Peer returns the complementary role.
func (r Role) Peer() Role {
	switch r {
	case RolePublisher:
		return RoleSubscriber
	case RoleSubscriber:
		return RolePublisher
	default:
		return RoleUnknown
	}
}

// ParseRole parses "publisher" or "subscriber".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "publisher", "publish":
		return RolePublisher, nil
	case "subscriber", "subscribe":
		return RoleSubscriber, nil
	}
	return RoleUnknown, ErrInvalidArgument.WithDetailsf("unknown role %q", s)
}

// RecordType is the class of record carried by a session.
type RecordType uint8

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeJournal
	RecordTypeAudit
	RecordTypeLog
)

// AllRecordTypes lists the record types in canonical order.
var AllRecordTypes = []RecordType{RecordTypeJournal, RecordTypeAudit, RecordTypeLog}

// String returns the wire name of the record type.
func (t RecordType) String() string {
	switch t {
	case RecordTypeJournal:
		return "journal"
	case RecordTypeAudit:
		return "audit"
	case RecordTypeLog:
		return "log"
	default:
		return "unknown"
	}
}

// Title returns the capitalized name used inside error tokens.
func (t RecordType) Title() string {
	switch t {
	case RecordTypeJournal:
		return "Journal"
	case RecordTypeAudit:
		return "Audit"
	case RecordTypeLog:
		return "Log"
	default:
		return "Unknown"
	}
}

// ParseRecordType parses a wire record type name.
func ParseRecordType(s string) (RecordType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "journal":
		return RecordTypeJournal, nil
	case "audit":
		return RecordTypeAudit, nil
	case "log":
		return RecordTypeLog, nil
	}
	return RecordTypeUnknown, ErrInvalidArgument.WithDetailsf("unknown record type %q", s)
}

// Mode selects live streaming or archival catch-up.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeLive
	ModeArchive
)

// String returns the short mode name.
func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ParseMode parses "live" or "archive".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live":
		return ModeLive, nil
	case "archive", "archival":
		return ModeArchive, nil
	}
	return ModeUnknown, ErrInvalidArgument.WithDetailsf("unknown mode %q", s)
}

// DigestOutcome is the reconciliation result for one record.
type DigestOutcome uint8

const (
	DigestUnknown DigestOutcome = iota
	DigestConfirmed
	DigestInvalid
)

// String returns the wire status token.
func (o DigestOutcome) String() string {
	switch o {
	case DigestConfirmed:
		return "confirmed"
	case DigestInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParseDigestOutcome parses a wire status token.
func ParseDigestOutcome(s string) (DigestOutcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed":
		return DigestConfirmed, nil
	case "invalid":
		return DigestInvalid, nil
	case "unknown":
		return DigestUnknown, nil
	}
	return DigestUnknown, ErrUnexpectedValue.WithDetailsf("digest status %q", s)
}

// TransportKind tags which transport variant carries a session.
type TransportKind uint8

const (
	TransportChannel TransportKind = iota + 1
	TransportHTTP
)

// String returns the transport name.
func (k TransportKind) String() string {
	switch k {
	case TransportChannel:
		return "channel"
	case TransportHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// ParseTransportKind parses "channel" or "http".
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "channel", "tcp":
		return TransportChannel, nil
	case "http", "https":
		return TransportHTTP, nil
	}
	return 0, ErrInvalidArgument.WithDetailsf("unknown transport %q", s)
}

// RejectionReason is a wire token explaining why an offer or record was refused.
type RejectionReason string

// Negotiation rejection reasons.
const (
	ReasonUnsupportedVersion         RejectionReason = "JAL-Unsupported-Version"
	ReasonUnsupportedDigest          RejectionReason = "JAL-Unsupported-Digest"
	ReasonUnsupportedXMLCompression  RejectionReason = "JAL-Unsupported-XML-Compression"
	ReasonUnsupportedRecordType      RejectionReason = "JAL-Unsupported-Record-Type"
	ReasonUnsupportedMode            RejectionReason = "JAL-Unsupported-Mode"
	ReasonUnauthorizedMode           RejectionReason = "JAL-Unauthorized-Mode"
	ReasonUnsupportedConfigureDigest RejectionReason = "JAL-Unsupported-Configure-Digest-Challenge"
	ReasonUnauthorizedRecordType     RejectionReason = "JAL-Unauthorized-Record-Type"
	ReasonInvalidPublisherID         RejectionReason = "JAL-Invalid-Publisher-Id"
	ReasonSessionLimitExceeded       RejectionReason = "JAL-Session-Limit-Exceeded"
)

// Record and digest failure reasons.
const (
	ReasonInvalidDigest         RejectionReason = "JAL-Invalid-Digest"
	ReasonInvalidJALID          RejectionReason = "JAL-Invalid-JAL-Id"
	ReasonInvalidDigestStatus   RejectionReason = "JAL-Invalid-Digest-Status"
	ReasonInvalidSysMetaLength  RejectionReason = "JAL-Invalid-System-Metadata-Length"
	ReasonInvalidAppMetaLength  RejectionReason = "JAL-Invalid-Application-Metadata-Length"
	ReasonInvalidLogRecord      RejectionReason = "JAL-Invalid-Log-Record"
	ReasonIncompleteRecord      RejectionReason = "JAL-Record-Failure"
	ReasonSyncFailure           RejectionReason = "JAL-Sync-Failure"
	ReasonInvalidSessionID      RejectionReason = "JAL-Invalid-Session-Id"
	ReasonUnsupportedRecordKind RejectionReason = "JAL-Unsupported-Record-Message"
)

// InvalidPayloadLength returns the per-type payload length reason,
// e.g. JAL-Invalid-Journal-Length.
func InvalidPayloadLength(t RecordType) RejectionReason {
	return RejectionReason("JAL-Invalid-" + t.Title() + "-Length")
}

// JoinReasons renders reasons as a comma separated list.
func JoinReasons(reasons []RejectionReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

// SplitReasons parses a comma separated reason list.
func SplitReasons(s string) []RejectionReason {
	var out []RejectionReason
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, RejectionReason(p))
		}
	}
	return out
}
