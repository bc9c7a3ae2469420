package domain

import (
	"crypto/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// SessionIDPrefix is the prefix for session IDs.
	SessionIDPrefix = "jals-"

	// ConnectionIDPrefix is the prefix for HTTP transport connection IDs.
	ConnectionIDPrefix = "jalc-"
)

// Session is a negotiated association between a local role and a peer for
// exactly one record type. Parameters are immutable once established;
// only lastTouched and the error flag change afterwards.
type Session struct {
	// ID is the unique identifier for the session.
	// Format: jals-{ulid_lowercase}, 31 characters total.
	ID string `json:"id"`

	// Role is the local role. The peer plays Role.Peer().
	Role Role `json:"role"`

	RecordType      RecordType    `json:"record_type"`
	Mode            Mode          `json:"mode"`
	DigestAlgorithm string        `json:"digest_algorithm"`
	XMLCompression  string        `json:"xml_compression"`
	ConfigureDigest bool          `json:"configure_digest"`
	PeerID          string        `json:"peer_id"`
	PublisherID     string        `json:"publisher_id,omitempty"`
	Transport       TransportKind `json:"transport"`
	CreatedAt       time.Time     `json:"created_at"`

	lastTouched atomic.Int64
	errored     atomic.Bool
}

// NewSession creates a session with a generated ID, touched at now.
func NewSession(role Role, recordType RecordType, peerID string) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := &Session{
		ID:              id,
		Role:            role,
		RecordType:      recordType,
		PeerID:          peerID,
		ConfigureDigest: true,
		CreatedAt:       now,
	}
	s.lastTouched.Store(now.UnixNano())
	return s, nil
}

// GenerateSessionID generates a new session ID using ULID.
func GenerateSessionID() (string, error) {
	return generateID(SessionIDPrefix)
}

// GenerateConnectionID generates a new HTTP transport connection ID.
func GenerateConnectionID() (string, error) {
	return generateID(ConnectionIDPrefix)
}

func generateID(prefix string) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return prefix + strings.ToLower(id.String()), nil
}

// IsValidSessionID checks if a string is a valid session ID.
func IsValidSessionID(id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, SessionIDPrefix) || len(id) != len(SessionIDPrefix)+26 {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(SessionIDPrefix):]))
	return err == nil
}

// Touch records activity at t.
func (s *Session) Touch(t time.Time) {
	s.lastTouched.Store(t.UnixNano())
}

// LastTouched returns the time of the most recent activity.
func (s *Session) LastTouched() time.Time {
	return time.Unix(0, s.lastTouched.Load())
}

// SetErrored marks the session as failed. It is never cleared.
func (s *Session) SetErrored() {
	s.errored.Store(true)
}

// IsOK reports whether the session has not failed.
func (s *Session) IsOK() bool {
	return !s.errored.Load()
}

// Key identifies the durable state shared by successive sessions between the
// same peer, role and record type.
func (s *Session) Key() string {
	peer := s.PublisherID
	if peer == "" {
		peer = s.PeerID
	}
	return s.Role.String() + "/" + s.RecordType.String() + "/" + peer
}

// Snapshot is a copy of the session suitable for listing.
type Snapshot struct {
	ID              string
	Role            Role
	RecordType      RecordType
	Mode            Mode
	DigestAlgorithm string
	XMLCompression  string
	PeerID          string
	Transport       TransportKind
	CreatedAt       time.Time
	LastTouched     time.Time
	OK              bool
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:              s.ID,
		Role:            s.Role,
		RecordType:      s.RecordType,
		Mode:            s.Mode,
		DigestAlgorithm: s.DigestAlgorithm,
		XMLCompression:  s.XMLCompression,
		PeerID:          s.PeerID,
		Transport:       s.Transport,
		CreatedAt:       s.CreatedAt,
		LastTouched:     s.LastTouched(),
		OK:              s.IsOK(),
	}
}
