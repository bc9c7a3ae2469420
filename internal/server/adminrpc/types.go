package adminrpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// SessionInfo describes one registered session.
type SessionInfo struct {
	ID             string
	Role           string
	RecordType     string
	Mode           string
	Digest         string
	XMLCompression string
	Peer           string
	Transport      string
	CreatedAt      time.Time
	LastTouched    time.Time
	OK             bool
}

// SessionInfoFrom converts a session snapshot.
func SessionInfoFrom(s domain.Snapshot) SessionInfo {
	return SessionInfo{
		ID:             s.ID,
		Role:           s.Role.String(),
		RecordType:     s.RecordType.String(),
		Mode:           s.Mode.String(),
		Digest:         s.DigestAlgorithm,
		XMLCompression: s.XMLCompression,
		Peer:           s.PeerID,
		Transport:      s.Transport.String(),
		CreatedAt:      s.CreatedAt,
		LastTouched:    s.LastTouched,
		OK:             s.OK,
	}
}

// LedgerReport sums the digest ledgers of running sessions and the
// entries persisted for sessions that are gone.
type LedgerReport struct {
	Running  int
	Pending  int
	InFlight int
	// Persisted maps a session key to its stored pending digests.
	Persisted map[string]int
}

func (s SessionInfo) toMap() map[string]any {
	return map[string]any{
		"id":              s.ID,
		"role":            s.Role,
		"record_type":     s.RecordType,
		"mode":            s.Mode,
		"digest":          s.Digest,
		"xml_compression": s.XMLCompression,
		"peer":            s.Peer,
		"transport":       s.Transport,
		"created_at":      s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_touched":    s.LastTouched.UTC().Format(time.RFC3339Nano),
		"ok":              s.OK,
	}
}

func sessionFromStruct(st *structpb.Struct) SessionInfo {
	f := st.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	ts := func(k string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, str(k))
		return t
	}
	return SessionInfo{
		ID:             str("id"),
		Role:           str("role"),
		RecordType:     str("record_type"),
		Mode:           str("mode"),
		Digest:         str("digest"),
		XMLCompression: str("xml_compression"),
		Peer:           str("peer"),
		Transport:      str("transport"),
		CreatedAt:      ts("created_at"),
		LastTouched:    ts("last_touched"),
		OK:             f["ok"].GetBoolValue(),
	}
}

func encodeSessions(sessions []SessionInfo) (*structpb.Struct, error) {
	list := make([]any, len(sessions))
	for i, s := range sessions {
		list[i] = s.toMap()
	}
	return structpb.NewStruct(map[string]any{"sessions": list})
}

func decodeSessions(st *structpb.Struct) ([]SessionInfo, error) {
	v, ok := st.GetFields()["sessions"]
	if !ok {
		return nil, fmt.Errorf("adminrpc: response without sessions")
	}
	values := v.GetListValue().GetValues()
	out := make([]SessionInfo, 0, len(values))
	for _, item := range values {
		out = append(out, sessionFromStruct(item.GetStructValue()))
	}
	return out, nil
}

func encodeLedger(r LedgerReport) (*structpb.Struct, error) {
	persisted := make(map[string]any, len(r.Persisted))
	for k, n := range r.Persisted {
		persisted[k] = n
	}
	return structpb.NewStruct(map[string]any{
		"running":   r.Running,
		"pending":   r.Pending,
		"in_flight": r.InFlight,
		"persisted": persisted,
	})
}

func decodeLedger(st *structpb.Struct) LedgerReport {
	f := st.GetFields()
	r := LedgerReport{
		Running:   int(f["running"].GetNumberValue()),
		Pending:   int(f["pending"].GetNumberValue()),
		InFlight:  int(f["in_flight"].GetNumberValue()),
		Persisted: make(map[string]int),
	}
	for k, v := range f["persisted"].GetStructValue().GetFields() {
		r.Persisted[k] = int(v.GetNumberValue())
	}
	return r
}
