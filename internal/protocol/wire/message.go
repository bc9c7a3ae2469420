package wire

import (
	"math"
	"strconv"
	"strings"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// Message is a typed protocol message.
type Message interface {
	Type() string
	Headers() Headers
}

// BodyMessage is a message that carries a body after its header block.
type BodyMessage interface {
	Message
	Body() []byte
}

// ============================================================================
// Negotiation
// ============================================================================

// Initialize is the initiator's offer. Decoding is lenient: unknown mode or
// record type values decode to the Unknown enum so the listener can collect
// every rejection reason at once.
type Initialize struct {
	Role          domain.Role
	Mode          domain.Mode
	RawMode       string
	RecordType    domain.RecordType
	RawRecordType string

	AcceptDigests         []string
	AcceptXMLCompressions []string
	AcceptConfigureDigest []string

	Version     string
	Agent       string
	PublisherID string
}

func (m *Initialize) Type() string { return MsgInitialize }

func (m *Initialize) Headers() Headers {
	h := Headers{HeaderMessage: MsgInitialize}
	mode := m.RawMode
	if mode == "" {
		mode = EncodeMode(m.Role, m.Mode)
	}
	h.Set(HeaderMode, mode)
	rt := m.RawRecordType
	if rt == "" {
		rt = m.RecordType.String()
	}
	h.Set(HeaderRecordType, rt)
	if len(m.AcceptDigests) > 0 {
		h.Set(HeaderAcceptDigest, FormatList(m.AcceptDigests))
	}
	if len(m.AcceptXMLCompressions) > 0 {
		h.Set(HeaderAcceptXMLCompression, FormatList(m.AcceptXMLCompressions))
	}
	if len(m.AcceptConfigureDigest) > 0 {
		h.Set(HeaderAcceptConfigureDigest, FormatList(m.AcceptConfigureDigest))
	}
	if m.Version != "" {
		h.Set(HeaderVersion, m.Version)
	}
	if m.Agent != "" {
		h.Set(HeaderAgent, m.Agent)
	}
	if m.PublisherID != "" {
		h.Set(HeaderPublisherID, m.PublisherID)
	}
	return h
}

// DecodeInitialize decodes an initialize message. Absent list headers take
// their defaults.
func DecodeInitialize(h Headers) (*Initialize, error) {
	if err := checkType(h, MsgInitialize); err != nil {
		return nil, err
	}
	m := &Initialize{
		RawMode:               strings.TrimSpace(h.Get(HeaderMode)),
		AcceptDigests:         ParseListDefault(h.Get(HeaderAcceptDigest), DefaultDigest),
		AcceptXMLCompressions: ParseListDefault(h.Get(HeaderAcceptXMLCompression), DefaultXMLCompression),
		AcceptConfigureDigest: ParseListDefault(h.Get(HeaderAcceptConfigureDigest), DefaultConfigureDigest),
		Version:               strings.TrimSpace(h.Get(HeaderVersion)),
		Agent:                 strings.TrimSpace(h.Get(HeaderAgent)),
		PublisherID:           strings.TrimSpace(h.Get(HeaderPublisherID)),
	}
	m.Role, m.Mode, _ = DecodeMode(m.RawMode)

	m.RawRecordType = strings.TrimSpace(h.Get(HeaderRecordType))
	if m.RawRecordType == "" {
		m.RawRecordType = strings.TrimSpace(h.Get(HeaderDataClass))
	}
	m.RecordType, _ = domain.ParseRecordType(m.RawRecordType)
	return m, nil
}

// EncodeMode renders the JAL-Mode value for an initiator role and mode.
func EncodeMode(role domain.Role, mode domain.Mode) string {
	switch {
	case role == domain.RolePublisher && mode == domain.ModeLive:
		return ModePublishLive
	case role == domain.RolePublisher && mode == domain.ModeArchive:
		return ModePublishArchival
	case role == domain.RoleSubscriber && mode == domain.ModeLive:
		return ModeSubscribeLive
	case role == domain.RoleSubscriber && mode == domain.ModeArchive:
		return ModeSubscribeArchival
	}
	return ""
}

// DecodeMode splits a JAL-Mode value into initiator role and mode.
func DecodeMode(v string) (domain.Role, domain.Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case ModePublishLive:
		return domain.RolePublisher, domain.ModeLive, true
	case ModePublishArchival, "publish-archive":
		return domain.RolePublisher, domain.ModeArchive, true
	case ModeSubscribeLive:
		return domain.RoleSubscriber, domain.ModeLive, true
	case ModeSubscribeArchival, "subscribe-archive":
		return domain.RoleSubscriber, domain.ModeArchive, true
	}
	return domain.RoleUnknown, domain.ModeUnknown, false
}

// InitializeAck accepts an offer and carries the selected parameters.
// ResumeID and ResumeOffset are set when a journal record should resume.
type InitializeAck struct {
	SessionID       string
	Digest          string
	XMLCompression  string
	ConfigureDigest bool
	Version         string
	Agent           string
	ResumeID        string
	ResumeOffset    int64
}

func (m *InitializeAck) Type() string { return MsgInitializeAck }

func (m *InitializeAck) Headers() Headers {
	h := Headers{
		HeaderMessage:         MsgInitializeAck,
		HeaderSessionID:       m.SessionID,
		HeaderDigest:          m.Digest,
		HeaderXMLCompression:  m.XMLCompression,
		HeaderConfigureDigest: configureDigestValue(m.ConfigureDigest),
	}
	if m.Version != "" {
		h.Set(HeaderVersion, m.Version)
	}
	if m.Agent != "" {
		h.Set(HeaderAgent, m.Agent)
	}
	if m.ResumeID != "" && m.ResumeOffset > 0 {
		h.Set(HeaderID, m.ResumeID)
		h.Set(HeaderJournalOffset, strconv.FormatInt(m.ResumeOffset, 10))
	}
	return h
}

// DecodeInitializeAck decodes an initialize-ack message.
func DecodeInitializeAck(h Headers) (*InitializeAck, error) {
	if err := checkType(h, MsgInitializeAck); err != nil {
		return nil, err
	}
	sid, err := requireHeader(h, HeaderSessionID)
	if err != nil {
		return nil, err
	}
	m := &InitializeAck{
		SessionID:      sid,
		Digest:         firstOr(h.Get(HeaderDigest), DefaultDigest),
		XMLCompression: firstOr(h.Get(HeaderXMLCompression), DefaultXMLCompression),
		Version:        strings.TrimSpace(h.Get(HeaderVersion)),
		Agent:          strings.TrimSpace(h.Get(HeaderAgent)),
		ResumeID:       strings.TrimSpace(h.Get(HeaderID)),
	}
	if m.ConfigureDigest, err = parseConfigureDigest(firstOr(h.Get(HeaderConfigureDigest), DefaultConfigureDigest)); err != nil {
		return nil, err
	}
	if m.ResumeOffset, err = optionalInt(h, HeaderJournalOffset); err != nil {
		return nil, err
	}
	return m, nil
}

// InitializeNack rejects an offer with every applicable reason.
type InitializeNack struct {
	Reasons []domain.RejectionReason
}

func (m *InitializeNack) Type() string { return MsgInitializeNack }

func (m *InitializeNack) Headers() Headers {
	return Headers{
		HeaderMessage:      MsgInitializeNack,
		HeaderErrorMessage: domain.JoinReasons(m.Reasons),
	}
}

// DecodeInitializeNack decodes an initialize-nack message.
func DecodeInitializeNack(h Headers) (*InitializeNack, error) {
	if err := checkType(h, MsgInitializeNack); err != nil {
		return nil, err
	}
	v, err := requireHeader(h, HeaderErrorMessage)
	if err != nil {
		return nil, err
	}
	return &InitializeNack{Reasons: domain.SplitReasons(v)}, nil
}

// ============================================================================
// Subscription
// ============================================================================

// Subscribe starts record delivery when the Subscriber initiated the session.
type Subscribe struct {
	Mode domain.Mode
}

func (m *Subscribe) Type() string { return MsgSubscribe }

func (m *Subscribe) Headers() Headers {
	return Headers{
		HeaderMessage: MsgSubscribe,
		HeaderMode:    EncodeMode(domain.RoleSubscriber, m.Mode),
	}
}

// DecodeSubscribe decodes a subscribe message.
func DecodeSubscribe(h Headers) (*Subscribe, error) {
	if err := checkType(h, MsgSubscribe); err != nil {
		return nil, err
	}
	v, err := requireHeader(h, HeaderMode)
	if err != nil {
		return nil, err
	}
	role, mode, ok := DecodeMode(v)
	if !ok || role != domain.RoleSubscriber {
		return nil, UnexpectedValue(HeaderMode, v)
	}
	return &Subscribe{Mode: mode}, nil
}

// JournalResume asks the Publisher to continue a journal record at Offset.
type JournalResume struct {
	RecordID string
	Offset   int64
}

func (m *JournalResume) Type() string { return MsgJournalResume }

func (m *JournalResume) Headers() Headers {
	return Headers{
		HeaderMessage:       MsgJournalResume,
		HeaderID:            m.RecordID,
		HeaderJournalOffset: strconv.FormatInt(m.Offset, 10),
	}
}

// DecodeJournalResume decodes a journal-resume message.
func DecodeJournalResume(h Headers) (*JournalResume, error) {
	if err := checkType(h, MsgJournalResume); err != nil {
		return nil, err
	}
	id, err := requireHeader(h, HeaderID)
	if err != nil {
		return nil, err
	}
	off, err := requireInt(h, HeaderJournalOffset, 1)
	if err != nil {
		return nil, err
	}
	return &JournalResume{RecordID: id, Offset: off}, nil
}

// ============================================================================
// Records
// ============================================================================

// RecordHeader announces a record. The framed segments follow as the body.
// Offset is non-zero only for a resumed journal record; the body then
// carries PayloadLength-Offset payload bytes.
type RecordHeader struct {
	Envelope domain.RecordEnvelope
	Offset   int64
}

func (m *RecordHeader) Type() string { return RecordMessageType(m.Envelope.RecordType) }

func (m *RecordHeader) Headers() Headers {
	env := m.Envelope
	h := Headers{
		HeaderMessage:       m.Type(),
		HeaderID:            env.RecordID,
		HeaderSysMetaLength: strconv.FormatInt(env.SysMetaLength, 10),
		HeaderAppMetaLength: strconv.FormatInt(env.AppMetaLength, 10),
	}
	h.Set(PayloadLengthHeader(env.RecordType), strconv.FormatInt(env.PayloadLength, 10))
	if m.Offset > 0 {
		h.Set(HeaderJournalOffset, strconv.FormatInt(m.Offset, 10))
	}
	return h
}

// RecordMessageType maps a record type to its message type.
func RecordMessageType(t domain.RecordType) string {
	switch t {
	case domain.RecordTypeJournal:
		return MsgJournalRecord
	case domain.RecordTypeAudit:
		return MsgAuditRecord
	case domain.RecordTypeLog:
		return MsgLogRecord
	}
	return ""
}

// PayloadLengthHeader returns the per-type payload length header.
func PayloadLengthHeader(t domain.RecordType) string {
	switch t {
	case domain.RecordTypeJournal:
		return HeaderJournalLength
	case domain.RecordTypeAudit:
		return HeaderAuditLength
	default:
		return HeaderLogLength
	}
}

// IsRecordMessage reports whether a message type carries a record.
func IsRecordMessage(msgType string) bool {
	return msgType == MsgJournalRecord || msgType == MsgAuditRecord || msgType == MsgLogRecord
}

// DecodeRecordHeader decodes a record message header. Lengths are parsed
// but not validated; see domain.RecordEnvelope.Validate.
func DecodeRecordHeader(h Headers) (*RecordHeader, error) {
	if err := checkType(h, MsgJournalRecord, MsgAuditRecord, MsgLogRecord); err != nil {
		return nil, err
	}
	var rt domain.RecordType
	switch h.MessageType() {
	case MsgJournalRecord:
		rt = domain.RecordTypeJournal
	case MsgAuditRecord:
		rt = domain.RecordTypeAudit
	default:
		rt = domain.RecordTypeLog
	}

	env := domain.RecordEnvelope{RecordType: rt}
	var err error
	if env.RecordID, err = requireHeader(h, HeaderID); err != nil {
		return nil, err
	}
	if env.SysMetaLength, err = requireInt(h, HeaderSysMetaLength, math.MinInt64); err != nil {
		return nil, err
	}
	if env.AppMetaLength, err = requireInt(h, HeaderAppMetaLength, math.MinInt64); err != nil {
		return nil, err
	}
	if env.PayloadLength, err = requireInt(h, PayloadLengthHeader(rt), math.MinInt64); err != nil {
		return nil, err
	}
	m := &RecordHeader{Envelope: env}
	if m.Offset, err = optionalInt(h, HeaderJournalOffset); err != nil {
		return nil, err
	}
	if m.Offset > 0 && (rt != domain.RecordTypeJournal || m.Offset > env.PayloadLength) {
		return nil, UnexpectedValue(HeaderJournalOffset, strconv.FormatInt(m.Offset, 10))
	}
	return m, nil
}

// ============================================================================
// Digests
// ============================================================================

// DigestEntry is one identifier and its locally computed digest.
type DigestEntry struct {
	RecordID string
	Digest   []byte
}

// Digest is a batch of digests, first-added first.
type Digest struct {
	Entries []DigestEntry
}

func (m *Digest) Type() string { return MsgDigest }

func (m *Digest) Headers() Headers {
	return Headers{
		HeaderMessage: MsgDigest,
		HeaderCount:   strconv.Itoa(len(m.Entries)),
	}
}

func (m *Digest) Body() []byte {
	pairs := make([][2]string, len(m.Entries))
	for i, e := range m.Entries {
		pairs[i] = [2]string{EncodeHex(e.Digest), e.RecordID}
	}
	return encodePairs(pairs)
}

// DecodeDigest decodes a digest batch.
func DecodeDigest(h Headers, body []byte) (*Digest, error) {
	if err := checkType(h, MsgDigest); err != nil {
		return nil, err
	}
	count, err := requireInt(h, HeaderCount, 0)
	if err != nil {
		return nil, err
	}
	pairs, err := decodePairs(body, count)
	if err != nil {
		return nil, err
	}
	m := &Digest{Entries: make([]DigestEntry, 0, len(pairs))}
	for _, p := range pairs {
		d, err := DecodeHex(p[0])
		if err != nil {
			return nil, UnexpectedValue(HeaderDigestValue, p[0])
		}
		m.Entries = append(m.Entries, DigestEntry{RecordID: p[1], Digest: d})
	}
	return m, nil
}

// DigestStatus is the reconciliation outcome for one identifier.
type DigestStatus struct {
	RecordID string
	Outcome  domain.DigestOutcome
}

// DigestResponse answers a digest batch.
type DigestResponse struct {
	Entries []DigestStatus
}

func (m *DigestResponse) Type() string { return MsgDigestResponse }

func (m *DigestResponse) Headers() Headers {
	return Headers{
		HeaderMessage: MsgDigestResponse,
		HeaderCount:   strconv.Itoa(len(m.Entries)),
	}
}

func (m *DigestResponse) Body() []byte {
	pairs := make([][2]string, len(m.Entries))
	for i, e := range m.Entries {
		pairs[i] = [2]string{e.Outcome.String(), e.RecordID}
	}
	return encodePairs(pairs)
}

// DecodeDigestResponse decodes a digest-response message.
func DecodeDigestResponse(h Headers, body []byte) (*DigestResponse, error) {
	if err := checkType(h, MsgDigestResponse); err != nil {
		return nil, err
	}
	count, err := requireInt(h, HeaderCount, 0)
	if err != nil {
		return nil, err
	}
	pairs, err := decodePairs(body, count)
	if err != nil {
		return nil, err
	}
	m := &DigestResponse{Entries: make([]DigestStatus, 0, len(pairs))}
	for _, p := range pairs {
		o, err := domain.ParseDigestOutcome(p[0])
		if err != nil {
			return nil, UnexpectedValue(HeaderDigestStatus, p[0])
		}
		m.Entries = append(m.Entries, DigestStatus{RecordID: p[1], Outcome: o})
	}
	return m, nil
}

// ============================================================================
// Per-record outcomes
// ============================================================================

// Sync confirms one record end-to-end.
type Sync struct {
	RecordID string
}

func (m *Sync) Type() string { return MsgSync }

func (m *Sync) Headers() Headers {
	return Headers{HeaderMessage: MsgSync, HeaderID: m.RecordID}
}

// Failure is the shared shape of sync-failure and record-failure.
type Failure struct {
	msgType  string
	RecordID string
	Reasons  []domain.RejectionReason
}

// NewSyncFailure builds a sync-failure message.
func NewSyncFailure(id string, reasons ...domain.RejectionReason) *Failure {
	return &Failure{msgType: MsgSyncFailure, RecordID: id, Reasons: reasons}
}

// NewRecordFailure builds a record-failure message.
func NewRecordFailure(id string, reasons ...domain.RejectionReason) *Failure {
	return &Failure{msgType: MsgRecordFailure, RecordID: id, Reasons: reasons}
}

func (m *Failure) Type() string { return m.msgType }

func (m *Failure) Headers() Headers {
	h := Headers{HeaderMessage: m.msgType, HeaderID: m.RecordID}
	if len(m.Reasons) > 0 {
		h.Set(HeaderErrorMessage, domain.JoinReasons(m.Reasons))
	}
	return h
}

// JournalMissing tells the Publisher the Subscriber lost a partial journal record.
type JournalMissing struct {
	RecordID string
}

func (m *JournalMissing) Type() string { return MsgJournalMissing }

func (m *JournalMissing) Headers() Headers {
	return Headers{HeaderMessage: MsgJournalMissing, HeaderID: m.RecordID}
}

// JournalMissingResponse acknowledges a journal-missing message.
type JournalMissingResponse struct {
	RecordID string
}

func (m *JournalMissingResponse) Type() string { return MsgJournalMissingResponse }

func (m *JournalMissingResponse) Headers() Headers {
	return Headers{HeaderMessage: MsgJournalMissingResponse, HeaderID: m.RecordID}
}

// SessionFailure reports a fatal session error to the peer.
type SessionFailure struct {
	Reasons []domain.RejectionReason
}

func (m *SessionFailure) Type() string { return MsgSessionFailure }

func (m *SessionFailure) Headers() Headers {
	h := Headers{HeaderMessage: MsgSessionFailure}
	if len(m.Reasons) > 0 {
		h.Set(HeaderErrorMessage, domain.JoinReasons(m.Reasons))
	}
	return h
}

// CloseSession ends a session cleanly.
type CloseSession struct{}

func (m *CloseSession) Type() string { return MsgCloseSession }

func (m *CloseSession) Headers() Headers {
	return Headers{HeaderMessage: MsgCloseSession}
}

// Decode dispatches on JAL-Message. Record messages decode to *RecordHeader;
// their body is left to the record stream.
func Decode(h Headers, body []byte) (Message, error) {
	switch t := h.MessageType(); t {
	case "":
		return nil, MissingHeader(HeaderMessage)
	case MsgInitialize:
		return DecodeInitialize(h)
	case MsgInitializeAck:
		return DecodeInitializeAck(h)
	case MsgInitializeNack:
		return DecodeInitializeNack(h)
	case MsgSubscribe:
		return DecodeSubscribe(h)
	case MsgJournalResume:
		return DecodeJournalResume(h)
	case MsgJournalRecord, MsgAuditRecord, MsgLogRecord:
		return DecodeRecordHeader(h)
	case MsgDigest:
		return DecodeDigest(h, body)
	case MsgDigestResponse:
		return DecodeDigestResponse(h, body)
	case MsgSync:
		id, err := requireHeader(h, HeaderID)
		if err != nil {
			return nil, err
		}
		return &Sync{RecordID: id}, nil
	case MsgSyncFailure, MsgRecordFailure:
		id, err := requireHeader(h, HeaderID)
		if err != nil {
			return nil, err
		}
		return &Failure{msgType: t, RecordID: id, Reasons: domain.SplitReasons(h.Get(HeaderErrorMessage))}, nil
	case MsgJournalMissing:
		id, err := requireHeader(h, HeaderID)
		if err != nil {
			return nil, err
		}
		return &JournalMissing{RecordID: id}, nil
	case MsgJournalMissingResponse:
		id, err := requireHeader(h, HeaderID)
		if err != nil {
			return nil, err
		}
		return &JournalMissingResponse{RecordID: id}, nil
	case MsgSessionFailure:
		return &SessionFailure{Reasons: domain.SplitReasons(h.Get(HeaderErrorMessage))}, nil
	case MsgCloseSession:
		return &CloseSession{}, nil
	default:
		return nil, UnexpectedValue(HeaderMessage, t)
	}
}

func configureDigestValue(on bool) string {
	if on {
		return ConfigureDigestOn
	}
	return ConfigureDigestOff
}

func parseConfigureDigest(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case ConfigureDigestOn:
		return true, nil
	case ConfigureDigestOff:
		return false, nil
	}
	return false, UnexpectedValue(HeaderConfigureDigest, v)
}

func firstOr(v, def string) string {
	if l := ParseList(v); len(l) > 0 {
		return l[0]
	}
	return def
}
