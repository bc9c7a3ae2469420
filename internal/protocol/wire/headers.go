package wire

import (
	"sort"
	"strings"
)

// Canonical header names.
const (
	HeaderMessage               = "JAL-Message"
	HeaderMode                  = "JAL-Mode"
	HeaderAcceptDigest          = "JAL-Accept-Digest"
	HeaderDigest                = "JAL-Digest"
	HeaderAcceptXMLCompression  = "JAL-Accept-XML-Compression"
	HeaderXMLCompression        = "JAL-XML-Compression"
	HeaderAcceptConfigureDigest = "JAL-Accept-Configure-Digest-Challenge"
	HeaderConfigureDigest       = "JAL-Configure-Digest-Challenge"
	HeaderRecordType            = "JAL-Record-Type"
	HeaderDataClass             = "JAL-Data-Class"
	HeaderVersion               = "JAL-Version"
	HeaderAgent                 = "JAL-Agent"
	HeaderID                    = "JAL-Id"
	HeaderSysMetaLength         = "JAL-System-Metadata-Length"
	HeaderAppMetaLength         = "JAL-Application-Metadata-Length"
	HeaderLogLength             = "JAL-Log-Length"
	HeaderAuditLength           = "JAL-Audit-Length"
	HeaderJournalLength         = "JAL-Journal-Length"
	HeaderJournalOffset         = "JAL-Journal-Offset"
	HeaderSessionID             = "JAL-Session-Id"
	HeaderPublisherID           = "JAL-Publisher-Id"
	HeaderDigestValue           = "JAL-Digest-Value"
	HeaderDigestStatus          = "JAL-Digest-Status"
	HeaderErrorMessage          = "JAL-Error-Message"
	HeaderCount                 = "JAL-Count"
	HeaderConnectionID          = "JAL-Connection-Id"
)

// Message types carried in JAL-Message.
const (
	MsgInitialize             = "initialize"
	MsgInitializeAck          = "initialize-ack"
	MsgInitializeNack         = "initialize-nack"
	MsgSubscribe              = "subscribe"
	MsgJournalResume          = "journal-resume"
	MsgLogRecord              = "log-record"
	MsgAuditRecord            = "audit-record"
	MsgJournalRecord          = "journal-record"
	MsgDigest                 = "digest"
	MsgDigestResponse         = "digest-response"
	MsgSync                   = "sync"
	MsgSyncFailure            = "sync-failure"
	MsgRecordFailure          = "record-failure"
	MsgJournalMissing         = "journal-missing"
	MsgJournalMissingResponse = "journal-missing-response"
	MsgSessionFailure         = "session-failure"
	MsgCloseSession           = "close-session"
)

// Values and defaults.
const (
	SupportedVersion = "2.0"

	DefaultDigest          = "sha256"
	DefaultXMLCompression  = "none"
	ConfigureDigestOn      = "on"
	ConfigureDigestOff     = "off"
	DefaultConfigureDigest = ConfigureDigestOn

	ModePublishLive       = "publish-live"
	ModePublishArchival   = "publish-archival"
	ModeSubscribeLive     = "subscribe-live"
	ModeSubscribeArchival = "subscribe-archival"
)

// XMLCompressions lists the compressions this implementation can negotiate.
var XMLCompressions = []string{"none", "exi-1.0", "deflate"}

// Headers is a header set. Lookups ignore case; Set keeps the given spelling.
type Headers map[string]string

// Get returns the value for name, ignoring case.
func (h Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value for name and whether it was present.
func (h Headers) Lookup(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Set replaces any existing value for name.
func (h Headers) Set(name, value string) {
	for k := range h {
		if k != name && strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
	h[name] = value
}

// Del removes name, ignoring case.
func (h Headers) Del(name string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
}

// MessageType returns the JAL-Message value.
func (h Headers) MessageType() string {
	return strings.ToLower(strings.TrimSpace(h.Get(HeaderMessage)))
}

// Clone returns a copy of h.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// names returns header names with JAL-Message first and the rest sorted.
func (h Headers) names() []string {
	names := make([]string, 0, len(h))
	var msg string
	for k := range h {
		if strings.EqualFold(k, HeaderMessage) {
			msg = k
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	if msg != "" {
		names = append([]string{msg}, names...)
	}
	return names
}

// ParseList splits a comma separated header value, trimming entries and
// dropping empty ones. Order is preserved; the first entry is preferred.
func ParseList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseListDefault is ParseList falling back to def when the value is empty.
func ParseListDefault(value, def string) []string {
	if l := ParseList(value); len(l) > 0 {
		return l
	}
	return []string{def}
}

// FormatList joins values for a list header.
func FormatList(values []string) string {
	return strings.Join(values, ", ")
}
