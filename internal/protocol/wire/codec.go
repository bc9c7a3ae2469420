package wire

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// Header block limits.
const (
	MaxHeaders         = 128
	MaxHeaderBlockSize = 8 << 10
)

// HeaderError reports a missing or unacceptable header. It unwraps to
// domain.ErrMissingHeader or domain.ErrUnexpectedValue.
type HeaderError struct {
	Header string
	Value  string
	kind   *domain.DomainError
}

// MissingHeader returns a HeaderError for an absent mandatory header.
func MissingHeader(name string) *HeaderError {
	return &HeaderError{Header: name, kind: domain.ErrMissingHeader}
}

// UnexpectedValue returns a HeaderError for a value outside the allowed set.
func UnexpectedValue(name, value string) *HeaderError {
	return &HeaderError{Header: name, Value: value, kind: domain.ErrUnexpectedValue}
}

func (e *HeaderError) Error() string {
	if e.kind == domain.ErrMissingHeader {
		return e.kind.WithDetails(e.Header).Error()
	}
	return e.kind.WithDetailsf("%s=%q", e.Header, e.Value).Error()
}

func (e *HeaderError) Unwrap() error {
	return e.kind
}

// MarshalHeaders encodes h as "Name: value\r\n" lines terminated by an empty
// line. Names must be tokens and values must not contain CR or LF.
func MarshalHeaders(h Headers) ([]byte, error) {
	if len(h) > MaxHeaders {
		return nil, domain.ErrMalformedBody.WithDetailsf("more than %d headers", MaxHeaders)
	}
	var buf bytes.Buffer
	for _, name := range h.names() {
		value := h[name]
		if !validHeaderName(name) {
			return nil, domain.ErrMalformedBody.WithDetailsf("bad header name %q", name)
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, domain.ErrMalformedBody.WithDetailsf("line break in %s", name)
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

// UnmarshalHeaders decodes a header block produced by MarshalHeaders.
// Bare LF line endings are accepted.
func UnmarshalHeaders(data []byte) (Headers, error) {
	if len(data) > MaxHeaderBlockSize {
		return nil, domain.ErrMalformedBody.WithDetailsf("header block exceeds %d bytes", MaxHeaderBlockSize)
	}
	h := make(Headers)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || !validHeaderName(name) {
			return nil, domain.ErrMalformedBody.WithDetailsf("bad header line %q", line)
		}
		if len(h) >= MaxHeaders {
			return nil, domain.ErrMalformedBody.WithDetailsf("more than %d headers", MaxHeaders)
		}
		h.Set(name, strings.TrimSpace(value))
	}
	return h, nil
}

func validHeaderName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// EncodeHex renders a digest as lower-case hex.
func EncodeHex(digest []byte) string {
	return hex.EncodeToString(digest)
}

// DecodeHex parses a hex digest. Odd-length input is left-padded with "0".
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func requireHeader(h Headers, name string) (string, error) {
	v, ok := h.Lookup(name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", MissingHeader(name)
	}
	return v, nil
}

func requireInt(h Headers, name string, min int64) (int64, error) {
	v, err := requireHeader(h, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < min {
		return 0, UnexpectedValue(name, v)
	}
	return n, nil
}

func optionalInt(h Headers, name string) (int64, error) {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, UnexpectedValue(name, v)
	}
	return n, nil
}

func checkType(h Headers, want ...string) error {
	got := h.MessageType()
	if got == "" {
		return MissingHeader(HeaderMessage)
	}
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	return UnexpectedValue(HeaderMessage, got)
}

// encodePairs renders "<left>=<id>\r\n" lines.
func encodePairs(pairs [][2]string) []byte {
	var buf bytes.Buffer
	for _, p := range pairs {
		fmt.Fprintf(&buf, "%s=%s\r\n", p[0], p[1])
	}
	return buf.Bytes()
}

// decodePairs parses "<left>=<id>" lines and checks the announced count.
func decodePairs(body []byte, count int64) ([][2]string, error) {
	var pairs [][2]string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		left, id, ok := strings.Cut(line, "=")
		left, id = strings.TrimSpace(left), strings.TrimSpace(id)
		if !ok || left == "" || id == "" {
			return nil, domain.ErrMalformedBody.WithDetailsf("bad line %q", line)
		}
		pairs = append(pairs, [2]string{left, id})
	}
	if int64(len(pairs)) != count {
		return nil, UnexpectedValue(HeaderCount, strconv.FormatInt(count, 10))
	}
	return pairs, nil
}
