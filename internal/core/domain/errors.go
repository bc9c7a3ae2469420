package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a protocol or engine error with a structured error code.
// Codes have the form JAL-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "JAL-WIRE-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Wire Errors (WIRE)
// ============================================================================

var (
	// ErrMissingHeader indicates a mandatory header is absent.
	ErrMissingHeader = NewDomainError("JAL-WIRE-4001", "missing header")

	// ErrUnexpectedValue indicates a header value outside the allowed set.
	ErrUnexpectedValue = NewDomainError("JAL-WIRE-4002", "unexpected header value")

	// ErrMalformedBody indicates a message body that cannot be parsed.
	ErrMalformedBody = NewDomainError("JAL-WIRE-4003", "malformed message body")
)

// ============================================================================
// Record Errors (REC)
// ============================================================================

var (
	// ErrIncompleteRecord indicates a short read, a bad sentinel, or a digest
	// requested before the record finished.
	ErrIncompleteRecord = NewDomainError("JAL-REC-4221", "incomplete record")

	// ErrRecordFailure indicates the peer rejected a record.
	ErrRecordFailure = NewDomainError("JAL-REC-4001", "record failure")

	// ErrInvalidEnvelope indicates segment lengths violate the record-type rules.
	ErrInvalidEnvelope = NewDomainError("JAL-REC-4002", "invalid record envelope")
)

// ============================================================================
// Session Errors (SESS / NEG / SYNC)
// ============================================================================

var (
	// ErrSessionNotFound indicates the referenced session is unknown.
	ErrSessionNotFound = NewDomainError("JAL-SESS-4040", "session not found")

	// ErrSessionFailure indicates the session failed and must be torn down.
	ErrSessionFailure = NewDomainError("JAL-SESS-5001", "session failure")

	// ErrAdmissionRateLimited indicates the peer opened sessions too quickly.
	ErrAdmissionRateLimited = NewDomainError("JAL-SESS-4290", "session admission rate limited")

	// ErrNegotiationRejected indicates the initialize offer was rejected.
	ErrNegotiationRejected = NewDomainError("JAL-NEG-4030", "negotiation rejected")

	// ErrNegotiationState indicates an operation out of order for the negotiation state.
	ErrNegotiationState = NewDomainError("JAL-NEG-4090", "invalid negotiation state")

	// ErrSyncFailure indicates the local consumer refused a confirmed record.
	ErrSyncFailure = NewDomainError("JAL-SYNC-5001", "sync failure")
)

// ============================================================================
// Ledger Errors (LEDG)
// ============================================================================

var (
	// ErrDuplicatePending indicates the identifier already has a pending digest.
	ErrDuplicatePending = NewDomainError("JAL-LEDG-4090", "duplicate pending digest")
)

// ============================================================================
// Transport Errors (XPRT)
// ============================================================================

var (
	// ErrTransportClosed indicates the underlying transport was closed.
	ErrTransportClosed = NewDomainError("JAL-XPRT-5002", "transport closed")

	// ErrFrameCorrupt indicates a frame failed its checksum or size limit.
	ErrFrameCorrupt = NewDomainError("JAL-XPRT-5003", "corrupt frame")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("JAL-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("JAL-SYS-5001", "storage error")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("JAL-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("JAL-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("JAL-ARG-1002", "missing required argument")
)
