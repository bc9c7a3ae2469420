package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("JAL-TEST-1000", "test message"),
			expected: "[JAL-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("JAL-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[JAL-TEST-1001] test message: extra info",
		},
		{
			name:     "error with formatted details",
			err:      ErrMissingHeader.WithDetailsf("header %s", "JAL-Id"),
			expected: "[JAL-WIRE-4001] missing header: header JAL-Id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("JAL-TEST-1000", "message 1")
	err2 := NewDomainError("JAL-TEST-1000", "message 2")
	err3 := NewDomainError("JAL-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}

	detailed := ErrIncompleteRecord.WithDetails("short read")
	if !errors.Is(fmt.Errorf("record r1: %w", detailed), ErrIncompleteRecord) {
		t.Error("errors.Is should see through wrapping and details")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("JAL-TEST-1000", "wrapper").WithCause(cause)

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := NewDomainError("JAL-TEST-1000", "no cause")
	if errors.Unwrap(errNoCause) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestDomainError_CopiesAreIndependent(t *testing.T) {
	original := NewDomainError("JAL-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")
	withCause := withDetails.Wrap(fmt.Errorf("root cause"))

	if original.Details != "" || original.Cause != nil {
		t.Error("WithDetails/WithCause should not modify original error")
	}
	if withCause.Details != "additional details" {
		t.Errorf("Details = %q, want preserved details", withCause.Details)
	}
	if withCause.Code != original.Code || withCause.Message != original.Message {
		t.Error("Code and Message should be preserved")
	}
}

func TestIsDomainError(t *testing.T) {
	err := ErrSessionNotFound

	if !IsDomainError(err, "JAL-SESS-4040") {
		t.Error("IsDomainError should return true for matching code")
	}
	if IsDomainError(err, "JAL-SESS-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}
	if !IsDomainError(err, "") {
		t.Error("IsDomainError with empty code should match any DomainError")
	}
	if IsDomainError(fmt.Errorf("regular error"), "JAL-SESS-4040") {
		t.Error("IsDomainError should return false for non-DomainError")
	}

	wrapped := fmt.Errorf("wrapped: %w", ErrSessionNotFound)
	if !IsDomainError(wrapped, "JAL-SESS-4040") {
		t.Error("IsDomainError should work with wrapped errors")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrDuplicatePending, "JAL-LEDG-4090"},
		{"wrapped domain error", fmt.Errorf("wrapped: %w", ErrUnexpectedValue), "JAL-WIRE-4002"},
		{"regular error", fmt.Errorf("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}
