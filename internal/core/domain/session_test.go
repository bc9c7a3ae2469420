package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	s, err := NewSession(RoleSubscriber, RecordTypeJournal, "10.0.0.1")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if !strings.HasPrefix(s.ID, SessionIDPrefix) {
		t.Errorf("ID = %q, want prefix %q", s.ID, SessionIDPrefix)
	}
	if !IsValidSessionID(s.ID) {
		t.Errorf("IsValidSessionID(%q) = false", s.ID)
	}
	if !s.ConfigureDigest {
		t.Error("ConfigureDigest should default to true")
	}
	if !s.IsOK() {
		t.Error("new session should be OK")
	}
	if s.LastTouched().IsZero() {
		t.Error("LastTouched should be initialized")
	}
}

func TestGenerateSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("GenerateSessionID() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"jals-01arz3ndektsv4rrffq69g5fav", true},
		{"JALS-01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
		{"tmss-01arz3ndektsv4rrffq69g5fav", false},
		{"jals-short", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidSessionID(tt.id); got != tt.want {
			t.Errorf("IsValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSession_TouchAndError(t *testing.T) {
	s, _ := NewSession(RolePublisher, RecordTypeLog, "peer")
	at := time.Unix(1700000000, 5)
	s.Touch(at)
	if !s.LastTouched().Equal(at) {
		t.Errorf("LastTouched() = %v, want %v", s.LastTouched(), at)
	}

	s.SetErrored()
	if s.IsOK() {
		t.Error("IsOK() should be false after SetErrored")
	}
	if snap := s.Snapshot(); snap.OK || snap.ID != s.ID {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestSession_Key(t *testing.T) {
	s, _ := NewSession(RoleSubscriber, RecordTypeAudit, "10.0.0.1:4000")
	if got := s.Key(); got != "subscriber/audit/10.0.0.1:4000" {
		t.Errorf("Key() = %q", got)
	}
	s.PublisherID = "pub-1"
	if got := s.Key(); got != "subscriber/audit/pub-1" {
		t.Errorf("Key() with publisher id = %q", got)
	}
}
