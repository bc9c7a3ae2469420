package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() = %+v, fields should not be empty", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.Contains(s, Version) || !strings.Contains(s, "built at") {
		t.Errorf("String() = %q", s)
	}
}

func TestAgent(t *testing.T) {
	old := Version
	Version = "1.2.0"
	defer func() { Version = old }()

	if got := Agent(); got != "jalsync/1.2.0" {
		t.Errorf("Agent() = %q, want %q", got, "jalsync/1.2.0")
	}
}
