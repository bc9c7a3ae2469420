package repl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"session list", []string{"session", "list"}},
		{"  session   evict  js-1 ", []string{"session", "evict", "js-1"}},
		{`publish --addr "host 1:1234" /var/records`, []string{"publish", "--addr", "host 1:1234", "/var/records"}},
		{`echo 'a "b"' c\ d`, []string{"echo", `a "b"`, "c d"}},
		{`x ""`, []string{"x", ""}},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.line)
		if err != nil {
			t.Errorf("SplitArgs(%q) error = %v", tt.line, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitArgs(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestSplitArgs_Unterminated(t *testing.T) {
	for _, line := range []string{`a "b`, `a 'b`, `a b\`} {
		if _, err := SplitArgs(line); !errors.Is(err, ErrUnterminatedQuote) {
			t.Errorf("SplitArgs(%q) error = %v, want ErrUnterminatedQuote", line, err)
		}
	}
}

func TestREPL_RunExecutesUntilExit(t *testing.T) {
	var got [][]string
	exec := func(_ context.Context, args []string) error {
		got = append(got, args)
		if args[0] == "fail" {
			return errors.New("boom")
		}
		return nil
	}
	var out bytes.Buffer
	r := New(Config{
		In:   strings.NewReader("session list\n\nfail now\nexit\nversion\n"),
		Out:  &out,
		Exec: exec,
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := [][]string{{"session", "list"}, {"fail", "now"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("executed %q, want %q", got, want)
	}
	if !strings.Contains(out.String(), "Error: boom") {
		t.Errorf("output %q lacks the command error", out.String())
	}
	if !strings.HasPrefix(out.String(), "jalsync> ") {
		t.Errorf("output %q does not start with the prompt", out.String())
	}
}

func TestREPL_LastLineWithoutNewline(t *testing.T) {
	var got []string
	r := New(Config{
		In:   strings.NewReader("ledger stats"),
		Out:  &bytes.Buffer{},
		Exec: func(_ context.Context, args []string) error { got = args; return nil },
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"ledger", "stats"}) {
		t.Errorf("executed %q", got)
	}
}

func TestREPL_CompletionAndHistory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "history")
	var out bytes.Buffer
	r := New(Config{
		In:        strings.NewReader("session l?\nsession list\nhistory\nquit\n"),
		Out:       &out,
		Exec:      func(context.Context, []string) error { return nil },
		Completer: NewCompleter("session", "session list", "session evict", "ledger stats"),
		History:   NewHistory(file),
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "session list\n") {
		t.Errorf("completion missing from %q", out.String())
	}
	if strings.Contains(out.String(), "session evict") {
		t.Errorf("completion %q lists a non-matching command", out.String())
	}
	if !strings.Contains(out.String(), "   1  session list") {
		t.Errorf("history listing missing from %q", out.String())
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("history not saved: %v", err)
	}
	if want := "session list\nhistory\nquit\n"; string(data) != want {
		t.Errorf("saved history = %q, want %q", data, want)
	}
}

func TestREPL_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	r := New(Config{
		In:   strings.NewReader("session list\n"),
		Out:  &bytes.Buffer{},
		Exec: func(context.Context, []string) error { called = true; return nil },
	})
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if called {
		t.Error("command executed after cancellation")
	}
}
