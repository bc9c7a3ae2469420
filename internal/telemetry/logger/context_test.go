package logger

import (
	"bytes"
	"context"
	"testing"
)

func TestWithLogger_FromContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithLogger(context.Background(), l)
	FromContext(ctx).Info("test message")
	if buf.Len() == 0 {
		t.Error("logger from context produced no output")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() without logger returned nil")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || SessionIDFromContext(ctx) != "" {
		t.Error("empty context carries ids")
	}
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "jals-1")
	if RequestIDFromContext(ctx) != "req-1" {
		t.Errorf("RequestIDFromContext() = %q", RequestIDFromContext(ctx))
	}
	if SessionIDFromContext(ctx) != "jals-1" {
		t.Errorf("SessionIDFromContext() = %q", SessionIDFromContext(ctx))
	}
}

func TestL_EnrichesWithIDs(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Config{Level: "info", Format: "json", Output: &buf})

	ctx := WithLogger(context.Background(), l)
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithSessionID(ctx, "jals-42")
	L(ctx).Info("handled")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0]["request_id"] != "req-42" || lines[0]["session_id"] != "jals-42" {
		t.Errorf("line = %v", lines[0])
	}
}
