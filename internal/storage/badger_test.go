package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestEngine(t *testing.T) *BadgerEngine {
	t.Helper()
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = "1h" // Keep auto GC out of tests

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewBadgerEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestBadgerEngine_BasicOperations(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("k"), []byte("v")); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, []byte("k"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v" {
			t.Errorf("Get() = %q, want v", got)
		}
	})

	t.Run("Get missing key", func(t *testing.T) {
		if _, err := engine.Get(ctx, []byte("missing")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = engine.Set(ctx, []byte("gone"), []byte("x"))
		if err := engine.Delete(ctx, []byte("gone")); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, []byte("gone")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Get() after Delete error = %v", err)
		}
		if err := engine.Delete(ctx, []byte("never")); err != nil {
			t.Errorf("Delete() of missing key error = %v", err)
		}
	})
}

func TestBadgerEngine_ScanAndDeletePrefix(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = engine.Set(ctx, []byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)})
	}
	_ = engine.Set(ctx, []byte("b/0"), []byte{9})

	var keys []string
	err := engine.Scan(ctx, []byte("a/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return len(keys) < 3
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 3 || keys[0] != "a/0" {
		t.Errorf("Scan() keys = %v, want first three in order", keys)
	}

	n, err := engine.DeletePrefix(ctx, []byte("a/"))
	if err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if n != 5 {
		t.Errorf("DeletePrefix() = %d, want 5", n)
	}
	if _, err := engine.Get(ctx, []byte("b/0")); err != nil {
		t.Errorf("other prefix removed: %v", err)
	}
}

func TestBadgerEngine_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewBadgerEngine(DefaultKVConfig(dir), nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Set(ctx, []byte("durable"), []byte("yes"))
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := first.Set(ctx, []byte("x"), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}

	second, err := NewBadgerEngine(DefaultKVConfig(dir), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	got, err := second.Get(ctx, []byte("durable"))
	if err != nil || string(got) != "yes" {
		t.Errorf("Get() after reopen = %q, %v", got, err)
	}
}

func TestBadgerEngine_InMemoryAndMetrics(t *testing.T) {
	engine, err := NewBadgerEngine(KVConfig{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("NewBadgerEngine() error = %v", err)
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	engine.RegisterMetrics(reg)

	if runs, err := engine.GC(context.Background()); err != nil || runs != 0 {
		t.Errorf("GC() in memory = %d, %v", runs, err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("no badger metrics registered")
	}
}

func TestNewBadgerEngine_Validation(t *testing.T) {
	if _, err := NewBadgerEngine(KVConfig{}, nil); err == nil {
		t.Error("expected error without dir")
	}
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = "soon"
	if _, err := NewBadgerEngine(cfg, nil); err == nil {
		t.Error("expected error for bad gc_interval")
	}
}
