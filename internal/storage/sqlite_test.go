package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

func newTestSQLite(t *testing.T, dir string) *SQLiteEngine {
	t.Helper()
	cfg := DefaultKVConfig(dir)
	cfg.Engine = EngineSQLite
	e, err := NewSQLiteEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewSQLiteEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSQLiteEngine_BasicOperations(t *testing.T) {
	e := newTestSQLite(t, t.TempDir())
	ctx := context.Background()

	if err := e.Set(ctx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := e.Set(ctx, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := e.Get(ctx, []byte("k"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("Get() = %q, %v; want v2", got, err)
	}
	if _, err := e.Get(ctx, []byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() missing error = %v, want ErrKeyNotFound", err)
	}
	if err := e.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := e.Get(ctx, []byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
	if err := e.Delete(ctx, []byte("never")); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestSQLiteEngine_ScanAndDeletePrefix(t *testing.T) {
	e := newTestSQLite(t, t.TempDir())
	ctx := context.Background()

	for _, k := range []string{"a/2", "a/1", "a/3", "ab", "b/1"} {
		if err := e.Set(ctx, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}
	_ = e.Set(ctx, []byte{'a', '/', 0xff}, []byte("edge"))

	var keys []string
	err := e.Scan(ctx, []byte("a/"), func(k, v []byte) bool {
		if !bytes.Equal(k, v) && string(v) != "edge" {
			t.Errorf("value of %q = %q", k, v)
		}
		keys = append(keys, string(k))
		return true
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []string{"a/1", "a/2", "a/3", "a/\xff"}
	if len(keys) != len(want) {
		t.Fatalf("Scan() keys = %q, want %q", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Scan() key[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	n := 0
	_ = e.Scan(ctx, nil, func(_, _ []byte) bool { n++; return n < 2 })
	if n != 2 {
		t.Errorf("Scan() stop after %d calls, want 2", n)
	}

	removed, err := e.DeletePrefix(ctx, []byte("a/"))
	if err != nil || removed != 4 {
		t.Fatalf("DeletePrefix() = %d, %v; want 4", removed, err)
	}
	if _, err := e.Get(ctx, []byte("ab")); err != nil {
		t.Errorf("DeletePrefix() removed a key outside the prefix: %v", err)
	}
}

func TestSQLiteEngine_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultKVConfig(dir)
	first, err := NewSQLiteEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewSQLiteEngine() error = %v", err)
	}
	if err := first.Set(ctx, []byte("resume/x"), []byte("42")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if runs, err := first.GC(ctx); err != nil || runs != 1 {
		t.Errorf("GC() = %d, %v", runs, err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := first.Get(ctx, []byte("resume/x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}

	second := newTestSQLite(t, dir)
	got, err := second.Get(ctx, []byte("resume/x"))
	if err != nil || string(got) != "42" {
		t.Errorf("Get() after reopen = %q, %v", got, err)
	}
	st, err := second.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.LSMSize == 0 || st.TotalSize < st.LSMSize {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestNewSQLiteEngine_Validation(t *testing.T) {
	if _, err := NewSQLiteEngine(KVConfig{}, nil); err == nil {
		t.Error("NewSQLiteEngine() without dir succeeded")
	}
	cfg := DefaultKVConfig(t.TempDir())
	cfg.SQLite.Synchronous = "SOMETIMES"
	if _, err := NewSQLiteEngine(cfg, nil); err == nil {
		t.Error("NewSQLiteEngine() accepted unknown synchronous level")
	}
}

func TestOpenKV(t *testing.T) {
	tests := []struct {
		engine  string
		wantErr bool
	}{
		{"", false},
		{EngineBadger, false},
		{EngineSQLite, false},
		{"bolt", true},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			cfg := KVConfig{InMemory: true, Engine: tt.engine}
			kv, err := OpenKV(cfg, prometheus.NewRegistry(), nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("OpenKV() error = nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenKV() error = %v", err)
			}
			defer kv.Close()
			if err := kv.Set(context.Background(), []byte("k"), []byte("v")); err != nil {
				t.Errorf("Set() error = %v", err)
			}
		})
	}
}

func TestStateStore_OnSQLite(t *testing.T) {
	kv, err := NewSQLiteEngine(KVConfig{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("NewSQLiteEngine() error = %v", err)
	}
	defer kv.Close()
	s := NewStateStore(kv, nil)
	ctx := context.Background()

	for i, id := range []string{"r2", "r1"} {
		pd := domain.PendingDigest{RecordID: id, Digest: []byte{byte(i)}, AddedAt: time.Unix(int64(100+i), 0)}
		if err := s.SavePending(ctx, "subscriber/audit/peer", pd); err != nil {
			t.Fatalf("SavePending() error = %v", err)
		}
	}
	if err := s.DeletePending(ctx, "subscriber/audit/peer", "r2"); err != nil {
		t.Fatalf("DeletePending() error = %v", err)
	}
	got, err := s.LoadPending(ctx, "subscriber/audit/peer")
	if err != nil {
		t.Fatalf("LoadPending() error = %v", err)
	}
	if len(got) != 1 || got[0].RecordID != "r1" {
		t.Errorf("LoadPending() = %+v, want only r1", got)
	}

	if err := s.SaveResume(ctx, "subscriber/journal/peer", "j1", 512); err != nil {
		t.Fatalf("SaveResume() error = %v", err)
	}
	id, off, ok, err := s.LoadResume(ctx, "subscriber/journal/peer")
	if err != nil || !ok || id != "j1" || off != 512 {
		t.Errorf("LoadResume() = %q, %d, %v, %v", id, off, ok, err)
	}
}
