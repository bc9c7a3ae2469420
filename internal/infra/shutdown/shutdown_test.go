package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_HooksRunInReverse(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	var order []string
	for _, name := range []string{"storage", "engine", "http"} {
		h.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := strings.Join(order, ","); got != "http,engine,storage" {
		t.Errorf("order = %s, want http,engine,storage", got)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed after Wait")
	}
}

func TestHandler_ErrorsJoined(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	errA := errors.New("a failed")
	ran := false
	h.OnShutdown("a", func(context.Context) error { return errA })
	h.OnShutdown("b", func(context.Context) error { return errors.New("b failed") })
	h.OnShutdown("c", func(context.Context) error { ran = true; return nil })

	err := h.Shutdown()
	if !errors.Is(err, errA) {
		t.Errorf("Shutdown() = %v, want it to wrap errA", err)
	}
	if !strings.Contains(err.Error(), "b: b failed") {
		t.Errorf("Shutdown() = %v, want hook name prefix", err)
	}
	if !ran {
		t.Error("hook c did not run")
	}
	if err := h.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v, want nil", err)
	}
}

func TestHandler_HookDeadline(t *testing.T) {
	h := NewHandler(50*time.Millisecond, testLogger())
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	err := h.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("hook deadline not applied")
	}
}

func TestHandler_WaitOnSignal(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	h.signals = append(h.signals, syscall.SIGUSR1)
	called := make(chan struct{})
	h.OnShutdown("mark", func(context.Context) error {
		close(called)
		return nil
	})

	errc := make(chan error, 1)
	go func() { errc <- h.Wait(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after signal")
	}
	<-called
}
