package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func newTestHandler(timeout time.Duration) *Handler {
	return NewHandler(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) hook(name string, err error) func(context.Context) error {
	return func(context.Context) error {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		return err
	}
}

func (r *recorder) calls() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.order, ",")
}

func TestHandler_Shutdown_ReverseOrder(t *testing.T) {
	h := newTestHandler(time.Second)
	rec := &recorder{}
	h.OnShutdown("storage", rec.hook("storage", nil))
	h.OnShutdown("sinks", rec.hook("sinks", nil))
	h.OnShutdown("listener", rec.hook("listener", nil))
	h.OnShutdown("admin", rec.hook("admin", nil))

	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := rec.calls(); got != "admin,listener,sinks,storage" {
		t.Errorf("order = %s", got)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Shutdown")
	}
}

func TestHandler_Shutdown_RunsOnce(t *testing.T) {
	h := newTestHandler(time.Second)
	rec := &recorder{}
	h.OnShutdown("listener", rec.hook("listener", nil))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Shutdown()
		}()
	}
	wg.Wait()

	if got := rec.calls(); got != "listener" {
		t.Errorf("hooks ran %q, want once", got)
	}
}

func TestHandler_Shutdown_JoinsErrors(t *testing.T) {
	h := newTestHandler(time.Second)
	errStorage := errors.New("flush failed")
	errSink := errors.New("broker gone")
	rec := &recorder{}

	h.OnShutdown("storage", rec.hook("storage", errStorage))
	h.OnShutdown("mqtt", rec.hook("mqtt", errSink))
	h.OnShutdown("admin", rec.hook("admin", nil))

	err := h.Shutdown()
	if !errors.Is(err, errStorage) || !errors.Is(err, errSink) {
		t.Fatalf("Shutdown() = %v, want both hook errors", err)
	}
	if !strings.Contains(err.Error(), "mqtt: broker gone") {
		t.Errorf("error should name the hook: %v", err)
	}
	if got := rec.calls(); got != "admin,mqtt,storage" {
		t.Errorf("a failing hook must not stop the rest: %s", got)
	}
}

func TestHandler_Shutdown_Deadline(t *testing.T) {
	h := newTestHandler(50 * time.Millisecond)
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := h.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("hooks were not bounded by the timeout")
	}
}

func TestHandler_Wait_Context(t *testing.T) {
	h := newTestHandler(time.Second)
	rec := &recorder{}
	h.OnShutdown("listener", rec.hook("listener", nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
	if rec.calls() != "listener" {
		t.Error("hook not run")
	}
}

func TestHandler_Wait_Signal(t *testing.T) {
	h := newTestHandler(time.Second)
	rec := &recorder{}
	h.OnShutdown("listener", rec.hook("listener", nil))

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()

	// Give Wait time to set up signal handler
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not complete in time")
	}
	if rec.calls() != "listener" {
		t.Error("hook not run")
	}
}
