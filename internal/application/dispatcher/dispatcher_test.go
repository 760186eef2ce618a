package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(append([]interface{}{msg}, keysAndValues...)...))
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func newTestEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "tenant-1", "inst-1", "alice", nil)
}

func TestSubscribe(t *testing.T) {
	t.Run("subscribes multiple handlers to same event type", func(t *testing.T) {
		d := NewDispatcher()
		called1, called2 := false, false

		d.Subscribe(event.TypeInstanceStarted, func(ctx context.Context, evt *event.Event) error {
			called1 = true
			return nil
		})
		d.Subscribe(event.TypeInstanceStarted, func(ctx context.Context, evt *event.Event) error {
			called2 = true
			return nil
		})

		if err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceStarted)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if !called1 || !called2 {
			t.Error("expected both handlers to be called")
		}

		handlers := d.ListHandlers(event.TypeInstanceStarted)
		if len(handlers) != 2 || handlers[0].Name == handlers[1].Name {
			t.Errorf("expected two distinctly named handlers, got %+v", handlers)
		}
	})

	t.Run("logs registration", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.SubscribeNamed(event.TypeStepAdvanced, "notifier", func(ctx context.Context, evt *event.Event) error { return nil })

		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})

	t.Run("does not call handlers of other types", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		d.Subscribe(event.TypeInstanceApproved, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		if err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceRejected)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if called {
			t.Error("handler for another type was called")
		}
	})
}

func TestSubscribe_AllEvents(t *testing.T) {
	d := NewDispatcher()
	var seen []event.Type

	d.SubscribeNamed(event.TypeStepEscalated, "specific", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, "specific")
		return nil
	})
	d.SubscribeNamed(AllEvents, "metrics", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	if err := d.Dispatch(context.Background(), newTestEvent(event.TypeStepEscalated)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceCancelled)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	want := []event.Type{"specific", event.TypeStepEscalated, event.TypeInstanceCancelled}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	called1, called2 := false, false

	d.SubscribeNamed(event.TypeInstanceStarted, "handler-1", func(ctx context.Context, evt *event.Event) error {
		called1 = true
		return nil
	})
	d.SubscribeNamed(event.TypeInstanceStarted, "handler-2", func(ctx context.Context, evt *event.Event) error {
		called2 = true
		return nil
	})

	d.Unsubscribe(event.TypeInstanceStarted, "handler-1")

	if err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceStarted)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if called1 {
		t.Error("expected handler-1 not to be called")
	}
	if !called2 {
		t.Error("expected handler-2 to be called")
	}
}

func TestDispatch(t *testing.T) {
	t.Run("returns first error encountered", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeInstanceStarted, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeInstanceStarted, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceStarted))
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeInstanceStarted, func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		if err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceStarted)); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("returns ErrClosed when dispatcher is closed", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		err := d.Dispatch(context.Background(), newTestEvent(event.TypeInstanceStarted))
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("runs handlers and Close waits for them", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		for i := 0; i < 3; i++ {
			d.Subscribe(event.TypeStepAdvanced, func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				called.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), newTestEvent(event.TypeStepAdvanced))
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		if called.Load() != 3 {
			t.Errorf("expected 3 handler calls, got %d", called.Load())
		}
		if d.InFlight() != 0 {
			t.Errorf("expected no in-flight handlers, got %d", d.InFlight())
		}
	})

	t.Run("handlers survive caller cancellation", func(t *testing.T) {
		d := NewDispatcher()
		release := make(chan struct{})
		var ctxErr atomic.Value

		d.Subscribe(event.TypeInstanceApproved, func(ctx context.Context, evt *event.Event) error {
			<-release
			if err := ctx.Err(); err != nil {
				ctxErr.Store(err)
			}
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newTestEvent(event.TypeInstanceApproved))
		cancel()
		close(release)
		_ = d.Close()

		if v := ctxErr.Load(); v != nil {
			t.Errorf("handler saw cancelled context: %v", v)
		}
	})

	t.Run("logs handler errors", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeInstanceRejected, func(ctx context.Context, evt *event.Event) error {
			return errors.New("delivery failed")
		})

		d.DispatchAsync(context.Background(), newTestEvent(event.TypeInstanceRejected))
		_ = d.Close()

		if logger.ErrorCount() != 1 {
			t.Errorf("expected 1 logged error, got %d", logger.ErrorCount())
		}
	})

	t.Run("drops events after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		called := false
		d.Subscribe(event.TypeInstanceRejected, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})
		_ = d.Close()

		d.DispatchAsync(context.Background(), newTestEvent(event.TypeInstanceRejected))
		if called {
			t.Error("handler called after close")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected dropped event to be logged")
		}
	})
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Error("expected error on second close")
	}
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int64
	d.Subscribe(event.TypeStepApproved, func(ctx context.Context, evt *event.Event) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.DispatchAsync(context.Background(), newTestEvent(event.TypeStepApproved))
		}()
		go func() {
			defer wg.Done()
			_ = d.ListHandlers(event.TypeStepApproved)
		}()
	}
	wg.Wait()
	_ = d.Close()

	if count.Load() != 50 {
		t.Errorf("expected 50 handler calls, got %d", count.Load())
	}
}
