package afip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

func TestCircuitBreaker_OpensOnTransientFailures(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = func() time.Time { return now }

	var transitions []BreakerState
	cb.OnStateChange(func(s BreakerState) { transitions = append(transitions, s) })

	timeout := fiscal.NewError(fiscal.KindTransient, "op", "timeout", nil)
	for i := 0; i < 3; i++ {
		_ = cb.Execute("op", func() error { return timeout })
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	if called {
		t.Error("function must not run while open")
	}
	if !fiscal.IsTransient(err) {
		t.Errorf("expected transient error while open, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	for i := 0; i < 2; i++ {
		if err := cb.Execute("op", func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cb.State() != BreakerClosed {
		t.Errorf("expected closed after recovery, got %s", cb.State())
	}

	expected := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(transitions) != len(expected) {
		t.Fatalf("expected transitions %v, got %v", expected, transitions)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Errorf("transition %d: expected %s, got %s", i, expected[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_IgnoresNonTransientErrors(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	rejection := fiscal.NewError(fiscal.KindProtocol, "op", "bad request", nil)

	for i := 0; i < 5; i++ {
		err := cb.Execute("op", func() error { return rejection })
		if !errors.Is(err, rejection) {
			t.Fatalf("expected error to pass through, got %v", err)
		}
	}
	if cb.State() != BreakerClosed {
		t.Errorf("protocol errors must not open the circuit, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }
	timeout := fiscal.NewError(fiscal.KindTransient, "op", "timeout", nil)

	_ = cb.Execute("op", func() error { return timeout })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute("op", func() error { return timeout })

	if cb.State() != BreakerOpen {
		t.Errorf("expected open after half-open failure, got %s", cb.State())
	}
}

func TestRequestLimiter_CapsConcurrency(t *testing.T) {
	l := NewRequestLimiter(2, 0)

	r1, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if l.ActiveCount() != 2 {
		t.Errorf("expected 2 active, got %d", l.ActiveCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while full, got %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r3, err := l.Acquire(context.Background())
		if err != nil {
			t.Errorf("acquire after release: %v", err)
			return
		}
		r3()
	}()

	r1()
	r1() // double release is a no-op
	wg.Wait()
	r2()

	if l.ActiveCount() != 0 {
		t.Errorf("expected 0 active, got %d", l.ActiveCount())
	}
}
