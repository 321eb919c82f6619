package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeReconciler fails a configurable number of times before succeeding.
type fakeReconciler struct {
	failures int
	calls    int
	ids      []string
}

func (f *fakeReconciler) Reconcile(ctx context.Context, matchID string) error {
	f.calls++
	f.ids = append(f.ids, matchID)
	if f.calls <= f.failures {
		return errors.New("transient store error")
	}
	return nil
}

func TestReconcileWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeReconciler{failures: 2}
	start := time.Now()
	if err := reconcileWithRetry(context.Background(), f, "m1", 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestReconcileWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeReconciler{failures: 5}
	if err := reconcileWithRetry(context.Background(), f, "m1", 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestReconcileWithRetry_StopsOnContextCancel(t *testing.T) {
	f := &fakeReconciler{failures: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := reconcileWithRetry(ctx, f, "m1", 5, 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single attempt before cancel, got %d", f.calls)
	}
}
