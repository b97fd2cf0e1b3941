package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"orchestrator/internal/apperrors"
)

type countingReconnector struct {
	calls atomic.Int32
	delay time.Duration
}

func (r *countingReconnector) EnsureConnected(ctx context.Context) error {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return nil
}

func TestIsTransientMatchesKnownMarkers(t *testing.T) {
	cases := []string{
		"connection reset by peer",
		"broken pipe",
		"read tcp: i/o timeout",
		"503 Service Unavailable",
		"upstream returned 502",
	}
	for _, msg := range cases {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be classified transient", msg)
		}
	}
}

func TestIsTransientRespectsTypedTerminal(t *testing.T) {
	err := &apperrors.TransportTerminal{Cause: errors.New("connection reset")}
	if IsTransient(err) {
		t.Fatal("typed terminal error must never be classified transient")
	}
}

func TestIsTransientRespectsTypedTransient(t *testing.T) {
	err := &apperrors.TransportTransient{Cause: errors.New("some opaque failure")}
	if !IsTransient(err) {
		t.Fatal("typed transient error must be classified transient regardless of message")
	}
}

func TestCallRetriesSafeOperationUntilSuccess(t *testing.T) {
	gate := NewGate(&countingReconnector{}, nil)
	attempts := 0

	result, err := gate.Call(context.Background(), SAFE, false, func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCallDoesNotRetryNonTransientError(t *testing.T) {
	gate := NewGate(&countingReconnector{}, nil)
	attempts := 0

	_, err := gate.Call(context.Background(), SAFE, false, func(ctx context.Context) (any, error) {
		attempts++
		return nil, errors.New("invalid argument")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-transient error, got %d", attempts)
	}
}

func TestCallUnsafePolicyNeverRetriesAndReturnsTransportTransient(t *testing.T) {
	gate := NewGate(&countingReconnector{}, nil)
	attempts := 0

	_, err := gate.Call(context.Background(), UNSAFE, true, func(ctx context.Context) (any, error) {
		attempts++
		return nil, errors.New("connection reset")
	})
	if attempts != 1 {
		t.Fatalf("unsafe policy must never retry internally, got %d attempts", attempts)
	}
	var transient *apperrors.TransportTransient
	if !errors.As(err, &transient) {
		t.Fatalf("expected *apperrors.TransportTransient, got %T: %v", err, err)
	}
	if !transient.Reconnected {
		t.Fatal("expected reconnect to have been attempted and recorded")
	}
}

func TestEnsureConnectedCoalescesConcurrentReconnects(t *testing.T) {
	reconnector := &countingReconnector{delay: 50 * time.Millisecond}
	gate := NewGate(reconnector, nil)

	const concurrency = 10
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			errs <- gate.ensureConnected(context.Background())
		}()
	}
	for i := 0; i < concurrency; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected reconnect error: %v", err)
		}
	}

	if got := reconnector.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 reconnect call to reach the provider, got %d", got)
	}
}

func TestCallRespectsContextCancellationDuringBackoff(t *testing.T) {
	gate := NewGate(&countingReconnector{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan struct{})
	go func() {
		_, _ = gate.Call(ctx, SAFE, false, func(ctx context.Context) (any, error) {
			attempts++
			return nil, errors.New("timeout")
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return promptly after context cancellation")
	}
}
