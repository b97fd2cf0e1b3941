// Package retry implements the Transport Retry Gate (spec §4.1): every
// call into the remote sandbox provider flows through Gate.Call so that
// transient transport failures are retried with backoff and non-idempotent
// operations surface a typed SandboxTransient instead of being silently
// retried.
package retry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"orchestrator/internal/apperrors"
	"orchestrator/internal/logging"
)

// Policy classifies whether an operation is safe to retry transparently.
type Policy int

const (
	// SAFE operations are idempotent: listing, metadata, file reads/writes,
	// snapshot operations, start/stop.
	SAFE Policy = iota
	// UNSAFE operations are non-idempotent: code execution.
	UNSAFE
)

const (
	maxAttempts       = 5
	initialBackoff    = 250 * time.Millisecond
	backoffMultiplier = 2
)

// transientMarkers are case-insensitive substrings that mark an error as
// transient when no typed classification is available. This is a fallback
// layer only — callers that can return a typed apperrors.TransportTerminal
// or wrap the cause themselves should do so instead of relying on string
// matching (per the REDESIGN FLAGS in spec §9).
var transientMarkers = []string{
	"remote end closed connection",
	"remotedisconnected",
	"connection aborted",
	"connection reset",
	"broken pipe",
	"timed out",
	"timeout",
	"service unavailable",
	"502",
	"503",
	"504",
}

// Reconnector coalesces concurrent reconnect attempts into a single
// in-flight future (spec §4.1, §5, testable property 7).
type Reconnector interface {
	EnsureConnected(ctx context.Context) error
}

// Gate wraps calls into the sandbox provider with the retry/backoff
// algorithm of spec §4.1.
type Gate struct {
	reconnector Reconnector
	logger      logging.Logger

	mu             sync.Mutex
	inFlightReconn chan error
}

// NewGate constructs a Gate bound to the given reconnector (typically a
// sandbox.Driver).
func NewGate(reconnector Reconnector, logger logging.Logger) *Gate {
	return &Gate{
		reconnector: reconnector,
		logger:      logging.OrNop(logger),
	}
}

// IsTransient reports whether err matches one of the known transient
// substrings. Exported so callers that already have a typed error can
// skip straight to apperrors.IsTransient and fall back to this only when
// the error crossed a boundary (e.g. a subprocess's stderr) as plain text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.IsTransient(err) {
		return true
	}
	var terminal *apperrors.TransportTerminal
	if errors.As(err, &terminal) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Call executes fn under the gate's retry policy. allowReconnect permits
// one reconnect attempt (coalesced) before a retry when a transient error
// is observed on a SAFE operation.
func (g *Gate) Call(ctx context.Context, policy Policy, allowReconnect bool, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	reconnectedThisCall := false
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}

		if policy == UNSAFE {
			// Code execution can have partial side effects: never retry it
			// ourselves. Surface a typed error so the caller decides.
			reconnected := false
			if allowReconnect && !reconnectedThisCall {
				if reconErr := g.ensureConnected(ctx); reconErr == nil {
					reconnected = true
					reconnectedThisCall = true
				}
			}
			return nil, &apperrors.TransportTransient{Reconnected: reconnected, Cause: err}
		}

		if attempt == maxAttempts {
			break
		}

		if allowReconnect && !reconnectedThisCall {
			if reconErr := g.ensureConnected(ctx); reconErr != nil {
				g.logger.Warn("reconnect attempt failed before retry: %v", reconErr)
			} else {
				reconnectedThisCall = true
			}
		}

		g.logger.Debug("transient error on attempt %d/%d, backing off %s: %v", attempt, maxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= backoffMultiplier
	}

	return nil, lastErr
}

// ensureConnected coalesces concurrent reconnect calls: only the first
// caller in a window actually invokes the reconnector; everyone else
// awaits its result (testable property 7).
func (g *Gate) ensureConnected(ctx context.Context) error {
	g.mu.Lock()
	if g.inFlightReconn != nil {
		ch := g.inFlightReconn
		g.mu.Unlock()
		select {
		case err := <-ch:
			ch <- err
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ch := make(chan error, 1)
	g.inFlightReconn = ch
	g.mu.Unlock()

	err := g.reconnector.EnsureConnected(ctx)

	g.mu.Lock()
	g.inFlightReconn = nil
	g.mu.Unlock()

	// Hand the result to everyone that joined before we cleared the slot:
	// it stays in the one-slot buffer, and each joiner takes it and puts
	// it back for the next one.
	ch <- err
	return err
}
