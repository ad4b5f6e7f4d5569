// Package retry runs calls to external collaborators with per-attempt
// timeouts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// Policy controls how a call is retried.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is the first backoff; it doubles on each retry.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff (0 = no cap).
	MaxDelay time.Duration
	// CallTimeout bounds each attempt (0 = only the parent context).
	CallTimeout time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

// StatusError is returned for non-2xx responses from HTTP collaborators.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

var errAttemptTimeout = errors.New("attempt timed out")

// Budget is a pool of retries shared by every call made for one unit of
// work. A nil Budget never limits.
type Budget struct {
	left atomic.Int64
}

// NewBudget returns a budget allowing n retries in total.
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.left.Store(int64(max(n, 0)))
	return b
}

// Take consumes one retry and reports whether one was available.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	for {
		n := b.left.Load()
		if n <= 0 {
			return false
		}
		if b.left.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Remaining returns the retries left; -1 for a nil budget.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	return int(b.left.Load())
}

type budgetKey struct{}

// WithBudget returns a context whose Do calls draw retries from b.
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom returns the budget attached to ctx, or nil.
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}

// IsRetryable reports whether err is a transient failure: a per-call
// timeout, a rate limit, a server error or a transport error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, errAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// retries are exhausted or ctx is done. Each attempt gets its own timeout.
// Retries also draw from the Budget attached to ctx, if any.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	budget := BudgetFrom(ctx)
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%s: %w (last error: %v)", op, err, lastErr)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = attemptOnce(ctx, p, fn)
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w (last error: %v)", op, err, lastErr)
		}
		if !IsRetryable(lastErr) || attempt >= p.MaxRetries {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
		if !budget.Take() {
			slog.Debug("Retry budget exhausted", "op", op, "error", lastErr)
			return fmt.Errorf("%s: %w", op, lastErr)
		}

		backoff := Backoff(p, attempt)
		slog.Debug("Retrying call", "op", op, "attempt", attempt+1, "max_retries", p.MaxRetries,
			"backoff_ms", backoff.Milliseconds(), "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
		case <-time.After(backoff):
		}
	}
}

func attemptOnce(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeoutCause(ctx, p.CallTimeout, errAttemptTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(callCtx), errAttemptTimeout) {
		return fmt.Errorf("%w: %w", errAttemptTimeout, err)
	}
	return err
}

// Backoff returns the wait before retry number attempt+1.
func Backoff(p Policy, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
