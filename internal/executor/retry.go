package executor

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"
)

// RetryConfig configures retries of transient data-store failures.
type RetryConfig struct {
	// MaxAttempts includes the first try. Default: 3.
	MaxAttempts int

	// InitialDelay is the first backoff. Default: 100ms.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Default: 2s.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay between attempts. Default: 2.0.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryResult records what happened across attempts.
type RetryResult struct {
	Attempts  int
	LastError error
	Success   bool
}

// String summarizes the result.
func (r RetryResult) String() string {
	if r.Success {
		if r.Attempts == 1 {
			return "succeeded on first attempt"
		}
		return fmt.Sprintf("succeeded after %d attempts", r.Attempts)
	}
	return fmt.Sprintf("failed after %d attempts: %v", r.Attempts, r.LastError)
}

// IsRetryable reports whether err is a transient connection failure.
// Statement errors, cancellation and deadlines are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if stderrors.Is(err, driver.ErrBadConn) {
		return true
	}

	// Class 08 is connection exception.
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr) && opErr.Op == "dial"
}

// ExecuteWithRetry runs fn until it succeeds, fails permanently, or the
// attempts run out.
func ExecuteWithRetry(ctx context.Context, config RetryConfig, fn func() error) RetryResult {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}

	var result RetryResult
	delay := config.InitialDelay
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			result.LastError = err
			return result
		}

		err := fn()
		if err == nil {
			result.Success = true
			result.LastError = nil
			return result
		}
		result.LastError = err
		if !IsRetryable(err) {
			return result
		}

		if attempt < config.MaxAttempts {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				result.LastError = ctx.Err()
				return result
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * config.BackoffMultiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
	}
	return result
}
