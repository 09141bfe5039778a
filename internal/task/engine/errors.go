package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
)

// NoRetry marks a failure that another attempt cannot fix, such as a job
// deleted between scheduling and firing.
//
//	return engine.NoRetry(fmt.Errorf("job %s: %w", id, jobs.ErrNotFound))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches the wait a remote asked for (a Telegram flood limit,
// an HTTP 429) to err. Retry loops read it back with RetryHint.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return retryAfterError{err: err, after: max(after, 0)}
}

// RetryHint returns the wait attached by RetryAfter anywhere in err's chain.
func RetryHint(err error) (time.Duration, bool) {
	var ra retryAfterError
	if err == nil || !errors.As(err, &ra) {
		return 0, false
	}
	return ra.after, true
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string { return fmt.Sprintf("retry after %s: %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error { return e.err }
