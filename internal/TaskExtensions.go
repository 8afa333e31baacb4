package internal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActionTimeoutTaskCallback performs one attempt of a task under a per-attempt context
type ActionTimeoutTaskCallback[T any] func(ctx context.Context) (T, error)

// ActionOnTimeOutRetry is invoked before every retry
type ActionOnTimeOutRetry func(retryAttemptCount, retryAttemptTotal int, timeOut, timeOutStep time.Duration)

const (
	// DefaultTimeout is the sliding read timeout of a chunk and the timeout of a retried task
	DefaultTimeout = 20 * time.Second
	// DefaultRetryAttempt is the default number of retry attempts
	DefaultRetryAttempt = 10
	// DefaultRetryDelay is the wait between two attempts of a failed chunk
	DefaultRetryDelay = time.Second
)

// RetryPolicy configures WaitForRetry. Zero fields take the defaults.
type RetryPolicy struct {
	Timeout      time.Duration
	TimeoutStep  time.Duration
	RetryAttempt int
	OnRetry      ActionOnTimeOutRetry
	Logger       Logger
}

// WaitForRetry runs callback until it succeeds, giving every attempt its own timeout
// that grows by TimeoutStep. Cancellation of ctx is returned immediately.
func WaitForRetry[T any](ctx context.Context, policy RetryPolicy, callback ActionTimeoutTaskCallback[T]) (T, error) {
	var zero T

	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retryAttempt := policy.RetryAttempt
	if retryAttempt <= 0 {
		retryAttempt = DefaultRetryAttempt
	}

	var lastError error
	for current := 1; current <= retryAttempt; current++ {
		result, err := runWithTimeout(ctx, timeout, callback)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if IsPermanent(err) {
			return zero, err
		}

		lastError = err
		if errors.Is(err, ErrReadTimeout) {
			PushLogWarning(policy.Logger, fmt.Sprintf("The operation has timed out! Retrying attempt left: %d/%d", current, retryAttempt))
		} else {
			PushLogError(policy.Logger, fmt.Sprintf("The operation has thrown an exception! Retrying attempt left: %d/%d\r\n%v", current, retryAttempt, err))
		}

		if policy.OnRetry != nil {
			policy.OnRetry(current, retryAttempt, timeout, policy.TimeoutStep)
		}
		timeout += policy.TimeoutStep
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, retryAttempt, lastError)
}

func runWithTimeout[T any](ctx context.Context, timeout time.Duration, callback ActionTimeoutTaskCallback[T]) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := callback(timeoutCtx)
	if err != nil && timeoutCtx.Err() != nil && ctx.Err() == nil {
		return result, fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}
	return result, err
}
