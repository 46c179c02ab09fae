// Package storecall bounds every store call with a timeout and retries idempotent
// reads that failed with errs.ErrStore.
package storecall

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	readBackoffCap    = time.Second
)

// Policy configures store calls.
type Policy struct {
	Timeout     time.Duration
	ReadRetries int
	RetryDelay  time.Duration
}

// DefaultPolicy is used for zero-valued fields.
func DefaultPolicy() Policy {
	return Policy{Timeout: defaultTimeout, ReadRetries: 2, RetryDelay: defaultRetryDelay}
}

func (p Policy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return defaultTimeout
	}

	return p.Timeout
}

func (p Policy) retryDelay() time.Duration {
	if p.RetryDelay <= 0 {
		return defaultRetryDelay
	}

	return p.RetryDelay
}

// Do runs one store call under the policy timeout. An expired or cancelled call
// context is reported as errs.ErrStore.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx := ctx
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline || time.Until(deadline) > p.timeout() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout())
		defer cancel()
	}

	v, err := fn(callCtx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = errs.Store(op, err)
	}

	return v, err
}

// Exec is Do for calls without a result.
func Exec(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// Read is Do retried up to p.ReadRetries more times while the call fails with
// errs.ErrStore and ctx is still alive. Only idempotent reads may use it.
func Read[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		v       T
		attempt int
	)
	err := retry.Do(ctx, p.readBackoff(), func(ctx context.Context) error {
		attempt++
		var err error
		v, err = Do(ctx, p, op, fn)
		if err == nil || !errors.Is(err, errs.ErrStore) || ctx.Err() != nil {
			return err
		}
		if attempt <= p.ReadRetries {
			slog.WarnContext(ctx, "Store read failed, retrying", "op", op, "attempt", attempt, "error", err)
		}

		return retry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// retry.Do reports a context that ended between attempts as is.
		err = errs.Store(op, err)
	}

	return v, err
}

// readBackoff doubles RetryDelay per attempt, capped at readBackoffCap.
func (p Policy) readBackoff() retry.Backoff {
	retries := p.ReadRetries
	if retries < 0 {
		retries = 0
	}

	return retry.WithMaxRetries(uint64(retries), retry.WithCappedDuration(readBackoffCap, retry.NewExponential(p.retryDelay())))
}
