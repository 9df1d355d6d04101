package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
)

// Backoff between two attempts of an operation
const (
	retryMinBackoff = 5 * time.Millisecond
	retryMaxBackoff = 100 * time.Millisecond
)

// stopRetry marks an attempt error that must not be retried
type stopRetry struct{ error }

func (s stopRetry) Unwrap() error { return s.error }

// attemptFunc performs a single attempt of an operation. ctx carries the
// budget of the attempt.
type attemptFunc func(ctx context.Context) error

// execute runs an operation with the resolved policy. Every attempt gets a
// fresh budget of min(socket timeout, remaining total timeout). Transport
// faults and attempt timeouts are retried up to policy.RetryCount times as
// long as the total budget is not spent.
func (c *Client) execute(ctx context.Context, op string, policy *store.Policy, attempt attemptFunc) error {
	p := policy.Resolve(c.defaults)
	start := time.Now()
	deadline := start.Add(p.TotalTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	retries := backoff.New(ctx, backoff.Config{
		MinBackoff: retryMinBackoff,
		MaxBackoff: retryMaxBackoff,
		MaxRetries: p.RetryCount + 1, // the first attempt counts as well
	})

	var err error
	attempts := 0
	for retries.Ongoing() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if attempts > 0 {
			observeRetry(op)
			Logger.Debugf("Retrying %s (attempt %d/%d) after: %v", op, attempts+1, p.RetryCount+1, err)
		}
		attempts++

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, p.AttemptTimeout(remaining))
		err = attempt(attemptCtx)
		cancelAttempt()

		var stop stopRetry
		if errors.As(err, &stop) {
			err = stop.error
			break
		}
		if err == nil || !shouldRetry(ctx, err) {
			break
		}
		retries.Wait()
	}

	if attempts == 0 {
		err = store.Errorf(store.ResultTimeout, "%s: total timeout of %s exceeded", op, p.TotalTimeout)
	}
	observeOperation(op, err, time.Since(start))
	return err
}

// shouldRetry reports whether an attempt that failed with err may be repeated
func shouldRetry(ctx context.Context, err error) bool {
	if store.IsRetryable(err) {
		return true
	}
	// an attempt timeout is retried while the total budget lasts
	return store.CodeOf(err) == store.ResultTimeout && ctx.Err() == nil
}

// attemptTimeout returns the budget of an attempt in milliseconds for the
// Timeout field of a request (0 = no deadline)
func attemptTimeout(ctx context.Context) uint32 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	ms := time.Until(deadline).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return uint32(ms)
}
