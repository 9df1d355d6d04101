package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"golang.org/x/sync/semaphore"
)

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is the pending result of an async operation
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the operation completed
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation completed or ctx ends. Abandoning the
// wait does not cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, store.Errorf(store.ResultTimeout, "wait aborted: %v", ctx.Err())
	}
}

// --------------------------------------------------------------------------
// Runner
// --------------------------------------------------------------------------

// asyncRunner bounds the number of async operations in flight
type asyncRunner struct {
	sem    *semaphore.Weighted
	ctx    context.Context // canceled on close
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func newAsyncRunner(maxInflight int) *asyncRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &asyncRunner{
		sem:    semaphore.NewWeighted(int64(max(maxInflight, 1))),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *asyncRunner) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *asyncRunner) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
}

// runAsync starts op in the background. The callback (may be nil) is called
// exactly once with the result, after the future completed. Operations that
// are pending when the client closes fail with a connection closed error.
func runAsync[T any](r *asyncRunner, op func(ctx context.Context) (T, error), callback func(T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	complete := func(v T, err error) {
		if err != nil && r.isClosed() {
			err = store.NewError(store.ResultConnectionClosed, "client closed while the operation was pending")
		}
		f.value, f.err = v, err
		close(f.done)
		if callback != nil {
			callback(v, err)
		}
	}

	go func() {
		var zero T
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			complete(zero, err)
			return
		}
		defer r.sem.Release(1)
		if r.isClosed() {
			complete(zero, store.NewError(store.ResultConnectionClosed, "client is closed"))
			return
		}
		complete(op(r.ctx))
	}()
	return f
}

// --------------------------------------------------------------------------
// Async operations
// --------------------------------------------------------------------------

// GetAsync reads a record in the background
func (c *Client) GetAsync(key *store.Key, policy *store.Policy, callback func(*store.Record, error)) *Future[*store.Record] {
	return runAsync(c.async, func(ctx context.Context) (*store.Record, error) {
		return c.Get(ctx, key, policy)
	}, callback)
}

// ExistsAsync checks the existence of a record in the background
func (c *Client) ExistsAsync(key *store.Key, policy *store.Policy, callback func(bool, error)) *Future[bool] {
	return runAsync(c.async, func(ctx context.Context) (bool, error) {
		return c.Exists(ctx, key, policy)
	}, callback)
}

// PutAsync writes bins in the background
func (c *Client) PutAsync(key *store.Key, bins value.Bins, policy *store.Policy, callback func(error)) *Future[struct{}] {
	return runAsync(c.async, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Put(ctx, key, bins, policy)
	}, errorCallback(callback))
}

// RemoveAsync removes a record in the background
func (c *Client) RemoveAsync(key *store.Key, policy *store.Policy, callback func(error)) *Future[struct{}] {
	return runAsync(c.async, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Remove(ctx, key, policy)
	}, errorCallback(callback))
}

func errorCallback(callback func(error)) func(struct{}, error) {
	if callback == nil {
		return nil
	}
	return func(_ struct{}, err error) { callback(err) }
}
