// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emitter

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Future is a value that becomes available later. Handlers return a Future
// when their work continues after the handler itself has returned.
type Future interface {
	Await(ctx context.Context) (any, error)
}

type future struct {
	done  chan struct{}
	value any
	err   error
}

// Go runs fn in a new goroutine and returns a Future for its result.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns an already-completed Future.
func Resolved(v any) Future {
	f := &future{done: make(chan struct{}), value: v}
	close(f.done)
	return f
}

// Await blocks until the future completes or ctx is done.
func (f *future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settle waits for every result of an emission. Plain values pass through,
// Futures are awaited concurrently. Values are returned in emission order.
// A handler error is returned without waiting; otherwise the first failed
// future cancels the remaining waits and its error is returned.
func Settle(ctx context.Context, results []Result) ([]any, error) {
	values := make([]any, len(results))
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range results {
		f, ok := r.Value.(Future)
		if !ok {
			values[i] = r.Value
			continue
		}
		g.Go(func() error {
			v, err := f.Await(gctx)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // handler errors already carry their own context
	}
	return values, nil
}
