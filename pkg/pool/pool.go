// Package pool is the worker pool the compute heavy stages of a PSI
// session (OPRF evaluation, hashing, result part sealing and opening)
// fan out on. A pool is an explicit object: components receive the
// pool they run on, there is no process wide instance.
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// batches per worker, to even out uneven work items
const spread = 4

// Pool bounds the number of goroutines working in parallel
type Pool struct {
	workers int
}

// New returns a pool of workers goroutines. A non positive
// value sizes the pool with runtime.GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers is the maximum number of goroutines running at once.
// The nil pool has GOMAXPROCS workers.
func (p *Pool) Workers() int {
	if p == nil {
		return runtime.GOMAXPROCS(0)
	}
	return p.workers
}

// ForEach calls f for every index in [0, n). Indices are processed in
// batches on at most Workers() goroutines. The first error returned by f
// stops the remaining batches and is returned. ForEach also stops when
// ctx is done.
func (p *Pool) ForEach(ctx context.Context, n int, f func(i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}

	workers := p.Workers()
	batchSize := n / (workers * spread)
	if batchSize == 0 {
		batchSize = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += batchSize {
		start, end := start, start+batchSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := f(i); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
