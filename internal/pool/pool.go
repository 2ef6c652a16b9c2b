// Package pool runs independent per-item tasks on a bounded number of
// goroutines.
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded worker pool. A Pool is reused across phases; each Run
// call waits for its own tasks before returning.
type Pool struct {
	workers int
}

// New creates a Pool with n workers. n < 1 selects runtime.NumCPU().
func New(n int) *Pool {
	if n < 1 {
		n = runtime.NumCPU()
	}
	return &Pool{workers: n}
}

// Workers returns the concurrency limit
func (p *Pool) Workers() int {
	return p.workers
}

// Run calls task for every index in [0, n). Tasks own their error handling:
// a failing item never stops the others. Once ctx is done no further tasks
// start; tasks already running finish and Run returns ctx.Err().
func (p *Pool) Run(ctx context.Context, n int, task func(ctx context.Context, i int)) error {
	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			task(ctx, i)
			return nil
		})
	}

	g.Wait()
	return ctx.Err()
}
