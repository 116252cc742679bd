// Package worker runs a processor over a slice of items with a fixed number of
// goroutines and returns the results in input order.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const DefaultWorkers = 16

type Options struct {
	// Workers is the pool size. 1 processes items strictly sequentially.
	Workers int

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// ProcessAll runs the processor over all input items.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results and runs on
// the calling goroutine, so it needs no locking of its own.
//
// Processor errors are recorded per item and never stop the run. A callback error or
// ctx cancellation stops dispatch and is returned.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	out := make([]Result[In, Out], len(items))

	type job struct {
		idx int
		in  In
	}

	jobs := make(chan job)
	done := make(chan Result[In, Out], opts.Workers)

	var g errgroup.Group
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				if runCtx.Err() != nil {
					return nil
				}
				res := processOne(runCtx, j.idx, j.in, processor, limiter)
				select {
				case done <- res:
				case <-runCtx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		_ = g.Wait()
		close(done)
	}()

	var callbackErr error
	for res := range done {
		out[res.Index] = res
		if onResult != nil && callbackErr == nil {
			if err := onResult(res); err != nil {
				callbackErr = err
				cancel()
			}
		}
	}

	if callbackErr != nil {
		return nil, callbackErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	idx int,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
) Result[In, Out] {
	res := Result[In, Out]{Index: idx, Input: item}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			res.Err = err
			return res
		}
	}
	res.Output, res.Err = processor(ctx, item)
	return res
}
