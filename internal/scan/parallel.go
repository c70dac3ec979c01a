package scan

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ParallelResult holds the result of one parallel item.
type ParallelResult[R any] struct {
	Value R
	Err   error
}

// ParallelCollect processes items with the specified number of workers,
// collecting every result. Unlike a fail-fast pool, item errors do not
// cancel the remaining work: a broken asset must not abort the scan. Work
// stops early only when the context is canceled, letting in-flight items
// finish.
//
// The onProgress callback is called after each processed item.
func ParallelCollect[T any, R any](
	ctx context.Context,
	items []T,
	workers int,
	process func(ctx context.Context, item T) (R, error),
	onProgress func(done int64, total int64),
) []ParallelResult[R] {
	if len(items) == 0 {
		return nil
	}

	total := int64(len(items))
	out := make([]ParallelResult[R], len(items))
	var done int64

	var g errgroup.Group
	g.SetLimit(normalizeWorkers(workers, len(items)))
	for i, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				out[i] = ParallelResult[R]{Err: ctx.Err()}
				return nil
			}
			value, err := process(ctx, item)
			n := atomic.AddInt64(&done, 1)
			if onProgress != nil {
				onProgress(n, total)
			}
			out[i] = ParallelResult[R]{Value: value, Err: err}
			return nil
		})
	}
	g.Wait()
	return out
}

// normalizeWorkers ensures worker count is between 1 and item count.
func normalizeWorkers(workers, itemCount int) int {
	if workers < 1 {
		workers = 1
	}
	if workers > itemCount {
		workers = itemCount
	}
	return workers
}
