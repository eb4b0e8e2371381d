// Package dispatcher fans a fixed list of work items out to a bounded pool of
// workers and joins the results back in input order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/watch-wrapped/internal/metrics"
	"github.com/JakeFAU/watch-wrapped/internal/queue/memory"
)

// Handler processes one item. Per-item failures belong in R; the dispatcher
// only stops early when the context ends.
type Handler[T, R any] func(ctx context.Context, item T) R

// Dispatcher runs a Handler over items with bounded concurrency.
type Dispatcher[T, R any] struct {
	workers int
	depth   int
	handle  Handler[T, R]
}

type indexed[T any] struct {
	idx  int
	item T
}

// New creates a Dispatcher with the given worker count and queue depth.
func New[T, R any](workers, depth int, handle Handler[T, R]) *Dispatcher[T, R] {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = workers
	}
	return &Dispatcher[T, R]{workers: workers, depth: depth, handle: handle}
}

// Run processes every item and returns results aligned with items. If ctx
// ends first, Run returns the context error and the results gathered so far
// (unprocessed slots hold zero values).
func (d *Dispatcher[T, R]) Run(ctx context.Context, items []T) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	queue := memory.NewQueue[indexed[T]](d.depth)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer queue.Close()
		for i, item := range items {
			if err := queue.Enqueue(gctx, indexed[T]{idx: i, item: item}); err != nil {
				return fmt.Errorf("queue enqueue: %w", err)
			}
		}
		return nil
	})

	workers := min(d.workers, len(items))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				next, err := queue.Dequeue(gctx)
				if errors.Is(err, memory.ErrClosed) {
					return nil
				}
				if err != nil {
					return err
				}
				metrics.IncActiveWorkers()
				// Each index is written by exactly one worker.
				results[next.idx] = d.handle(gctx, next.item)
				metrics.DecActiveWorkers()
			}
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		return results, err
	}
	return results, nil
}
