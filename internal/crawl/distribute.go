package crawl

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkFunc processes one task. A non-nil error stops the whole pool.
type WorkFunc func(ctx context.Context, t Task) error

// Distribute offers tasks to a fixed pool of workers through a bounded
// queue. The producer closes the queue once every task is enqueued and the
// workers exit when it is drained. The first worker error cancels the rest
// and is returned.
func Distribute(ctx context.Context, tasks []Task, workers int, work WorkFunc) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan Task, workers)

	g.Go(func() error {
		defer close(queue)
		for _, t := range tasks {
			select {
			case queue <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range queue {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := work(ctx, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
