package tester

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"rayscan/internal/logger"
)

// Batcher runs work over an index range a fixed number at a time. Every task
// of a batch settles before the next batch starts, and Delay is waited only
// between batches.
type Batcher struct {
	Size  int
	Delay time.Duration

	// Sleep replaces the inter-batch wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run calls fn(ctx, i) for i in [0, n). A task error cancels the ctx handed to
// the rest of its batch, and Run returns it without starting another batch.
// Cancelling ctx between batches returns ctx.Err().
func (b *Batcher) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	size := b.Size
	if size <= 0 {
		size = n
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	batches := 0
	if size > 0 {
		batches = (n + size - 1) / size
	}

	for start, batch := 0, 1; start < n; start, batch = start+size, batch+1 {
		if batch > 1 && b.Delay > 0 {
			if err := sleep(ctx, b.Delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + size
		if end > n {
			end = n
		}
		logger.Log.Debugf("Probing batch %d/%d (%d-%d)", batch, batches, start, end-1)

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				return fn(gctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
