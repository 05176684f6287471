package utils

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Batchify splits a slice into batches of specified size
func Batchify[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		panic("batch size must be positive")
	}

	batches := make([][]T, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// BatchProcess processes items in batches with a worker function, in order
// on the calling goroutine
func BatchProcess[T any, R any](
	items []T,
	batchSize int,
	worker func(batch []T) ([]R, error),
) ([]R, error) {
	batches := Batchify(items, batchSize)
	results := make([]R, 0, len(items))

	for i, batch := range batches {
		batchResults, err := worker(batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d failed: %w", i, err)
		}
		results = append(results, batchResults...)
	}

	return results, nil
}

// BatchProcessParallel processes batches on up to workers goroutines and
// concatenates the results in batch order. The first error cancels ctx for
// the remaining batches.
func BatchProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	batchSize int,
	workers int,
	worker func(ctx context.Context, batch []T) ([]R, error),
) ([]R, error) {
	if workers <= 1 {
		return BatchProcess(items, batchSize, func(batch []T) ([]R, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return worker(ctx, batch)
		})
	}

	batches := Batchify(items, batchSize)
	perBatch := make([][]R, len(batches))

	err := ParallelFor(ctx, len(batches), workers, func(ctx context.Context, i int) error {
		batchResults, err := worker(ctx, batches[i])
		if err != nil {
			return fmt.Errorf("batch %d failed: %w", i, err)
		}
		perBatch[i] = batchResults
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]R, 0, len(items))
	for _, r := range perBatch {
		results = append(results, r...)
	}
	return results, nil
}

// ParallelFor calls fn for every index in [0, n) on up to workers goroutines.
// With workers <= 1 the indices run in order on the calling goroutine.
func ParallelFor(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	// gctx is cancelled by Wait, so only the caller's ctx decides the result
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ProgressBar is a simple progress indicator
type ProgressBar struct {
	w       io.Writer
	total   int
	current int
	desc    string
	mu      sync.Mutex
}

// NewProgressBar creates a new progress bar writing to w
func NewProgressBar(w io.Writer, total int, desc string) *ProgressBar {
	if w == nil {
		w = io.Discard
	}
	return &ProgressBar{
		w:     w,
		total: total,
		desc:  desc,
	}
}

// Increment increments the progress bar
func (pb *ProgressBar) Increment() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current++
	if pb.current%10 == 0 || pb.current == pb.total {
		fmt.Fprintf(pb.w, "\r%s: %d/%d (%.1f%%)", pb.desc, pb.current, pb.total,
			float64(pb.current)/float64(pb.total)*100)
	}
	if pb.current == pb.total {
		fmt.Fprintln(pb.w)
	}
}

// Current returns the number of completed steps
func (pb *ProgressBar) Current() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.current
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.current == pb.total {
		return
	}
	pb.current = pb.total
	fmt.Fprintf(pb.w, "\r%s: %d/%d (100.0%%)\n", pb.desc, pb.total, pb.total)
}
