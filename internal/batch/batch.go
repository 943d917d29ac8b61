// Package batch slices a work list into fixed-size batches and applies a
// transformation with bounded concurrency. Failures never fail fast: a
// batch error is attached to every item in that batch and later batches
// still run. The caller decides whether partial success is acceptable.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pressridge/blogidx/internal/clock"
)

// Options controls one Process call.
type Options struct {
	// BatchSize is the maximum items per batch.
	BatchSize int
	// Pause is the sleep after each completed batch, to cap sustained
	// throughput and let downstream services breathe.
	Pause time.Duration
	// MaxConcurrency caps how many batches run in parallel.
	MaxConcurrency int
}

// Failure pairs a failed item with its batch's error.
type Failure[T any] struct {
	Item T
	Err  error
}

// Result aggregates the outcome across all batches.
type Result[T any] struct {
	Succeeded []T
	Failed    []Failure[T]
}

// FailedItems returns the failed items without their errors.
func (r Result[T]) FailedItems() []T {
	out := make([]T, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = f.Item
	}
	return out
}

// Processor runs batched transformations.
type Processor struct {
	clk    clock.Clock
	logger *slog.Logger
}

// New creates a Processor.
func New(clk clock.Clock, logger *slog.Logger) *Processor {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{clk: clk, logger: logger}
}

// Process partitions items into contiguous batches and applies transform
// to each. Up to MaxConcurrency batches run in parallel; items within a
// batch are handled sequentially by the transform. When ctx is done no
// new batches start, but in-flight batches finish; their items still
// count toward the result and the remainder is reported failed with the
// context error.
func Process[T any](ctx context.Context, p *Processor, items []T, opts Options, transform func(context.Context, []T) error) Result[T] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	batches := partition(items, opts.BatchSize)

	var (
		mu     sync.Mutex
		result Result[T]
	)

	g := new(errgroup.Group)
	g.SetLimit(opts.MaxConcurrency)

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			// Deadline or cancellation: remaining batches are recorded
			// as failed without being dispatched.
			mu.Lock()
			for _, rest := range batches[i:] {
				for _, item := range rest {
					result.Failed = append(result.Failed, Failure[T]{Item: item, Err: err})
				}
			}
			mu.Unlock()
			break
		}

		idx, items := i, b
		g.Go(func() error {
			err := transform(ctx, items)

			mu.Lock()
			if err != nil {
				for _, item := range items {
					result.Failed = append(result.Failed, Failure[T]{Item: item, Err: err})
				}
			} else {
				result.Succeeded = append(result.Succeeded, items...)
			}
			mu.Unlock()

			if err != nil {
				p.logger.Warn("batch failed",
					slog.Int("batch", idx),
					slog.Int("items", len(items)),
					slog.String("error", err.Error()))
			}

			if opts.Pause > 0 && ctx.Err() == nil {
				p.clk.Sleep(opts.Pause)
			}
			return nil
		})
	}

	_ = g.Wait()
	return result
}

// partition splits items into contiguous slices of at most size.
func partition[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
