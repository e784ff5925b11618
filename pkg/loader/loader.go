// Package loader batches items from an indexed dataset using a pool of workers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// ErrBatchSize is returned for a non-positive batch size.
var ErrBatchSize = errors.New("batch size must be positive")

// Dataset is an indexed source of items. Get must be safe for concurrent use.
type Dataset[T any] interface {
	Len() int
	Get(ctx context.Context, i int) (T, error)
}

// Options configures a Loader
type Options struct {
	BatchSize int

	// Workers is the number of concurrent Get calls; defaults to the CPU count
	Workers int

	Shuffle bool

	// Seed fixes the shuffle order; epoch e uses Seed+e
	Seed uint64

	// DropLast skips a final batch smaller than BatchSize
	DropLast bool
}

// Loader delivers batches of dataset items in index (or shuffled) order
type Loader[T any] struct {
	ds   Dataset[T]
	opts Options
}

// New returns a loader over ds.
func New[T any](ds Dataset[T], opts Options) (*Loader[T], error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBatchSize, opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Loader[T]{ds: ds, opts: opts}, nil
}

// NumBatches returns the number of batches one epoch yields.
func (l *Loader[T]) NumBatches() int {
	n := l.ds.Len()
	if l.opts.DropLast {
		return n / l.opts.BatchSize
	}
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Order returns the dataset indices visited in the given epoch.
func (l *Loader[T]) Order(epoch int) []int {
	n := l.ds.Len()
	if l.opts.Shuffle {
		return rand.New(rand.NewSource(l.opts.Seed + uint64(epoch))).Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// pendingBatch is a batch whose items are still being fetched
type pendingBatch[T any] struct {
	items []T
	left  atomic.Int64
	done  chan struct{}
}

// prefetch is the number of batches queued ahead of the one being consumed,
// enough to keep every worker busy.
func (l *Loader[T]) prefetch() int {
	return max(1, l.opts.Workers/l.opts.BatchSize)
}

// Run loads one epoch and calls fn with each batch in order. Items are fetched
// by up to Workers goroutines, across batch boundaries, while fn runs on earlier
// batches. The first error from Get or fn stops the epoch and is returned.
// Batches are never retried.
func (l *Loader[T]) Run(ctx context.Context, epoch int, fn func(batch []T) error) error {
	order := l.Order(epoch)
	size := l.opts.BatchSize
	numBatches := l.NumBatches()

	log.Debug().Int("epoch", epoch).Int("items", len(order)).Int("batches", numBatches).
		Int("workers", l.opts.Workers).Msg("starting epoch")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(l.opts.Workers)

	ready := make(chan *pendingBatch[T], l.prefetch())
	go func() {
		defer close(ready)
		for b := 0; b < numBatches; b++ {
			if gctx.Err() != nil {
				return
			}
			start := b * size
			indices := order[start:min(start+size, len(order))]

			pb := &pendingBatch[T]{items: make([]T, len(indices)), done: make(chan struct{})}
			pb.left.Store(int64(len(indices)))
			select {
			case ready <- pb:
			case <-gctx.Done():
				return
			}

			for pos, idx := range indices {
				if gctx.Err() != nil {
					return
				}
				b, pos, idx := b, pos, idx
				g.Go(func() error {
					item, err := l.ds.Get(gctx, idx)
					if err != nil {
						return fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
					}
					pb.items[pos] = item
					if pb.left.Add(-1) == 0 {
						close(pb.done)
					}
					return nil
				})
			}
		}
	}()

	var fnErr error
	delivered := 0
	for pb := range ready {
		select {
		case <-pb.done:
		case <-gctx.Done():
		}
		// completed batches are delivered even if a later one failed
		if !isClosed(pb.done) {
			break
		}
		if err := fn(pb.items); err != nil {
			fnErr = err
			break
		}
		delivered++
	}

	// stop the producer and let it close ready before waiting on the group
	cancel()
	for range ready {
	}
	waitErr := g.Wait()

	switch {
	case fnErr != nil:
		return fnErr
	case delivered == numBatches:
		return nil
	case waitErr != nil:
		return waitErr
	default:
		return ctx.Err()
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
