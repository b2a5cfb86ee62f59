package data

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// Loader yields batches of a dataset, reshuffled on every pass. Batch
// assembly runs in a producer goroutine at most Prefetch batches ahead of the
// consumer.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	prefetch  int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewLoader(ds *Dataset, batchSize int, shuffle bool, prefetch int, src rand.Source) (*Loader, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if prefetch < 0 {
		return nil, fmt.Errorf("prefetch must be non-negative, got %d", prefetch)
	}
	return &Loader{ds: ds, batchSize: batchSize, shuffle: shuffle, prefetch: prefetch, rng: rand.New(src)}, nil
}

// NumBatches counts batches per pass; the last one may be short.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

func (l *Loader) order() []int {
	n := l.ds.Len()
	if !l.shuffle {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Perm(n)
}

// First returns the first batch of a fresh pass.
func (l *Loader) First(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	idx := l.order()
	if len(idx) > l.batchSize {
		idx = idx[:l.batchSize]
	}
	return l.ds.Gather(idx), nil
}

// Each runs fn on every batch of one pass, in order, on a single goroutine.
// It stops at the first error from fn or when ctx is done.
func (l *Loader) Each(ctx context.Context, fn func(Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx := l.order()
	batches := make(chan Batch, l.prefetch)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		for start := 0; start < len(idx); start += l.batchSize {
			end := min(start+l.batchSize, len(idx))
			select {
			case batches <- l.ds.Gather(idx[start:end]):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case b, ok := <-batches:
				if !ok {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(b); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}
