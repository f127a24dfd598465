package writer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/firehose/internal/router"
)

// Fanout writes every batch to all of its writers concurrently.
// One failing writer does not stop the others.
type Fanout struct {
	writers []Writer
}

// NewFanout creates a Fanout over writers.
func NewFanout(writers ...Writer) *Fanout {
	return &Fanout{writers: writers}
}

// Add appends a writer.
func (f *Fanout) Add(w Writer) {
	f.writers = append(f.writers, w)
}

// Len returns the number of writers.
func (f *Fanout) Len() int {
	return len(f.writers)
}

func (f *Fanout) Write(ctx context.Context, batch router.Batch) error {
	errs := make([]error, len(f.writers))

	var g errgroup.Group
	for i, w := range f.writers {
		i, w := i, w
		g.Go(func() error {
			if err := w.Write(ctx, batch); err != nil {
				errs[i] = fmt.Errorf("writer %d: %w", i, err)
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}
