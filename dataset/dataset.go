// Package dataset - Batch suppliers for the solver.
package dataset

import (
	"context"

	"gorgonia.org/tensor"
)

// Batch is one training step worth of data.
type Batch struct {
	// Images is float32 (batch, size, size, 3) in [-1, 1].
	Images *tensor.Dense
	// Labels is float32 (batch, max_objects, 5) holding (xcenter, ycenter, w, h,
	// class) in pixels of the resized image. Unused rows are zero.
	Labels *tensor.Dense
	// ObjectsNum is the number of valid label rows of each item.
	ObjectsNum []int32
}

// Dataset supplies batches.
type Dataset interface {
	// Batch blocks until a batch is ready or ctx is done.
	Batch(ctx context.Context) (*Batch, error)
	// BatchSize is the leading dimension of every batch.
	BatchSize() int
	// Close stops any background work.
	Close() error
}
