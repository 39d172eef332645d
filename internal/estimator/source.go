package estimator

import (
	"context"
	"fmt"
	"iter"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// BatchSource yields numeric batches lazily. A non-nil error ends the
// sequence.
type BatchSource = iter.Seq2[ir.Array, error]

// Batches returns a source over already materialized arrays.
func Batches(xs ...ir.Array) BatchSource {
	return func(yield func(ir.Array, error) bool) {
		for _, x := range xs {
			if !yield(x, nil) {
				return
			}
		}
	}
}

// Chunked splits x along its first axis into batches of at most size rows.
func Chunked(x ir.Array, size int) BatchSource {
	return func(yield func(ir.Array, error) bool) {
		if size <= 0 {
			yield(ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "chunk size must be positive, got %d", size))
			return
		}
		for lo := 0; lo < x.Len(); lo += size {
			hi := min(lo+size, x.Len())
			b, err := x.Rows(lo, hi)
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains src.
func Collect(ctx context.Context, src BatchSource) ([]ir.Array, error) {
	var out []ir.Array
	for b, err := range src {
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", len(out), err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Map applies t to every batch of src.
func Map(src BatchSource, t Transformer) BatchSource {
	return func(yield func(ir.Array, error) bool) {
		for b, err := range src {
			if err != nil {
				yield(ir.Array{}, err)
				return
			}
			y, err := t.Transform(b)
			if !yield(y, err) || err != nil {
				return
			}
		}
	}
}
