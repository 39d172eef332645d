// Package estimator defines the contracts fitted models implement and the
// declared-schema introspection the codec relies on.
//
// Every persistable type declares a Schema and registers a Factory under its
// type name. Introspection (GetParams, EstimateNames, SetParams) is a lookup
// against that declaration; nothing is discovered by scanning field names at
// run time.
//
// # Lifecycle
//
// An Incremental estimator moves through three states:
//
//	empty --FitUpdate--> accumulating --Finalize--> finalized
//	  ^                        ^                        |
//	  |                        +-------FitUpdate--------+
//	  +---------------- Clear (from any state) ---------+
//
// Estimate accessors finalize lazily and document that side effect.
package estimator

import (
	"context"
	"fmt"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Estimator is a model whose declared fields convert to and from ir values.
type Estimator interface {
	// TypeName is the registered name, used for dispatch on read.
	TypeName() string

	// Get returns the current value of a declared parameter or estimate,
	// or ir.Null{} when it is absent.
	Get(name string) ir.Value

	// Set assigns a declared parameter or estimate. Null clears it.
	Set(name string, v ir.Value) error
}

// Fitter is an estimator trained from a complete set of batches.
type Fitter interface {
	Estimator
	Fit(batches ...ir.Array) error
}

// Incremental is an estimator that accumulates sufficient statistics one
// batch at a time.
type Incremental interface {
	Fitter

	// FitUpdate absorbs batches in order. A 1-D batch is one sample.
	FitUpdate(batches ...ir.Array) error

	// Clear drops the accumulator and every cached estimate.
	Clear()

	// Finalize computes derived estimates from the accumulator.
	Finalize() error
}

// SourceFitter fits itself from a stream, typically by passing each batch
// through earlier stages before later ones see it.
type SourceFitter interface {
	Fitter
	FitSource(ctx context.Context, src BatchSource) error
}

// Finalizer computes derived estimates ahead of a write.
type Finalizer interface {
	Finalize() error
}

// Transformer maps one sequence of samples to one output array.
type Transformer interface {
	Estimator
	Transform(x ir.Array) (ir.Array, error)
}

// TransformAll applies t to every sequence. The result has one array per
// input, in order.
func TransformAll(t Transformer, xs []ir.Array) ([]ir.Array, error) {
	out := make([]ir.Array, len(xs))
	for i, x := range xs {
		y, err := t.Transform(x)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// FitSource retrains f from scratch on src.
//
// Incremental estimators pull one batch at a time, so at most one batch is
// held in memory. A SourceFitter streams src itself. Other estimators need
// the full set and src is collected before Fit is called. Cancelling ctx
// stops between batches.
func FitSource(ctx context.Context, f Fitter, src BatchSource) error {
	if sf, ok := f.(SourceFitter); ok {
		return sf.FitSource(ctx, src)
	}
	inc, ok := f.(Incremental)
	if !ok {
		batches, err := Collect(ctx, src)
		if err != nil {
			return err
		}
		return f.Fit(batches...)
	}

	inc.Clear()
	return UpdateSource(ctx, inc, src)
}

// UpdateSource feeds src into e without clearing it first.
func UpdateSource(ctx context.Context, e Incremental, src BatchSource) error {
	i := 0
	for batch, err := range src {
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.FitUpdate(batch); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		i++
	}
	return nil
}
