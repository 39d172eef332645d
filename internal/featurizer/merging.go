package featurizer

import (
	"context"
	"fmt"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// MergingType is the registered type name of Merging.
const MergingType = "Merging"

var mergingSchema = estimator.Schema{
	Type: MergingType,
	Params: []estimator.Field{
		{Name: "transformers", Kind: ir.KindModelList},
	},
}

func init() {
	estimator.MustRegister(mergingSchema, func(params ir.Object) (estimator.Estimator, error) {
		m := &Merging{}
		if err := estimator.SetParams(m, params); err != nil {
			return nil, err
		}
		return m, nil
	})
}

// Merging applies several transformers to the same input and stacks their
// outputs column-wise, so each frame gets the features of every member.
type Merging struct {
	Transformers []estimator.Transformer
}

func NewMerging(ts ...estimator.Transformer) *Merging {
	return &Merging{Transformers: ts}
}

func (m *Merging) TypeName() string { return MergingType }

func (m *Merging) Get(name string) ir.Value {
	if name != "transformers" || m.Transformers == nil {
		return ir.Null{}
	}
	es := make([]estimator.Estimator, len(m.Transformers))
	for i, t := range m.Transformers {
		es[i] = t
	}
	return estimator.ModelsValue(es)
}

func (m *Merging) Set(name string, v ir.Value) error {
	if name != "transformers" {
		return estimator.Unknown(MergingType, name)
	}
	es, ok, err := estimator.Models(name, v)
	if err != nil {
		return err
	}
	m.Transformers = nil
	if !ok {
		return nil
	}
	ts := make([]estimator.Transformer, len(es))
	for i, e := range es {
		t, ok := e.(estimator.Transformer)
		if !ok {
			return ir.Errorf(ir.ErrCodeConfiguration, "member %d (%s) cannot transform", i, e.TypeName()).WithKey(name)
		}
		ts[i] = t
	}
	m.Transformers = ts
	return nil
}

// Fit fits every member that can be fit on the same batches.
func (m *Merging) Fit(batches ...ir.Array) error {
	return m.FitSource(context.Background(), estimator.Batches(batches...))
}

// FitSource fits every member that can be fit, iterating src once per
// member.
func (m *Merging) FitSource(ctx context.Context, src estimator.BatchSource) error {
	for i, t := range m.Transformers {
		f, ok := t.(estimator.Fitter)
		if !ok {
			continue
		}
		if err := estimator.FitSource(ctx, f, src); err != nil {
			return fmt.Errorf("merging member %d (%s): %w", i, t.TypeName(), err)
		}
	}
	return nil
}

// Finalize finalizes the members that accumulate.
func (m *Merging) Finalize() error {
	for i, t := range m.Transformers {
		if fz, ok := t.(estimator.Finalizer); ok {
			if err := fz.Finalize(); err != nil {
				return fmt.Errorf("merging member %d (%s): %w", i, t.TypeName(), err)
			}
		}
	}
	return nil
}

// Transform concatenates the members' outputs. One-dimensional outputs are
// joined end to end; two-dimensional outputs must agree on the row count
// and are joined column-wise.
func (m *Merging) Transform(x ir.Array) (ir.Array, error) {
	if len(m.Transformers) == 0 {
		return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "no transformers to merge").WithKey("transformers")
	}
	outs := make([]ir.Array, len(m.Transformers))
	for i, t := range m.Transformers {
		y, err := t.Transform(x)
		if err != nil {
			return ir.Array{}, fmt.Errorf("merging member %d (%s): %w", i, t.TypeName(), err)
		}
		outs[i] = y
	}
	return hstack(outs)
}

func hstack(outs []ir.Array) (ir.Array, error) {
	dtype := outs[0].DType
	for _, o := range outs[1:] {
		if o.DType != dtype {
			dtype = ir.Float64
		}
	}

	if outs[0].Ndim() == 1 {
		var data []float64
		for i, o := range outs {
			if o.Ndim() != 1 {
				return ir.Array{}, ir.Errorf(ir.ErrCodeShape, "member %d output of shape %s cannot join 1-d outputs", i, o.ShapeString())
			}
			data = append(data, o.Data...)
		}
		return ir.NewArray(dtype, []int{len(data)}, data)
	}

	rows, width := outs[0].Len(), 0
	for i, o := range outs {
		if o.Ndim() != 2 || o.Shape[0] != rows {
			return ir.Array{}, ir.Errorf(ir.ErrCodeShape, "member %d output of shape %s does not have %d rows", i, o.ShapeString(), rows)
		}
		width += o.Shape[1]
	}
	data := make([]float64, 0, rows*width)
	for r := 0; r < rows; r++ {
		for _, o := range outs {
			w := o.Shape[1]
			data = append(data, o.Data[r*w:(r+1)*w]...)
		}
	}
	return ir.NewArray(dtype, []int{rows, width}, data)
}
