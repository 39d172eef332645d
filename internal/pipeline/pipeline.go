// Package pipeline chains estimators so the output of each stage feeds the
// next.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Type is the registered type name of Pipeline.
const Type = "Pipeline"

var schema = estimator.Schema{
	Type: Type,
	Params: []estimator.Field{
		{Name: "stages", Kind: ir.KindModelList},
	},
}

func init() {
	estimator.MustRegister(schema, func(params ir.Object) (estimator.Estimator, error) {
		p := &Pipeline{}
		if err := estimator.SetParams(p, params); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Pipeline is an ordered list of stages. Every stage but the last must be
// a Transformer; the last may be any estimator.
type Pipeline struct {
	stages []estimator.Estimator
}

// New builds a pipeline, checking that every inner stage can transform.
func New(stages ...estimator.Estimator) (*Pipeline, error) {
	p := &Pipeline{}
	if err := p.setStages(stages); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) TypeName() string { return Type }

// Stages returns the stages in order.
func (p *Pipeline) Stages() []estimator.Estimator {
	return append([]estimator.Estimator(nil), p.stages...)
}

func (p *Pipeline) Get(name string) ir.Value {
	if name != "stages" {
		return ir.Null{}
	}
	return estimator.ModelsValue(p.stages)
}

func (p *Pipeline) Set(name string, v ir.Value) error {
	if name != "stages" {
		return estimator.Unknown(Type, name)
	}
	es, _, err := estimator.Models(name, v)
	if err != nil {
		return err
	}
	return p.setStages(es)
}

func (p *Pipeline) setStages(es []estimator.Estimator) error {
	for i, e := range es {
		if e == nil {
			return ir.Errorf(ir.ErrCodeConfiguration, "stage %d is nil", i).WithKey("stages")
		}
		if i == len(es)-1 {
			break
		}
		if _, ok := e.(estimator.Transformer); !ok {
			return ir.Errorf(ir.ErrCodeConfiguration, "stage %d (%s) cannot transform", i, e.TypeName()).WithKey("stages")
		}
	}
	p.stages = es
	return nil
}

// Fit fits every fittable stage on batches.
func (p *Pipeline) Fit(batches ...ir.Array) error {
	return p.FitSource(context.Background(), estimator.Batches(batches...))
}

// FitSource fits stage i on src passed through stages 0..i-1. Batches are
// pulled one at a time, so src is iterated once per fittable stage and must
// be re-iterable.
func (p *Pipeline) FitSource(ctx context.Context, src estimator.BatchSource) error {
	if len(p.stages) == 0 {
		return ir.Errorf(ir.ErrCodeConfiguration, "pipeline has no stages").WithKey("stages")
	}
	in := src
	for i, stage := range p.stages {
		if f, ok := stage.(estimator.Fitter); ok {
			if err := estimator.FitSource(ctx, f, in); err != nil {
				return fmt.Errorf("fit stage %d (%s): %w", i, stage.TypeName(), err)
			}
			slog.Info("stage fitted", "stage", i, "type", stage.TypeName())
		}
		if t, ok := stage.(estimator.Transformer); ok && i < len(p.stages)-1 {
			in = estimator.Map(in, t)
		}
	}
	return nil
}

// Finalize finalizes every stage that accumulates, nested pipelines
// included, so derived estimates are present when the pipeline is written.
func (p *Pipeline) Finalize() error {
	for i, stage := range p.stages {
		fz, ok := stage.(estimator.Finalizer)
		if !ok {
			continue
		}
		if err := fz.Finalize(); err != nil {
			return fmt.Errorf("finalize stage %d (%s): %w", i, stage.TypeName(), err)
		}
	}
	return nil
}

// Transform runs x through every stage. The last stage must be a
// Transformer.
func (p *Pipeline) Transform(x ir.Array) (ir.Array, error) {
	if len(p.stages) == 0 {
		return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "pipeline has no stages").WithKey("stages")
	}
	for i, stage := range p.stages {
		t, ok := stage.(estimator.Transformer)
		if !ok {
			return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "stage %d (%s) cannot transform", i, stage.TypeName()).WithKey("stages")
		}
		y, err := t.Transform(x)
		if err != nil {
			return ir.Array{}, fmt.Errorf("transform stage %d (%s): %w", i, stage.TypeName(), err)
		}
		x = y
	}
	return x, nil
}
