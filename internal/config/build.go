package config

import (
	"fmt"
	"sort"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Build constructs the estimator m describes from the global registry.
// Parameters that are themselves models ({type: ..., params: ...}) or lists
// of models are built recursively. The estimator packages must be linked
// in for their types to be registered.
func Build(m Model) (estimator.Estimator, error) {
	params := make(ir.Object, len(m.Params)+1)
	names := make([]string, 0, len(m.Params))
	for name := range m.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, err := value(m.Params[name])
		if err != nil {
			return nil, ir.Errorf(ir.ErrCodeConfiguration, "%s.%s: %v", m.Type, name, err).WithKey(name).Wrap(err)
		}
		params[name] = v
	}

	if len(m.Stages) > 0 {
		if _, ok := params["stages"]; ok {
			return nil, ir.Errorf(ir.ErrCodeConfiguration, "%s: stages given both inline and as a parameter", m.Type).WithKey("stages")
		}
		list := make(ir.ModelList, len(m.Stages))
		for i, s := range m.Stages {
			e, err := Build(s)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
			list[i] = e
		}
		params["stages"] = list
	}

	return estimator.New(m.Type, params)
}

// value converts one decoded parameter.
func value(v any) (ir.Value, error) {
	switch x := v.(type) {
	case map[string]any:
		m, err := modelOf(x)
		if err != nil {
			return nil, err
		}
		e, err := Build(m)
		if err != nil {
			return nil, err
		}
		return ir.Model{M: e}, nil
	case []any:
		if len(x) > 0 {
			if _, ok := x[0].(map[string]any); ok {
				list := make(ir.ModelList, len(x))
				for i, item := range x {
					mv, ok := item.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("[%d]: mixed models and values", i)
					}
					m, err := modelOf(mv)
					if err != nil {
						return nil, fmt.Errorf("[%d]: %w", i, err)
					}
					e, err := Build(m)
					if err != nil {
						return nil, fmt.Errorf("[%d]: %w", i, err)
					}
					list[i] = e
				}
				return list, nil
			}
		}
	}
	return ir.Of(v)
}

// modelOf reads a nested model written as a plain mapping.
func modelOf(x map[string]any) (Model, error) {
	var m Model
	for k, v := range x {
		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return Model{}, fmt.Errorf("model type must be text, got %T", v)
			}
			m.Type = s
		case "params":
			p, ok := v.(map[string]any)
			if !ok {
				return Model{}, fmt.Errorf("model params must be a mapping, got %T", v)
			}
			m.Params = p
		case "stages":
			items, ok := v.([]any)
			if !ok {
				return Model{}, fmt.Errorf("model stages must be a list, got %T", v)
			}
			for i, item := range items {
				sm, ok := item.(map[string]any)
				if !ok {
					return Model{}, fmt.Errorf("stages[%d] is not a model", i)
				}
				s, err := modelOf(sm)
				if err != nil {
					return Model{}, fmt.Errorf("stages[%d]: %w", i, err)
				}
				m.Stages = append(m.Stages, s)
			}
		default:
			return Model{}, fmt.Errorf("unknown model field %q", k)
		}
	}
	if m.Type == "" {
		return Model{}, fmt.Errorf("model has no type")
	}
	return m, nil
}
