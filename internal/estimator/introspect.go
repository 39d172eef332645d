package estimator

import (
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// SchemaOf returns the registered schema of e's type.
func SchemaOf(e Estimator) (*Schema, error) {
	s, ok := Lookup(e.TypeName())
	if !ok {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "estimator type %q is not registered", e.TypeName())
	}
	return s, nil
}

// GetParams returns every declared parameter with its current value.
// Absent parameters map to ir.Null{}.
func GetParams(e Estimator) (ir.Object, error) {
	s, err := SchemaOf(e)
	if err != nil {
		return nil, err
	}
	out := make(ir.Object, len(s.Params))
	for _, p := range s.Params {
		v := e.Get(p.Name)
		if v == nil {
			v = ir.Null{}
		}
		out[p.Name] = v
	}
	return out, nil
}

// EstimateNames returns the declared estimates that are currently present,
// in declaration order.
func EstimateNames(e Estimator) ([]string, error) {
	s, err := SchemaOf(e)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range s.Estimates {
		if !ir.IsNull(e.Get(f.Name)) {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// Estimates returns the present estimates keyed by name.
func Estimates(e Estimator) (ir.Object, error) {
	names, err := EstimateNames(e)
	if err != nil {
		return nil, err
	}
	out := make(ir.Object, len(names))
	for _, n := range names {
		out[n] = e.Get(n)
	}
	return out, nil
}

// SetParams assigns parameters. Any key that is not a declared parameter
// is rejected before anything is assigned.
func SetParams(e Estimator, updates ir.Object) error {
	s, err := SchemaOf(e)
	if err != nil {
		return err
	}
	keys := updates.SortedKeys()
	for _, k := range keys {
		if _, ok := s.Param(k); !ok {
			return ir.Errorf(ir.ErrCodeConfiguration, "%s has no parameter %q", s.Type, k).WithKey(k)
		}
	}
	for _, k := range keys {
		v := updates[k]
		if v == nil {
			v = ir.Null{}
		}
		if err := e.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
