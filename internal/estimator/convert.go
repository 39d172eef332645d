package estimator

import (
	"math"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// The helpers below are for Set implementations. Each returns ok=false for
// a null value and a TYPE error naming the field for anything else that
// does not fit.

func mismatch(name string, want ir.Kind, v ir.Value) error {
	return ir.Errorf(ir.ErrCodeType, "%s must be %s, got %s", name, want, v.Kind()).WithKey(name)
}

// Int converts an integer field. Reals with no fractional part are accepted.
func Int(name string, v ir.Value) (int, bool, error) {
	if ir.IsNull(v) {
		return 0, false, nil
	}
	switch x := v.(type) {
	case ir.Int:
		return int(x), true, nil
	case ir.Real:
		if float64(x) == math.Trunc(float64(x)) {
			return int(x), true, nil
		}
	}
	return 0, false, mismatch(name, ir.KindInt, v)
}

// Real converts a floating-point field, widening integers.
func Real(name string, v ir.Value) (float64, bool, error) {
	if ir.IsNull(v) {
		return 0, false, nil
	}
	switch x := v.(type) {
	case ir.Real:
		return float64(x), true, nil
	case ir.Int:
		return float64(x), true, nil
	}
	return 0, false, mismatch(name, ir.KindReal, v)
}

// Text converts a text field.
func Text(name string, v ir.Value) (string, bool, error) {
	if ir.IsNull(v) {
		return "", false, nil
	}
	if x, ok := v.(ir.Text); ok {
		return string(x), true, nil
	}
	return "", false, mismatch(name, ir.KindText, v)
}

// Bool converts a boolean field.
func Bool(name string, v ir.Value) (bool, bool, error) {
	if ir.IsNull(v) {
		return false, false, nil
	}
	if x, ok := v.(ir.Bool); ok {
		return bool(x), true, nil
	}
	return false, false, mismatch(name, ir.KindBool, v)
}

// Array converts an array field.
func Array(name string, v ir.Value) (ir.Array, bool, error) {
	if ir.IsNull(v) {
		return ir.Array{}, false, nil
	}
	if x, ok := v.(ir.Array); ok {
		return x, true, nil
	}
	return ir.Array{}, false, mismatch(name, ir.KindArray, v)
}

// Model converts a nested estimator field.
func Model(name string, v ir.Value) (Estimator, bool, error) {
	if ir.IsNull(v) {
		return nil, false, nil
	}
	if x, ok := v.(ir.Model); ok {
		if e, ok := x.M.(Estimator); ok {
			return e, true, nil
		}
	}
	return nil, false, mismatch(name, ir.KindModel, v)
}

// Models converts a list-of-estimators field.
func Models(name string, v ir.Value) ([]Estimator, bool, error) {
	if ir.IsNull(v) {
		return nil, false, nil
	}
	list, ok := v.(ir.ModelList)
	if !ok {
		return nil, false, mismatch(name, ir.KindModelList, v)
	}
	out := make([]Estimator, len(list))
	for i, m := range list {
		e, ok := m.(Estimator)
		if !ok {
			return nil, false, mismatch(name, ir.KindModelList, v)
		}
		out[i] = e
	}
	return out, true, nil
}

// OptInt is the Get-side counterpart of Int for optional fields.
func OptInt(p *int) ir.Value {
	if p == nil {
		return ir.Null{}
	}
	return ir.Int(*p)
}

// ModelsValue wraps estimators for Get.
func ModelsValue(es []Estimator) ir.Value {
	if es == nil {
		return ir.Null{}
	}
	out := make(ir.ModelList, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Unknown reports a Get or Set of an undeclared name.
func Unknown(typeName, name string) error {
	return ir.Errorf(ir.ErrCodeConfiguration, "%s has no field %q", typeName, name).WithKey(name)
}
