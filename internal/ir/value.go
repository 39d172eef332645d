package ir

import (
	"fmt"
	"math"
	"sort"
)

// Kind identifies which member of the Value variant a value is.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindReal
	KindText
	KindBool
	KindArray
	KindModel
	KindModelList
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindInt:       "int",
	KindReal:      "real",
	KindText:      "text",
	KindBool:      "bool",
	KindArray:     "array",
	KindModel:     "model",
	KindModelList: "model_list",
}

// String returns the lowercase name used in error messages and schemas.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown value kind %q", s)
}

// IsScalar reports whether values of this kind live in a node's scalar record.
func (k Kind) IsScalar() bool {
	switch k {
	case KindInt, KindReal, KindText, KindBool:
		return true
	}
	return false
}

// Value is a sealed interface over the persistable value kinds.
// Only Null, Int, Real, Text, Bool, Array, Model and ModelList implement it.
type Value interface {
	Kind() Kind
	irValue() // Sealed - only these types implement it
}

// Null is the absent value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) irValue()   {}

// Int is a 64-bit integer value.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) irValue()   {}

// Real is a 64-bit floating point value.
type Real float64

func (Real) Kind() Kind { return KindReal }
func (Real) irValue()   {}

// Text is a string value.
type Text string

func (Text) Kind() Kind { return KindText }
func (Text) irValue()   {}

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) irValue()   {}

func (Array) Kind() Kind { return KindArray }
func (Array) irValue()   {}

// Modeler is the minimal view ir has of a nested estimator.
// The estimator package defines the full contract.
type Modeler interface {
	TypeName() string
}

// Model wraps a nested estimator.
type Model struct {
	M Modeler
}

func (Model) Kind() Kind { return KindModel }
func (Model) irValue()   {}

// ModelList is an ordered list of nested estimators, e.g. pipeline stages.
type ModelList []Modeler

func (ModelList) Kind() Kind { return KindModelList }
func (ModelList) irValue()   {}

// IsNull reports whether v is absent. A nil interface counts as absent.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case Null:
		return true
	case Model:
		return val.M == nil
	}
	return false
}

// Object maps entry names to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

// SortedKeys returns keys in ascending byte order.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Of converts a plain Go value into a Value.
// Accepts nil, the Value types themselves, Go integers, floats, strings,
// bools, []float64, []int and Modeler implementations.
func Of(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float64:
		return Real(val), nil
	case float32:
		return Real(val), nil
	case string:
		return Text(val), nil
	case bool:
		return Bool(val), nil
	case []float64:
		return Vector(val...), nil
	case []int:
		return IntVector(val...), nil
	case []any:
		return sliceOf(val)
	case Modeler:
		return Model{M: val}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// sliceOf turns a decoded config list into an array. Nested lists become
// a 2-D array; all rows must have the same length.
func sliceOf(items []any) (Value, error) {
	if len(items) == 0 {
		return Vector(), nil
	}
	if _, nested := items[0].([]any); nested {
		var rows [][]float64
		for i, item := range items {
			inner, ok := item.([]any)
			if !ok {
				return nil, fmt.Errorf("[%d]: mixed nesting", i)
			}
			row, _, err := numbers(inner)
			if err != nil {
				return nil, fmt.Errorf("[%d]%w", i, err)
			}
			rows = append(rows, row)
		}
		cols := len(rows[0])
		data := make([]float64, 0, len(rows)*cols)
		for i, row := range rows {
			if len(row) != cols {
				return nil, fmt.Errorf("[%d]: ragged row of length %d, want %d", i, len(row), cols)
			}
			data = append(data, row...)
		}
		dtype := Float64
		if allIntegral(data) {
			dtype = Int64
		}
		return NewArray(dtype, []int{len(rows), cols}, data)
	}
	data, allInt, err := numbers(items)
	if err != nil {
		return nil, err
	}
	if allInt {
		return NewArray(Int64, []int{len(data)}, data)
	}
	return NewArray(Float64, []int{len(data)}, data)
}

func numbers(items []any) ([]float64, bool, error) {
	out := make([]float64, len(items))
	allInt := true
	for i, item := range items {
		switch n := item.(type) {
		case int:
			out[i] = float64(n)
		case int64:
			out[i] = float64(n)
		case float64:
			out[i] = n
			allInt = false
		default:
			return nil, false, fmt.Errorf("[%d]: not a number: %T", i, item)
		}
	}
	return out, allInt, nil
}

func allIntegral(data []float64) bool {
	for _, x := range data {
		if x != math.Trunc(x) {
			return false
		}
	}
	return true
}

// Equal compares two values. Arrays compare element-wise, reals exactly,
// models by type name only.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Array:
		return av.Equal(b.(Array))
	case Model:
		return av.M.TypeName() == b.(Model).M.TypeName()
	case ModelList:
		bv := b.(ModelList)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].TypeName() != bv[i].TypeName() {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
