package codec

import (
	"strconv"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Dump flattens e into plain data for canonical JSON:
//
//	{"class": ..., "params": {...}, "estimates": {...}}
//
// Absent entries are omitted, as on disk. Nested estimators dump
// recursively; lists become JSON lists.
func Dump(e estimator.Estimator) (map[string]any, error) {
	schema, err := estimator.SchemaOf(e)
	if err != nil {
		return nil, err
	}

	section := func(fields []estimator.Field) (map[string]any, error) {
		out := map[string]any{}
		for _, f := range fields {
			v := e.Get(f.Name)
			if ir.IsNull(v) {
				continue
			}
			d, err := dumpValue(f.Name, v)
			if err != nil {
				return nil, err
			}
			out[f.Name] = d
		}
		return out, nil
	}

	params, err := section(schema.Params)
	if err != nil {
		return nil, err
	}
	estimates, err := section(schema.Estimates)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"class":     schema.Type,
		"params":    params,
		"estimates": estimates,
	}, nil
}

func dumpValue(key string, v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.Model:
		child, ok := val.M.(estimator.Estimator)
		if !ok {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "nested %T is not an estimator", val.M).WithKey(key)
		}
		return Dump(child)
	case ir.ModelList:
		out := make([]any, len(val))
		for i, m := range val {
			d, err := dumpValue(key+"."+strconv.Itoa(i), ir.Model{M: m})
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}
	return v, nil
}

// DumpJSON is Dump followed by canonical JSON encoding.
func DumpJSON(e estimator.Estimator) ([]byte, error) {
	d, err := Dump(e)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(d)
}
