package estimator

import (
	"strings"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// EstimateMarker is the suffix every estimate name carries.
const EstimateMarker = "_"

// privatePrefix marks names that are never persisted.
const privatePrefix = "_"

// ListClass is the class attribute of a group holding a list of models.
// No estimator may register under this name.
const ListClass = "__list__"

// Field is one declared parameter or estimate.
type Field struct {
	Name string
	Kind ir.Kind
}

// Schema is the static declaration of an estimator type: its constructor
// parameters in order and the estimates fitting produces.
type Schema struct {
	Type      string
	Params    []Field
	Estimates []Field
}

// RecordName is the name of the scalar record a node of this type is
// written with. Entry names may not collide with it.
func RecordName(typeName string) string {
	return typeName + "__params_table"
}

// Param returns the named parameter declaration.
func (s *Schema) Param(name string) (Field, bool) {
	for _, f := range s.Params {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Estimate returns the named estimate declaration.
func (s *Schema) Estimate(name string) (Field, bool) {
	for _, f := range s.Estimates {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Field returns the declaration for name, whether parameter or estimate.
func (s *Schema) Field(name string) (Field, bool) {
	if f, ok := s.Param(name); ok {
		return f, true
	}
	return s.Estimate(name)
}

// ParamNames returns parameter names in declaration order.
func (s *Schema) ParamNames() []string {
	names := make([]string, len(s.Params))
	for i, f := range s.Params {
		names[i] = f.Name
	}
	return names
}

// Validate checks the naming rules:
//   - the type name is non-empty and not reserved
//   - parameter names never carry the estimate marker
//   - estimate names always carry it
//   - no name is private, duplicated or equal to the record name
//   - every kind is a concrete value kind
func (s *Schema) Validate() error {
	if s.Type == "" {
		return ir.Errorf(ir.ErrCodeConfiguration, "schema has no type name")
	}
	if s.Type == ListClass || strings.Contains(s.Type, "/") {
		return ir.Errorf(ir.ErrCodeConfiguration, "type name %q is reserved", s.Type)
	}

	seen := make(map[string]bool)
	check := func(f Field, estimate bool) error {
		switch {
		case f.Name == "":
			return ir.Errorf(ir.ErrCodeConfiguration, "%s declares an unnamed field", s.Type)
		case strings.HasPrefix(f.Name, privatePrefix):
			return ir.Errorf(ir.ErrCodeConfiguration, "%s declares private field %q", s.Type, f.Name).WithKey(f.Name)
		case f.Name == RecordName(s.Type):
			return ir.Errorf(ir.ErrCodeConfiguration, "%s field %q collides with the scalar record", s.Type, f.Name).WithKey(f.Name)
		case seen[f.Name]:
			return ir.Errorf(ir.ErrCodeConfiguration, "%s declares %q twice", s.Type, f.Name).WithKey(f.Name)
		case f.Kind == ir.KindNull:
			return ir.Errorf(ir.ErrCodeConfiguration, "%s field %q has no kind", s.Type, f.Name).WithKey(f.Name)
		}
		if _, ok := declarableKinds[f.Kind]; !ok {
			return ir.Errorf(ir.ErrCodeConfiguration, "%s field %q has unknown kind %s", s.Type, f.Name, f.Kind).WithKey(f.Name)
		}
		marked := strings.HasSuffix(f.Name, EstimateMarker)
		if estimate && !marked {
			return ir.Errorf(ir.ErrCodeConfiguration, "%s estimate %q must end in %q", s.Type, f.Name, EstimateMarker).WithKey(f.Name)
		}
		if !estimate && marked {
			return ir.Errorf(ir.ErrCodeConfiguration, "%s parameter %q must not end in %q", s.Type, f.Name, EstimateMarker).WithKey(f.Name)
		}
		seen[f.Name] = true
		return nil
	}

	for _, f := range s.Params {
		if err := check(f, false); err != nil {
			return err
		}
	}
	for _, f := range s.Estimates {
		if err := check(f, true); err != nil {
			return err
		}
	}
	return nil
}

var declarableKinds = map[ir.Kind]struct{}{
	ir.KindInt:       {},
	ir.KindReal:      {},
	ir.KindText:      {},
	ir.KindBool:      {},
	ir.KindArray:     {},
	ir.KindModel:     {},
	ir.KindModelList: {},
}
