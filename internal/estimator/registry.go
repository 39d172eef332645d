package estimator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Factory builds an empty estimator from a complete parameter set.
// Every declared parameter is present; absent ones are ir.Null{}.
type Factory func(params ir.Object) (Estimator, error)

type entry struct {
	schema  Schema
	factory Factory
}

// Registry maps type names to schemas and factories.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu    sync.RWMutex
	types map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]entry)}
}

// Default is the registry estimator packages register into at init.
var Default = NewRegistry()

// Register validates schema and records factory under schema.Type.
// A malformed schema or a taken name is a configuration error.
func (r *Registry) Register(schema Schema, factory Factory) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return ir.Errorf(ir.ErrCodeConfiguration, "%s registered without a factory", schema.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[schema.Type]; exists {
		return ir.Errorf(ir.ErrCodeConfiguration, "estimator type %q already registered", schema.Type)
	}
	schema.Params = append([]Field(nil), schema.Params...)
	schema.Estimates = append([]Field(nil), schema.Estimates...)
	r.types[schema.Type] = entry{schema: schema, factory: factory}
	return nil
}

// MustRegister is Register that panics. For use from init functions.
func (r *Registry) MustRegister(schema Schema, factory Factory) {
	if err := r.Register(schema, factory); err != nil {
		panic(fmt.Sprintf("estimator: failed to register %s: %v", schema.Type, err))
	}
}

// Lookup returns the schema registered under typeName.
func (r *Registry) Lookup(typeName string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.types[typeName]
	if !ok {
		return nil, false
	}
	s := e.schema
	return &s, true
}

// Types returns registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs an empty estimator of type typeName.
//
// Unknown parameter names are a configuration error. Parameters missing
// from params are passed to the factory as ir.Null{}.
func (r *Registry) New(typeName string, params ir.Object) (Estimator, error) {
	r.mu.RLock()
	e, ok := r.types[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "unknown estimator type %q", typeName)
	}

	full := make(ir.Object, len(e.schema.Params))
	for _, p := range e.schema.Params {
		full[p.Name] = ir.Null{}
	}
	for _, k := range params.SortedKeys() {
		if _, ok := e.schema.Param(k); !ok {
			return nil, ir.Errorf(ir.ErrCodeConfiguration, "%s has no parameter %q", typeName, k).WithKey(k)
		}
		if params[k] != nil {
			full[k] = params[k]
		}
	}

	est, err := e.factory(full)
	if err != nil {
		return nil, err
	}
	if est.TypeName() != typeName {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "factory for %s built a %s", typeName, est.TypeName())
	}
	return est, nil
}

// Register records a type in the Default registry.
func Register(schema Schema, factory Factory) error {
	return Default.Register(schema, factory)
}

// MustRegister records a type in the Default registry and panics on error.
func MustRegister(schema Schema, factory Factory) {
	Default.MustRegister(schema, factory)
}

// Lookup finds a schema in the Default registry.
func Lookup(typeName string) (*Schema, bool) {
	return Default.Lookup(typeName)
}

// New constructs an estimator from the Default registry.
func New(typeName string, params ir.Object) (Estimator, error) {
	return Default.New(typeName, params)
}
