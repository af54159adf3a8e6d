// Package transform holds the named value transforms applied to extracted
// legacy field values before they are placed on a FHIR path.
package transform

import (
	"fmt"
	"sort"
	"sync"
)

// Step is one entry of a field rule's transform chain.
type Step struct {
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Func transforms a nullable value. A nil value means "no value"; transforms
// must accept it and must not mutate params.
type Func func(value *string, params map[string]string) (*string, error)

// Registry maps transform names to implementations. It is safe for
// concurrent use; registrations are expected at startup only.
//
// By default a second Register call for the same name replaces the earlier
// function (last registration wins). WithStrict turns that into a
// DuplicateTransformError.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	strict bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrict rejects re-registration of an existing name.
func WithStrict() Option {
	return func(r *Registry) { r.strict = true }
}

// NewRegistry returns a registry pre-populated with the built-in transforms.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for name, fn := range builtins() {
		r.funcs[name] = fn
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a transform.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("transform name is required")
	}
	if fn == nil {
		return fmt.Errorf("transform %s: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists && r.strict {
		return &DuplicateTransformError{Name: name}
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered transform names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports the first step in chain that names an unregistered
// transform.
func (r *Registry) Validate(chain []Step) error {
	for _, step := range chain {
		if _, ok := r.Lookup(step.Name); !ok {
			return &UnknownTransformError{Name: step.Name}
		}
	}
	return nil
}

// Apply runs chain left to right, feeding each step the previous output.
// The first failing step aborts the chain.
func (r *Registry) Apply(value *string, chain []Step) (*string, error) {
	current := value
	for _, step := range chain {
		fn, ok := r.Lookup(step.Name)
		if !ok {
			return nil, &UnknownTransformError{Name: step.Name}
		}
		out, err := fn(current, step.Params)
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

// Names returns the names of the steps in chain, in order.
func Names(chain []Step) []string {
	names := make([]string, len(chain))
	for i, step := range chain {
		names[i] = step.Name
	}
	return names
}
