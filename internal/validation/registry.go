package validation

import (
	"sort"
	"sync"
)

// Registry maps procedure names to validators. It is populated at startup
// and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]*Validator
}

// NewRegistry creates a registry holding validators.
func NewRegistry(validators ...*Validator) (*Registry, error) {
	r := &Registry{validators: make(map[string]*Validator, len(validators))}
	for _, v := range validators {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds v. Registering a name twice is a configuration error.
func (r *Registry) Register(v *Validator) error {
	if v == nil {
		return configErrorf("", ErrInvalidValidator, "nil validator")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[v.procedure]; exists {
		return configErrorf(v.procedure, ErrInvalidValidator, "procedure already registered")
	}
	r.validators[v.procedure] = v
	return nil
}

// Lookup returns the validator for procedure.
func (r *Registry) Lookup(procedure string) (*Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[procedure]
	if !ok {
		return nil, &ConfigError{Procedure: procedure, Err: ErrUnknownProcedure}
	}
	return v, nil
}

// Names returns the registered procedure names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
