package runner

import "sync"

// Variables is the execution context of one plan run. It is never shared
// between runs; the mutex only matters when independent steps run in
// parallel.
type Variables struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewVariables seeds a context with the caller's base variables
func NewVariables(base map[string]interface{}) *Variables {
	values := make(map[string]interface{}, len(base))
	for k, v := range base {
		values[k] = v
	}
	return &Variables{values: values}
}

// Get returns the value stored under name
func (v *Variables) Get(name string) (interface{}, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[name]
	return val, ok
}

// Merge writes every extracted value; the last writer for a name wins
func (v *Variables) Merge(values map[string]interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, val := range values {
		v.values[k] = val
	}
}

// Snapshot returns a copy of the current values
func (v *Variables) Snapshot() map[string]interface{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]interface{}, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}
