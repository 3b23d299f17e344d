package stage

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownStage is returned when no implementation is registered for a
// (capability, backend) pair.
var ErrUnknownStage = errors.New("unknown stage")

// Factory builds a Stage bound to the given spec params. Factories run once,
// at pipeline load time, so misconfiguration fails fast.
type Factory func(params map[string]any) (Stage, error)

type registryKey struct {
	capability string
	backend    string
}

// Registry maps (capability, backend) pairs to stage factories. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[registryKey]Factory)}
}

// Register adds a factory for the pair. Registering the same pair twice
// panics: duplicate registrations are always a wiring bug.
func (r *Registry) Register(capability, backend string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{capability, backend}
	if _, dup := r.factories[k]; dup {
		panic(fmt.Sprintf("stage %s/%s registered twice", capability, backend))
	}
	r.factories[k] = f
}

// Resolve builds the stage registered for the pair, bound to params.
func (r *Registry) Resolve(capability, backend string, params map[string]any) (Stage, error) {
	r.mu.RLock()
	f, ok := r.factories[registryKey{capability, backend}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownStage, capability, backend)
	}
	st, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("configure stage %s/%s: %w", capability, backend, err)
	}
	return st, nil
}

// Params is a helper for reading typed values out of spec params.
type Params map[string]any

func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
