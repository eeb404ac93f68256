package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aphelia-health/aphelia/pkg/capture"
)

// ErrBackendNotRegistered is returned by [Registry.CreateCapture] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: capture backend not registered")

// Registry maps capture backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	capture map[string]func(BackendEntry) (capture.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture: make(map[string]func(BackendEntry) (capture.Provider, error)),
	}
}

// RegisterCapture registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(BackendEntry) (capture.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateCapture builds the backend selected by entry.Name.
func (r *Registry) CreateCapture(entry BackendEntry) (capture.Provider, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CaptureNames returns the registered backend names in sorted order.
func (r *Registry) CaptureNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capture))
	for name := range r.capture {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
