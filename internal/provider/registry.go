package provider

import (
	"fmt"
	"sync"

	"github.com/heatstack-io/heatstack/pkg/provider"
	"github.com/heatstack-io/heatstack/providers/aws"
	"github.com/heatstack-io/heatstack/providers/docker"
	"github.com/heatstack-io/heatstack/providers/null"
)

// Registry manages the lifecycle of built-in providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
	}
}

// LoadProvider initializes and registers a built-in provider.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p provider.Provider
	switch name {
	case "null":
		p = null.New()
	case "docker":
		p = docker.New()
	case "aws":
		p = aws.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
