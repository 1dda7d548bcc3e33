// Package registry manages connector registration and instantiation.
// There is deliberately no package-level registry: hosts construct their
// own so that embedding applications never contend on shared state.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/config"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/connector/core"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// SourceFactory creates a configured source connector instance.
type SourceFactory func(cfg *config.RuntimeConfig) (core.Source, error)

// Registry maps connector names to factories.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sources: make(map[string]SourceFactory),
		logger:  log.With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source connector factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "source connector %q already registered", name)
	}

	r.sources[name] = factory
	r.logger.Info("source connector registered", zap.String("name", name))
	return nil
}

// CreateSource instantiates the named source connector.
func (r *Registry) CreateSource(name string, cfg *config.RuntimeConfig) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "source connector %q not found", name)
	}

	source, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "creating source connector %q", name)
	}
	return source, nil
}

// ListSources returns registered source names, sorted.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a source is registered under name.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[name]
	return ok
}
