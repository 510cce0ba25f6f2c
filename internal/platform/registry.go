package platform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/alichu45/socialbot/internal/models"
)

// Registry holds one adapter per platform.
type Registry struct {
	adapters map[models.Platform]Adapter
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		adapters: make(map[models.Platform]Adapter),
		logger:   logger,
	}
}

func (r *Registry) Register(adapter Adapter) error {
	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter for platform %s already registered", name)
	}

	r.adapters[name] = adapter
	r.logger.Info("Adapter registered", zap.String("platform", name.String()))
	return nil
}

func (r *Registry) Get(name models.Platform) (Adapter, error) {
	adapter, exists := r.adapters[name]
	if !exists {
		return nil, fmt.Errorf("adapter for platform %s not found", name)
	}
	return adapter, nil
}

func (r *Registry) Platforms() []models.Platform {
	var names []models.Platform
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
