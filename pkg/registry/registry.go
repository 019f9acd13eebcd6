// Package registry maps step types to the handlers that execute them.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.StepType]protocol.StepHandler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[models.StepType]protocol.StepHandler),
	}
}

// Register adds a handler, replacing any handler previously registered for the same type.
func (r *Registry) Register(handler protocol.StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[handler.Type()]; exists {
		r.logger.Warn("Replacing step handler", slog.String("type", string(handler.Type())))
	}

	r.handlers[handler.Type()] = handler
}

func (r *Registry) Handler(stepType models.StepType) (protocol.StepHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("step type '%s' not registered", stepType)
	}

	return handler, nil
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.handlers))
	for stepType := range r.handlers {
		types = append(types, stepType)
	}

	slices.Sort(types)

	return types
}

// Describe returns public metadata for every registered step type.
func (r *Registry) Describe() []models.StepTypeInfo {
	infos := make([]models.StepTypeInfo, 0, len(r.handlers))

	for _, stepType := range r.Types() {
		handler, err := r.Handler(stepType)
		if err != nil {
			continue
		}

		info := models.StepTypeInfo{Type: stepType, Name: string(stepType)}
		if describer, ok := handler.(protocol.Describer); ok {
			info = describer.Describe()
		}

		infos = append(infos, info)
	}

	return infos
}

// HealthCheck reports whether any step handler is registered.
func (r *Registry) HealthCheck() (string, bool) {
	count := len(r.Types())
	if count == 0 {
		return "No step handlers registered", false
	}

	return fmt.Sprintf("%d step types registered", count), true
}
