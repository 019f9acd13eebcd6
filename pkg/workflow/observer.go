package workflow

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// StepEvent describes a finished step visit.
type StepEvent struct {
	ExecutionID string
	WorkflowID  string
	StepID      string
	StepType    models.StepType
	Result      models.StepResult
}

// Observer is notified after every step result is recorded. Calls may come
// from concurrent parallel branches.
type Observer interface {
	StepFinished(ctx context.Context, event StepEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event StepEvent)

func (f ObserverFunc) StepFinished(ctx context.Context, event StepEvent) {
	f(ctx, event)
}
