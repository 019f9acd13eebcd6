// Package protocol defines the contracts between the orchestrator and step handlers.
package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// ErrSuspend is returned by a handler that cannot complete until an external
// decision arrives. The orchestrator parks the run in the waiting status.
var ErrSuspend = errors.New("step suspended pending external decision")

// StepHandler executes one step type.
type StepHandler interface {
	// Type returns the step type this handler serves
	Type() models.StepType

	// Execute runs the step and returns its typed output
	Execute(ctx context.Context, step *models.Step, run RunContext) (models.StepOutput, error)
}

// Describer is implemented by handlers that publish metadata about their step type.
type Describer interface {
	Describe() models.StepTypeInfo
}

// RunContext is the view of the current run a handler may use. Implementations
// are safe for concurrent use by parallel branches.
type RunContext interface {
	ExecutionID() string
	WorkflowID() string
	AutoApprove() bool
	Input() map[string]any
	Metadata() map[string]any

	// Outputs returns a snapshot of every completed step output keyed by step id
	Outputs() map[string]models.StepOutput

	// RecentOutputs returns up to n of the latest completed outputs, oldest first
	RecentOutputs(n int) []models.StepOutput

	// Dispatch visits a branch step and everything reachable from it, returning
	// the branch step's own output
	Dispatch(ctx context.Context, stepID string) (models.StepOutput, error)

	Logger() *slog.Logger
}
