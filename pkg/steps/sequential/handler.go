// Package sequential runs branch steps strictly one after another.
package sequential

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

var ErrNoBranches = errors.New("sequential step requires at least one branch")

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeSequential
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeSequential,
		Name:        "Sequential",
		Description: "Runs branches in order and stops at the first failure",
		FanOut:      true,
		Schema:      &models.JSONSchema{Type: "object"},
	}
}

// Execute aborts on the first failing branch; the remaining branches are never dispatched.
func (h *Handler) Execute(ctx context.Context, step *models.Step, run protocol.RunContext) (models.StepOutput, error) {
	if len(step.Branches) == 0 {
		return nil, ErrNoBranches
	}

	results := make([]models.SequentialEntry, 0, len(step.Branches))

	for _, branchID := range step.Branches {
		value, err := run.Dispatch(ctx, branchID)
		if err != nil {
			return nil, fmt.Errorf("sequential step %s aborted at %s: %w", step.ID, branchID, err)
		}

		results = append(results, models.SequentialEntry{StepID: branchID, Result: value})
	}

	return &models.SequentialOutput{
		Type:    models.OutputTypeSequentialExecution,
		Results: results,
	}, nil
}
