// Package parallel fans out to branch steps concurrently.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

var ErrNoBranches = errors.New("parallel step requires at least one branch")

// Handler dispatches every branch before awaiting any of them and waits for
// all of them. A failing branch is reported as rejected in the output; it
// never fails the parallel step itself.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeParallel
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeParallel,
		Name:        "Parallel",
		Description: "Runs every branch concurrently and collects each outcome",
		FanOut:      true,
		Schema:      &models.JSONSchema{Type: "object"},
	}
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, run protocol.RunContext) (models.StepOutput, error) {
	if len(step.Branches) == 0 {
		return nil, ErrNoBranches
	}

	results := make([]models.BranchOutcome, len(step.Branches))

	var wg sync.WaitGroup

	for i, branchID := range step.Branches {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i] = dispatch(ctx, run, branchID)
		}()
	}

	wg.Wait()

	for _, result := range results {
		if result.Status == models.BranchRejected {
			run.Logger().WarnContext(ctx, "Parallel branch rejected",
				"step_id", step.ID,
				"branch_id", result.StepID,
				"error", result.Error)
		}
	}

	return &models.ParallelOutput{
		Type:    models.OutputTypeParallelExecution,
		Results: results,
	}, nil
}

func dispatch(ctx context.Context, run protocol.RunContext, branchID string) (outcome models.BranchOutcome) {
	outcome.StepID = branchID

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome.Status = models.BranchRejected
			outcome.Value = nil
			outcome.Error = fmt.Sprintf("branch panicked: %v", recovered)
		}
	}()

	value, err := run.Dispatch(ctx, branchID)
	if err != nil {
		outcome.Status = models.BranchRejected
		outcome.Error = err.Error()

		return outcome
	}

	outcome.Status = models.BranchFulfilled
	outcome.Value = value

	return outcome
}
