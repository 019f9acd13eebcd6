package file

import (
	"context"
	"errors"
	"io/fs"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	p *Persistence
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	if err := er.p.write(executionsDir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) Transition(_ context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	current, err := er.get(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	if current.Status != from {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrStatusConflict)
	}

	if err := er.p.write(executionsDir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	return er.get(id)
}

func (er *ExecutionRepository) get(id string) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}
	if err := er.p.read(executionsDir, id, execution); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	ids, err := er.p.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		execution, err := er.get(id)
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	return persistence.NewestExecutions(executions, limit), nil
}
