// Package memory provides an in-process persistence implementation.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence keeps deep copies of every record in process memory.
type Persistence struct {
	mu         sync.RWMutex
	workflows  map[string]*models.WorkflowDefinition
	executions map[string]*models.WorkflowExecution
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.WorkflowDefinition),
		executions: make(map[string]*models.WorkflowExecution),
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository   { return &workflowRepository{p} }
func (p *Persistence) Executions() persistence.ExecutionRepository { return &executionRepository{p} }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) Create(_ context.Context, workflow *models.WorkflowDefinition) error {
	stored, err := persistence.Clone(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.workflows[workflow.ID]; exists {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	r.p.workflows[workflow.ID] = stored

	return nil
}

func (r *workflowRepository) Update(_ context.Context, workflow *models.WorkflowDefinition) error {
	stored, err := persistence.Clone(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.workflows[workflow.ID]; !exists {
		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	r.p.workflows[workflow.ID] = stored

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	stored, exists := r.p.workflows[id]
	r.p.mu.RUnlock()

	if !exists {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return persistence.Clone(stored)
}

func (r *workflowRepository) List(_ context.Context, query persistence.WorkflowQuery) (*persistence.WorkflowPage, error) {
	all, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	return persistence.Paginate(all, query)
}

func (r *workflowRepository) Active(_ context.Context) ([]*models.WorkflowDefinition, error) {
	all, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	active := slices.DeleteFunc(all, func(workflow *models.WorkflowDefinition) bool {
		return !workflow.IsActive
	})
	persistence.SortNewestFirst(active)

	return active, nil
}

func (r *workflowRepository) snapshot() ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	all := make([]*models.WorkflowDefinition, 0, len(r.p.workflows))

	for _, stored := range r.p.workflows {
		copied, err := persistence.Clone(stored)
		if err != nil {
			return nil, err
		}

		all = append(all, copied)
	}

	return all, nil
}

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	stored, err := persistence.Clone(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.executions[execution.ID] = stored

	return nil
}

func (r *executionRepository) Transition(_ context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	stored, err := persistence.Clone(execution)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	current, exists := r.p.executions[execution.ID]
	if !exists {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrExecutionNotFound)
	}

	if current.Status != from {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrStatusConflict)
	}

	r.p.executions[execution.ID] = stored

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	stored, exists := r.p.executions[id]
	r.p.mu.RUnlock()

	if !exists {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return persistence.Clone(stored)
}

func (r *executionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	for _, stored := range r.p.executions {
		if stored.WorkflowID != workflowID {
			continue
		}

		copied, err := persistence.Clone(stored)
		if err != nil {
			return nil, err
		}

		executions = append(executions, copied)
	}

	return persistence.NewestExecutions(executions, limit), nil
}
