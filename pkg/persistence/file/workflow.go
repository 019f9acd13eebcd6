package file

import (
	"context"
	"errors"
	"io/fs"
	"slices"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	p *Persistence
}

func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	var existing models.WorkflowDefinition

	err := wr.p.read(workflowsDir, workflow.ID, &existing)
	if err == nil {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	if err := wr.p.write(workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) Update(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	var existing models.WorkflowDefinition
	if err := wr.p.read(workflowsDir, workflow.ID, &existing); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = persistence.ErrWorkflowNotFound
		}

		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if err := wr.p.write(workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	return wr.get(id)
}

func (wr *WorkflowRepository) get(id string) (*models.WorkflowDefinition, error) {
	workflow := &models.WorkflowDefinition{}
	if err := wr.p.read(workflowsDir, id, workflow); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// List loads every workflow file and pages in memory.
func (wr *WorkflowRepository) List(_ context.Context, query persistence.WorkflowQuery) (*persistence.WorkflowPage, error) {
	all, err := wr.all()
	if err != nil {
		return nil, err
	}

	return persistence.Paginate(all, query)
}

func (wr *WorkflowRepository) Active(_ context.Context) ([]*models.WorkflowDefinition, error) {
	all, err := wr.all()
	if err != nil {
		return nil, err
	}

	active := slices.DeleteFunc(all, func(workflow *models.WorkflowDefinition) bool {
		return !workflow.IsActive
	})
	persistence.SortNewestFirst(active)

	return active, nil
}

func (wr *WorkflowRepository) all() ([]*models.WorkflowDefinition, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	ids, err := wr.p.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.get(id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
