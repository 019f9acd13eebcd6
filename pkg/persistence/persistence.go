// Package persistence provides the storage abstraction for workflow definitions and executions.
package persistence

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. Definitions are never hard-deleted.
type WorkflowRepository interface {
	// Create stores a new definition, failing with ErrWorkflowAlreadyExists on id collisions
	Create(ctx context.Context, workflow *models.WorkflowDefinition) error

	// Update replaces a stored definition, failing with ErrWorkflowNotFound
	Update(ctx context.Context, workflow *models.WorkflowDefinition) error

	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)

	// List returns one page of an owner's workflows, newest first
	List(ctx context.Context, query WorkflowQuery) (*WorkflowPage, error)

	// Active returns every active workflow across owners
	Active(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// ExecutionRepository stores execution records.
type ExecutionRepository interface {
	// Save inserts or replaces the execution record
	Save(ctx context.Context, execution *models.WorkflowExecution) error

	// Transition replaces the record only while the stored status is from,
	// failing with ErrStatusConflict otherwise
	Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error

	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// ListByWorkflow returns up to limit executions of a workflow, newest first
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
}
