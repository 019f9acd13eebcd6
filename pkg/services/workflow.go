package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

type Workflow struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Owner string

	// Filtering
	Active *bool
	Search string

	// Pagination
	Cursor string
	Limit  int
}

// List returns one page of the owner's workflows, newest first.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*persistence.WorkflowPage, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, ErrEmptyOwnerID
	}

	page, err := w.persistence.Workflows().List(ctx, persistence.WorkflowQuery{
		Owner:  owner,
		Active: req.Active,
		Search: strings.TrimSpace(req.Search),
		Cursor: req.Cursor,
		Limit:  req.Limit,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidCursor) {
			return nil, NewValidationError("List", "INVALID_CURSOR", "invalid pagination cursor", err)
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return page, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	workflow, err := w.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// FetchOwned retrieves a workflow the caller owns.
func (w *Workflow) FetchOwned(ctx context.Context, caller, id string) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !workflow.IsOwnedBy(caller) {
		return nil, ErrNotOwner
	}

	return workflow, nil
}

// Create validates and stores a new workflow definition. The id is generated
// unless the definition carries one.
func (w *Workflow) Create(ctx context.Context, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if workflow == nil {
		return nil, &ValidationError{Errors: models.ValidateDefinition(nil)}
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	fieldErrors := models.ValidateDefinition(workflow)
	if err := persistence.ValidateID(workflow.ID); err != nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "id", Message: err.Error()})
	}

	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Errors: fieldErrors}
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.Triggers == nil {
		workflow.Triggers = []*models.Trigger{}
	}

	err := w.persistence.Workflows().Create(ctx, workflow)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowAlreadyExists) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", workflow.ID,
		"owner", workflow.Owner,
		"steps", len(workflow.Steps))

	return workflow, nil
}

// SetActive toggles the active flag, the only mutable part of a stored
// definition. Only the owner may change it.
func (w *Workflow) SetActive(ctx context.Context, caller, id string, active bool) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchOwned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if workflow.IsActive == active {
		return workflow, nil
	}

	workflow.IsActive = active
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.Workflows().Update(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow activation changed", "workflow_id", id, "is_active", active)

	return workflow, nil
}
