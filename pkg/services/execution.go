package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/stream"
)

// Orchestrator runs and resumes executions.
type Orchestrator interface {
	Run(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) (*models.WorkflowExecution, error)
	Resume(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, decision models.ApprovalDecision) (*models.WorkflowExecution, error)
}

// ExecuteRequest is an on-demand run request.
type ExecuteRequest struct {
	Input       map[string]any
	AutoApprove bool
	Metadata    map[string]any
}

// ExecuteResponse is the terminal (or waiting) execution of a synchronous run.
type ExecuteResponse struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Summary   models.ExecutionSummary   `json:"summary"`
}

type Execution struct {
	persistence  persistence.Persistence
	orchestrator Orchestrator
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
}

type ExecutionOption func(*Execution)

// WithEventPublisher publishes execution lifecycle events for every run.
func WithEventPublisher(publisher eventbus.EventPublisher) ExecutionOption {
	return func(e *Execution) {
		e.publisher = publisher
	}
}

// NewExecution creates the execution service. The orchestrator is expected
// to save executions into the same persistence.
func NewExecution(persistence persistence.Persistence, orchestrator Orchestrator, logger *slog.Logger, opts ...ExecutionOption) *Execution {
	e := &Execution{
		persistence:  persistence,
		orchestrator: orchestrator,
		logger:       logger.With("module", "execution_service"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute checks the run boundary and runs the workflow synchronously.
func (e *Execution) Execute(ctx context.Context, caller, workflowID string, req ExecuteRequest) (*ExecuteResponse, error) {
	workflow, exec, err := e.prepare(ctx, caller, workflowID, req)
	if err != nil {
		return nil, err
	}

	e.publishStarted(ctx, exec, string(models.TriggerTypeManual), "")

	result, err := e.orchestrator.Run(ctx, workflow, exec, req.AutoApprove)
	if err != nil {
		return nil, fmt.Errorf("failed to run workflow %s: %w", workflowID, err)
	}

	e.publishOutcome(ctx, result)

	return &ExecuteResponse{Execution: result, Summary: models.Summarize(workflow, result)}, nil
}

// ExecuteStream checks the run boundary and returns the run's event stream.
// Boundary failures are returned before any event is emitted.
func (e *Execution) ExecuteStream(ctx context.Context, caller, workflowID string, req ExecuteRequest) (<-chan stream.Event, error) {
	workflow, exec, err := e.prepare(ctx, caller, workflowID, req)
	if err != nil {
		return nil, err
	}

	e.publishStarted(ctx, exec, string(models.TriggerTypeManual), "")

	adapter := stream.NewAdapter(e.orchestrator, e.logger, stream.WithHook(func(ctx context.Context, exec *models.WorkflowExecution) error {
		e.publishOutcome(ctx, exec)

		return nil
	}))

	return adapter.Run(ctx, workflow, exec, req.AutoApprove), nil
}

// RunAsOwner starts a run on behalf of a trigger. It skips the manual-run
// gate but still requires an active workflow and valid input.
func (e *Execution) RunAsOwner(ctx context.Context, workflow *models.WorkflowDefinition, trigger *models.Trigger, input map[string]any) (*models.WorkflowExecution, error) {
	if !workflow.IsActive {
		return nil, ErrWorkflowInactive
	}

	if input == nil {
		input = map[string]any{}
	}

	if err := ValidateInput(workflow.InputSchema, input); err != nil {
		return nil, err
	}

	exec := models.NewExecution(uuid.New().String(), workflow, workflow.Owner)
	exec.Input = input
	exec.Metadata["trigger_id"] = trigger.ID
	exec.Metadata["trigger_type"] = string(trigger.Type)

	e.publishStarted(ctx, exec, string(trigger.Type), trigger.ID)

	result, err := e.orchestrator.Run(ctx, workflow, exec, false)
	if err != nil {
		return nil, fmt.Errorf("failed to run workflow %s: %w", workflow.ID, err)
	}

	e.publishOutcome(ctx, result)

	return result, nil
}

// Resume applies an approval decision to a waiting execution of the caller.
func (e *Execution) Resume(ctx context.Context, caller, executionID string, decision models.ApprovalDecision) (*ExecuteResponse, error) {
	exec, err := e.Get(ctx, caller, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Status != models.ExecutionStatusWaiting {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrNotWaiting, exec.ID, exec.Status)
	}

	workflow, err := e.persistence.Workflows().GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}

	gate := exec.WaitingStep
	pause := time.Duration(0)

	if exec.WaitingSince != nil {
		pause = time.Since(*exec.WaitingSince)
	}

	result, err := e.orchestrator.Resume(ctx, workflow, exec, decision)
	if err != nil {
		return nil, fmt.Errorf("failed to resume execution %s: %w", executionID, err)
	}

	resumed := events.ExecutionResumed{
		BaseEvent:       events.NewBaseEvent(events.ExecutionResumedEvent, exec.WorkflowID, exec.ID),
		StepID:          gate,
		Approved:        decision.Approved,
		Approver:        decision.Approver,
		PauseDurationMs: pause.Milliseconds(),
	}
	e.publish(ctx, exec.WorkflowID, resumed)
	e.publishOutcome(ctx, result)

	return &ExecuteResponse{Execution: result, Summary: models.Summarize(workflow, result)}, nil
}

// Get returns an execution of the caller.
func (e *Execution) Get(ctx context.Context, caller, executionID string) (*models.WorkflowExecution, error) {
	exec, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Owner != caller {
		return nil, ErrNotOwner
	}

	return exec, nil
}

// ListByWorkflow returns up to limit executions of a workflow the caller owns.
func (e *Execution) ListByWorkflow(ctx context.Context, caller, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	workflow, err := e.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsOwnedBy(caller) {
		return nil, ErrNotOwner
	}

	return e.persistence.Executions().ListByWorkflow(ctx, workflowID, limit)
}

// prepare runs every boundary check and builds the pending execution. No
// execution exists when a check fails.
func (e *Execution) prepare(ctx context.Context, caller, workflowID string, req ExecuteRequest) (*models.WorkflowDefinition, *models.WorkflowExecution, error) {
	workflow, err := e.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case !workflow.IsOwnedBy(caller):
		return nil, nil, ErrNotOwner
	case !workflow.IsActive:
		return nil, nil, ErrWorkflowInactive
	case !workflow.AllowsManualRun():
		return nil, nil, ErrManualRunNotAllowed
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	if err := ValidateInput(workflow.InputSchema, input); err != nil {
		return nil, nil, err
	}

	exec := models.NewExecution(uuid.New().String(), workflow, caller)
	exec.Input = input

	for key, value := range req.Metadata {
		exec.Metadata[key] = value
	}

	e.logger.InfoContext(ctx, "Execution accepted",
		"workflow_id", workflow.ID,
		"execution_id", exec.ID,
		"auto_approve", req.AutoApprove)

	return workflow, exec, nil
}

// ValidateInput checks run input against a workflow's JSON schema. A nil
// schema accepts any input.
func ValidateInput(schema map[string]any, input map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return &ValidationError{
			Errors: []models.FieldError{{Field: "input_schema", Message: err.Error()}},
			Err:    ErrInvalidInput,
		}
	}

	if result.Valid() {
		return nil
	}

	fieldErrors := make([]models.FieldError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field:   "input." + desc.Field(),
			Message: desc.Description(),
		})
	}

	return &ValidationError{Errors: fieldErrors, Err: ErrInvalidInput}
}
