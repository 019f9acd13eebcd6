// Package workflow drives workflow executions through their step graphs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/steps/approval"
)

// Orchestrator walks a workflow's step graph depth-first from its first step,
// visiting every step at most once per run and failing fast on the first
// handler error.
type Orchestrator struct {
	registry   *registry.Registry
	logger     *slog.Logger
	tracer     trace.Tracer
	executions persistence.ExecutionRepository
	observers  []Observer
	now        func() time.Time
}

type Option func(*Orchestrator)

// WithExecutionRepository saves the execution whenever the run starts,
// suspends or finishes.
func WithExecutionRepository(executions persistence.ExecutionRepository) Option {
	return func(o *Orchestrator) {
		o.executions = executions
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, observer)
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(registry *registry.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		logger:   logger.With("module", "orchestrator"),
		tracer:   otelhelper.NoopTracer(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	clock := o.now
	o.now = func() time.Time { return clock().UTC() }

	return o
}

// Run executes a pending execution. Step failures are recorded on the
// execution, never returned: the error is reserved for invalid invocations
// and repository failures.
func (o *Orchestrator) Run(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) (*models.WorkflowExecution, error) {
	if workflow == nil || exec == nil {
		return nil, fmt.Errorf("%w: workflow and execution are required", ErrInvalidExecution)
	}

	if exec.Status.IsTerminal() || exec.Status == models.ExecutionStatusWaiting {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrInvalidExecution, exec.ID, exec.Status)
	}

	if exec.StepResults == nil {
		exec.StepResults = make(map[string]*models.StepResult)
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
	)
	defer span.End()

	exec.AutoApprove = autoApprove
	exec.Status = models.ExecutionStatusRunning

	r := newRun(o, workflow, exec)
	r.logger.InfoContext(ctx, "Starting workflow execution", "auto_approve", autoApprove)

	if err := o.save(ctx, exec); err != nil {
		return exec, err
	}

	entry := workflow.EntryStep()
	if entry == nil {
		o.fail(exec, workflow, models.RunLevelStepID, models.ErrorCodeExecution, "workflow has no steps")
		r.logger.WarnContext(ctx, "Workflow has no steps")

		return exec, o.save(ctx, exec)
	}

	return o.drive(ctx, span, r, []string{entry.ID})
}

// Resume resolves the approval gate a waiting execution is parked on. An
// approval continues the walk with the gate's successors ahead of the saved
// continuation; a rejection fails the run.
func (o *Orchestrator) Resume(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, decision models.ApprovalDecision) (*models.WorkflowExecution, error) {
	if workflow == nil || exec == nil {
		return nil, fmt.Errorf("%w: workflow and execution are required", ErrInvalidExecution)
	}

	if exec.Status != models.ExecutionStatusWaiting || exec.WaitingStep == "" {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrNotWaiting, exec.ID, exec.Status)
	}

	if exec.StepResults == nil {
		exec.StepResults = make(map[string]*models.StepResult)
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.resume",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
		attribute.String(otelhelper.StepIDKey, exec.WaitingStep),
	)
	defer span.End()

	r := newRun(o, workflow, exec)
	r.restore()

	gate := exec.WaitingStep
	started := o.now()

	if exec.WaitingSince != nil {
		started = *exec.WaitingSince
	}

	result := &models.StepResult{
		Status:      models.StepStatusCompleted,
		Output:      approval.Decide(decision),
		StartedAt:   started,
		CompletedAt: o.now(),
	}

	if !decision.Approved {
		result.Status = models.StepStatusFailed
		result.Error = rejectionMessage(gate, decision)
	}

	r.record(gate, result)

	pending := exec.PendingSteps
	exec.PendingSteps = nil
	exec.WaitingStep = ""
	exec.WaitingSince = nil
	exec.CurrentStep = gate
	exec.Status = models.ExecutionStatusRunning

	if !decision.Approved {
		o.fail(exec, workflow, gate, models.ErrorCodeApprovalRejected, result.Error)
	}

	// Only one decision may leave the waiting state; the loser sees ErrNotWaiting.
	if err := o.claim(ctx, exec); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "Approval decision received",
		"step_id", gate,
		"approved", decision.Approved,
		"approver", decision.Approver)

	r.notify(ctx, gate, models.StepTypeHumanApproval, result)

	if !decision.Approved {
		otelhelper.SetExecutionError(span, exec.Error)

		return exec, nil
	}

	stack := append([]string(nil), pending...)
	stack = pushSuccessors(stack, r.successors(gate))

	return o.drive(ctx, span, r, stack)
}

// drive walks from the given stack and settles the execution into waiting,
// failed or completed.
func (o *Orchestrator) drive(ctx context.Context, span trace.Span, r *run, stack []string) (*models.WorkflowExecution, error) {
	exec := r.exec

	suspendedAt, pending, err := r.walk(ctx, stack, false)

	switch {
	case err != nil:
		stepID := models.RunLevelStepID

		var stepErr *StepError
		if errors.As(err, &stepErr) {
			stepID = stepErr.StepID
		}

		o.fail(exec, r.workflow, stepID, models.ErrorCodeExecution, err.Error())
		otelhelper.SetExecutionError(span, exec.Error)
		r.logger.ErrorContext(ctx, "Workflow execution failed", "step_id", stepID, "error", err)
	case suspendedAt != "":
		waitingSince := o.now()

		exec.Status = models.ExecutionStatusWaiting
		exec.CurrentStep = suspendedAt
		exec.WaitingStep = suspendedAt
		exec.WaitingSince = &waitingSince
		exec.PendingSteps = append([]string{}, pending...)

		r.logger.InfoContext(ctx, "Workflow execution waiting for approval", "step_id", suspendedAt)
	default:
		completedAt := o.now()

		exec.Status = models.ExecutionStatusCompleted
		exec.CurrentStep = ""
		exec.CompletedAt = &completedAt

		r.logger.InfoContext(ctx, "Workflow execution completed", "steps_completed", exec.CompletedSteps())
	}

	return exec, o.save(ctx, exec)
}

func (o *Orchestrator) fail(exec *models.WorkflowExecution, workflow *models.WorkflowDefinition, stepID, code, message string) {
	completedAt := o.now()

	exec.Status = models.ExecutionStatusFailed
	exec.CompletedAt = &completedAt
	exec.Error = &models.ExecutionError{
		StepID:  stepID,
		Code:    code,
		Message: message,
		Details: map[string]any{"workflowId": workflow.ID},
	}
}

func (o *Orchestrator) save(ctx context.Context, exec *models.WorkflowExecution) error {
	if o.executions == nil {
		return nil
	}

	// A cancelled run still records how far it got.
	if err := o.executions.Save(context.WithoutCancel(ctx), exec); err != nil {
		o.logger.ErrorContext(ctx, "Failed to save execution", "execution_id", exec.ID, "error", err)

		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	return nil
}

// claim moves a waiting execution out of waiting in storage. Without a
// repository there is nothing to race against.
func (o *Orchestrator) claim(ctx context.Context, exec *models.WorkflowExecution) error {
	if o.executions == nil {
		return nil
	}

	err := o.executions.Transition(context.WithoutCancel(ctx), exec, models.ExecutionStatusWaiting)
	if persistence.IsStatusConflict(err) {
		return fmt.Errorf("%w: execution %s was already resumed", ErrNotWaiting, exec.ID)
	}

	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to claim execution", "execution_id", exec.ID, "error", err)

		return fmt.Errorf("failed to claim execution %s: %w", exec.ID, err)
	}

	return nil
}

func rejectionMessage(stepID string, decision models.ApprovalDecision) string {
	message := "approval rejected at step " + stepID

	if decision.Approver != "" {
		message += " by " + decision.Approver
	}

	if decision.Comment != "" {
		message += ": " + decision.Comment
	}

	return message
}
