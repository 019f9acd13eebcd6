package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/protocol"
)

// run is the state of one orchestrator invocation. It is the RunContext seen
// by handlers and guards the execution record against parallel branches.
type run struct {
	o        *Orchestrator
	workflow *models.WorkflowDefinition
	exec     *models.WorkflowExecution
	logger   *slog.Logger

	mu      sync.Mutex
	visited map[string]bool
	settled map[string]chan struct{}
	order   []string
}

func newRun(o *Orchestrator, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution) *run {
	return &run{
		o:        o,
		workflow: workflow,
		exec:     exec,
		logger:   o.logger.With("workflow_id", workflow.ID, "execution_id", exec.ID),
		visited:  make(map[string]bool),
		settled:  make(map[string]chan struct{}),
	}
}

// restore rebuilds the visited set and completion order of a suspended run.
func (r *run) restore() {
	for id := range r.exec.StepResults {
		r.visited[id] = true
	}

	if r.exec.WaitingStep != "" {
		r.visited[r.exec.WaitingStep] = true
	}

	completed := make([]string, 0, len(r.exec.StepResults))

	for id, result := range r.exec.StepResults {
		if result != nil && result.Status == models.StepStatusCompleted {
			completed = append(completed, id)
		}
	}

	slices.SortFunc(completed, func(a, b string) int {
		if c := r.exec.StepResults[a].CompletedAt.Compare(r.exec.StepResults[b].CompletedAt); c != 0 {
			return c
		}

		return strings.Compare(a, b)
	})

	r.order = completed
}

func (r *run) ExecutionID() string      { return r.exec.ID }
func (r *run) WorkflowID() string       { return r.workflow.ID }
func (r *run) AutoApprove() bool        { return r.exec.AutoApprove }
func (r *run) Input() map[string]any    { return r.exec.Input }
func (r *run) Metadata() map[string]any { return r.exec.Metadata }
func (r *run) Logger() *slog.Logger     { return r.logger }

func (r *run) Outputs() map[string]models.StepOutput {
	r.mu.Lock()
	defer r.mu.Unlock()

	outputs := make(map[string]models.StepOutput, len(r.order))
	for _, id := range r.order {
		outputs[id] = r.exec.StepResults[id].Output
	}

	return outputs
}

func (r *run) RecentOutputs(n int) []models.StepOutput {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := max(len(r.order)-n, 0)
	outputs := make([]models.StepOutput, 0, len(r.order)-start)

	for _, id := range r.order[start:] {
		outputs = append(outputs, r.exec.StepResults[id].Output)
	}

	return outputs
}

// Dispatch visits a branch and then everything reachable from it, depth-first.
// A branch that was already visited is not run again; its recorded output is
// returned instead.
func (r *run) Dispatch(ctx context.Context, stepID string) (models.StepOutput, error) {
	output, ran, err := r.visit(ctx, stepID, true)
	if err != nil {
		return nil, err
	}

	if !ran {
		return r.recorded(ctx, stepID)
	}

	if _, _, err := r.walk(ctx, pushSuccessors(nil, r.successors(stepID)), true); err != nil {
		return nil, err
	}

	return output, nil
}

// recorded returns the result of a step visited elsewhere, waiting for it
// when another branch is still running the step.
func (r *run) recorded(ctx context.Context, stepID string) (models.StepOutput, error) {
	r.mu.Lock()
	settled := r.settled[stepID]
	r.mu.Unlock()

	if settled != nil {
		select {
		case <-settled:
		case <-ctx.Done():
			return nil, &StepError{StepID: stepID, Err: ctx.Err()}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result, ok := r.exec.StepResults[stepID]
	if !ok {
		return nil, &StepError{StepID: stepID, Err: ErrStepNotRecorded}
	}

	if result.Status == models.StepStatusFailed {
		return nil, &StepError{StepID: stepID, Err: errors.New(result.Error)}
	}

	return result.Output, nil
}

// walk pops step ids off the stack until it is empty. At the top level an
// approval gate stops the walk and the remaining stack is returned as the
// continuation.
func (r *run) walk(ctx context.Context, stack []string, inFanOut bool) (string, []string, error) {
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		_, ran, err := r.visit(ctx, id, inFanOut)
		if errors.Is(err, protocol.ErrSuspend) {
			return id, stack, nil
		}

		if err != nil {
			return "", nil, err
		}

		if ran {
			stack = pushSuccessors(stack, r.successors(id))
		}
	}

	return "", nil, nil
}

func (r *run) successors(stepID string) []string {
	step, ok := r.workflow.StepByID(stepID)
	if !ok {
		return nil
	}

	return step.Successors
}

// pushSuccessors pushes in reverse so the first successor is visited first.
func pushSuccessors(stack []string, successors []string) []string {
	for i := len(successors) - 1; i >= 0; i-- {
		stack = append(stack, successors[i])
	}

	return stack
}

// visit runs one step at most once per run. ran is false when the step had
// already been visited. A suspension at the top level is returned as
// protocol.ErrSuspend without recording a result.
func (r *run) visit(ctx context.Context, stepID string, inFanOut bool) (models.StepOutput, bool, error) {
	r.mu.Lock()
	if r.visited[stepID] {
		r.mu.Unlock()

		return nil, false, nil
	}

	settled := make(chan struct{})
	r.visited[stepID] = true
	r.settled[stepID] = settled
	r.exec.CurrentStep = stepID
	r.mu.Unlock()

	defer close(settled)

	started := r.o.now()

	step, ok := r.workflow.StepByID(stepID)
	if !ok {
		err := &StepError{StepID: stepID, Err: ErrStepNotFound}
		r.finish(ctx, stepID, "", &models.StepResult{
			Status:      models.StepStatusFailed,
			Error:       err.Error(),
			StartedAt:   started,
			CompletedAt: r.o.now(),
		})

		return nil, true, err
	}

	ctx, span := otelhelper.StartSpan(ctx, r.o.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, r.workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, r.exec.ID),
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	logger := r.logger.With("step_id", stepID, "step_type", step.Type)
	logger.DebugContext(ctx, "Executing step")

	output, err := r.execute(ctx, step)
	if errors.Is(err, protocol.ErrSuspend) {
		if !inFanOut {
			span.AddEvent("suspended")
			logger.InfoContext(ctx, "Step suspended, waiting for approval")

			return nil, true, protocol.ErrSuspend
		}

		err = ErrSuspendInFanOut
	}

	result := &models.StepResult{StartedAt: started, CompletedAt: r.o.now()}

	if err != nil {
		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Step failed", "error", err)

		result.Status = models.StepStatusFailed
		result.Error = err.Error()
	} else {
		result.Status = models.StepStatusCompleted
		result.Output = output
	}

	r.finish(ctx, stepID, step.Type, result)

	if err != nil {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			err = &StepError{StepID: stepID, Err: err}
		}

		return nil, true, err
	}

	return output, true, nil
}

func (r *run) execute(ctx context.Context, step *models.Step) (output models.StepOutput, err error) {
	handler, err := r.o.registry.Handler(step.Type)
	if err != nil {
		return nil, err
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			output = nil
			err = fmt.Errorf("step handler panicked: %v", recovered)
		}
	}()

	return handler.Execute(ctx, step, r)
}

// finish records a step result and notifies the observers.
func (r *run) finish(ctx context.Context, stepID string, stepType models.StepType, result *models.StepResult) {
	r.record(stepID, result)
	r.notify(ctx, stepID, stepType, result)
}

func (r *run) record(stepID string, result *models.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exec.StepResults[stepID] = result

	if result.Status == models.StepStatusCompleted {
		r.order = append(r.order, stepID)
	}
}

func (r *run) notify(ctx context.Context, stepID string, stepType models.StepType, result *models.StepResult) {
	event := StepEvent{
		ExecutionID: r.exec.ID,
		WorkflowID:  r.workflow.ID,
		StepID:      stepID,
		StepType:    stepType,
		Result:      *result,
	}

	for _, observer := range r.o.observers {
		observer.StepFinished(ctx, event)
	}
}
