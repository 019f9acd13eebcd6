// Package stream wraps a workflow run into an ordered sequence of lifecycle
// events delivered over a channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionWaiting   EventType = "execution_waiting"
)

// Event is one message of an execution stream. Started and failed events carry
// identifiers only; completed and waiting events carry the execution record.
type Event struct {
	Type        EventType                 `json:"type"`
	ExecutionID string                    `json:"execution_id"`
	WorkflowID  string                    `json:"workflow_id,omitempty"`
	Execution   *models.WorkflowExecution `json:"execution,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// IsTerminal reports whether the event closes the stream.
func (e Event) IsTerminal() bool {
	return e.Type != EventExecutionStarted
}

// Runner executes a run to a terminal or waiting state.
type Runner interface {
	Run(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) (*models.WorkflowExecution, error)
}

// Hook runs after the orchestrator returned and before the terminal event is
// emitted. A hook error turns the terminal event into execution_failed.
type Hook func(ctx context.Context, exec *models.WorkflowExecution) error

type Adapter struct {
	runner Runner
	logger *slog.Logger
	hooks  []Hook
}

type Option func(*Adapter)

func WithHook(hook Hook) Option {
	return func(a *Adapter) {
		a.hooks = append(a.hooks, hook)
	}
}

func NewAdapter(runner Runner, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		runner: runner,
		logger: logger.With("module", "stream"),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run starts the run in its own goroutine and returns the event channel. The
// channel receives exactly one execution_started event followed by exactly one
// terminal event and is then closed. It is buffered for both events, so an
// abandoned consumer never blocks the run.
func (a *Adapter) Run(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) <-chan Event {
	events := make(chan Event, 2)

	events <- Event{
		Type:        EventExecutionStarted,
		ExecutionID: exec.ID,
		WorkflowID:  workflow.ID,
		Timestamp:   time.Now().UTC(),
	}

	go func() {
		defer close(events)

		events <- a.terminal(ctx, workflow, exec, autoApprove)
	}()

	return events
}

func (a *Adapter) terminal(ctx context.Context, workflow *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) (event Event) {
	logger := a.logger.With("workflow_id", workflow.ID, "execution_id", exec.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Streamed execution panicked", "panic", r)

			event = failed(exec.ID, fmt.Errorf("execution panicked: %v", r))
		}
	}()

	result, err := a.runner.Run(ctx, workflow, exec, autoApprove)
	if err != nil {
		logger.ErrorContext(ctx, "Streamed execution errored", "error", err)

		return failed(exec.ID, err)
	}

	for _, hook := range a.hooks {
		if err := hook(ctx, result); err != nil {
			logger.ErrorContext(ctx, "Stream hook failed", "error", err)

			return failed(exec.ID, err)
		}
	}

	return terminalEvent(result)
}

func terminalEvent(exec *models.WorkflowExecution) Event {
	now := time.Now().UTC()

	switch exec.Status {
	case models.ExecutionStatusCompleted:
		return Event{Type: EventExecutionCompleted, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID, Execution: exec, Timestamp: now}
	case models.ExecutionStatusWaiting:
		return Event{Type: EventExecutionWaiting, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID, Execution: exec, Timestamp: now}
	case models.ExecutionStatusFailed:
		message := "execution failed"
		if exec.Error != nil {
			message = exec.Error.Message
		}

		return failed(exec.ID, errors.New(message))
	default:
		return failed(exec.ID, fmt.Errorf("execution ended in unexpected status %s", exec.Status))
	}
}

func failed(executionID string, err error) Event {
	return Event{
		Type:        EventExecutionFailed,
		ExecutionID: executionID,
		Error:       err.Error(),
		Timestamp:   time.Now().UTC(),
	}
}
