package services

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/workflow"
)

func (e *Execution) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Execution) publishStarted(ctx context.Context, exec *models.WorkflowExecution, triggerType, triggerID string) {
	e.publish(ctx, exec.WorkflowID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, exec.WorkflowID, exec.ID),
		Owner:       exec.Owner,
		TriggerType: triggerType,
		TriggerID:   triggerID,
		Input:       exec.Input,
	})
}

// publishOutcome announces where a run settled.
func (e *Execution) publishOutcome(ctx context.Context, exec *models.WorkflowExecution) {
	var durationMs int64
	if duration, ok := exec.Duration(); ok {
		durationMs = duration.Milliseconds()
	}

	switch exec.Status {
	case models.ExecutionStatusCompleted:
		e.publish(ctx, exec.WorkflowID, events.ExecutionCompleted{
			BaseEvent:      events.NewBaseEvent(events.ExecutionCompletedEvent, exec.WorkflowID, exec.ID),
			Owner:          exec.Owner,
			DurationMs:     durationMs,
			StepsCompleted: exec.CompletedSteps(),
			Execution:      exec,
		})
	case models.ExecutionStatusFailed:
		e.publish(ctx, exec.WorkflowID, events.ExecutionFailed{
			BaseEvent:      events.NewBaseEvent(events.ExecutionFailedEvent, exec.WorkflowID, exec.ID),
			Owner:          exec.Owner,
			DurationMs:     durationMs,
			StepsCompleted: exec.CompletedSteps(),
			Error:          exec.Error,
		})
	case models.ExecutionStatusWaiting:
		e.publish(ctx, exec.WorkflowID, events.ExecutionWaiting{
			BaseEvent: events.NewBaseEvent(events.ExecutionWaitingEvent, exec.WorkflowID, exec.ID),
			StepID:    exec.WaitingStep,
		})
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
	}
}

// StepEventPublisher forwards finished step visits to the event bus.
type StepEventPublisher struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewStepEventPublisher(publisher eventbus.EventPublisher, logger *slog.Logger) *StepEventPublisher {
	return &StepEventPublisher{
		publisher: publisher,
		logger:    logger.With("module", "step_event_publisher"),
	}
}

func (p *StepEventPublisher) StepFinished(ctx context.Context, event workflow.StepEvent) {
	duration := event.Result.CompletedAt.Sub(event.Result.StartedAt).Milliseconds()

	var published eventbus.Event

	if event.Result.Status == models.StepStatusFailed {
		published = events.StepFailed{
			BaseEvent:  events.NewBaseEvent(events.StepFailedEvent, event.WorkflowID, event.ExecutionID),
			StepID:     event.StepID,
			StepType:   event.StepType,
			DurationMs: duration,
			Error:      event.Result.Error,
		}
	} else {
		published = events.StepCompleted{
			BaseEvent:  events.NewBaseEvent(events.StepCompletedEvent, event.WorkflowID, event.ExecutionID),
			StepID:     event.StepID,
			StepType:   event.StepType,
			DurationMs: duration,
		}
	}

	if err := p.publisher.Publish(ctx, event.WorkflowID, published); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish step event",
			"execution_id", event.ExecutionID,
			"step_id", event.StepID,
			"error", err)
	}
}
