// Package events defines event types and structures for workflow execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/models"
)

type EventType string

// Topic carries every lifecycle event.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionResumedEvent   EventType = "execution.resumed"

	// Step events.
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	Owner       string         `json:"owner"`
	TriggerType string         `json:"trigger_type"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Owner          string                    `json:"owner"`
	DurationMs     int64                     `json:"duration_ms"`
	StepsCompleted int                       `json:"steps_completed"`
	Execution      *models.WorkflowExecution `json:"execution"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Owner          string                 `json:"owner"`
	DurationMs     int64                  `json:"duration_ms"`
	StepsCompleted int                    `json:"steps_completed"`
	Error          *models.ExecutionError `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	StepID  string `json:"step_id"`
	Message string `json:"message,omitempty"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionResumed struct {
	BaseEvent

	StepID          string `json:"step_id"`
	Approved        bool   `json:"approved"`
	Approver        string `json:"approver,omitempty"`
	PauseDurationMs int64  `json:"pause_duration_ms"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID     string          `json:"step_id"`
	StepType   models.StepType `json:"step_type"`
	DurationMs int64           `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepID     string          `json:"step_id"`
	StepType   models.StepType `json:"step_type"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

// New returns an empty event value for the given type, ready to be decoded
// into. ok is false for unknown types.
func New(eventType EventType) (event any, ok bool) {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionWaitingEvent:
		return &ExecutionWaiting{}, true
	case ExecutionResumedEvent:
		return &ExecutionResumed{}, true
	case StepCompletedEvent:
		return &StepCompleted{}, true
	case StepFailedEvent:
		return &StepFailed{}, true
	default:
		return nil, false
	}
}
