package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"   // suspended at a human approval gate
	ExecutionStatusCompleted ExecutionStatus = "completed" // terminal
	ExecutionStatusFailed    ExecutionStatus = "failed"    // terminal
)

// IsTerminal reports whether no further transitions can occur.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// StepStatus is the outcome of a single step visit.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Error codes attached to failed executions.
const (
	ErrorCodeExecution        = "EXECUTION_ERROR"
	ErrorCodeApprovalRejected = "APPROVAL_REJECTED"
)

// RunLevelStepID marks an execution error that is not attributable to a step.
const RunLevelStepID = "workflow"

// WorkflowExecution is one run of a workflow. It is owned by the orchestrator
// invocation processing it until it reaches a terminal state, after which it
// is treated as an immutable value.
type WorkflowExecution struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflow_id"`
	Owner        string                 `json:"owner"`
	Status       ExecutionStatus        `json:"status"`
	CurrentStep  string                 `json:"current_step,omitempty"`
	StepResults  map[string]*StepResult `json:"step_results"`
	Input        map[string]any         `json:"input,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
	AutoApprove  bool                   `json:"auto_approve"`
	PendingSteps []string               `json:"pending_steps,omitempty"`
	WaitingStep  string                 `json:"waiting_step,omitempty"`
	WaitingSince *time.Time             `json:"waiting_since,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at"`
	Error        *ExecutionError        `json:"error"`
}

// ExecutionError describes why a run failed.
type ExecutionError struct {
	StepID  string         `json:"step_id"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// StepResult is written at most once per step per run.
type StepResult struct {
	Status      StepStatus `json:"status"`
	Output      StepOutput `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// NewExecution creates a pending execution for the given workflow.
func NewExecution(id string, workflow *WorkflowDefinition, owner string) *WorkflowExecution {
	return &WorkflowExecution{
		ID:          id,
		WorkflowID:  workflow.ID,
		Owner:       owner,
		Status:      ExecutionStatusPending,
		StepResults: make(map[string]*StepResult),
		Input:       make(map[string]any),
		Metadata:    make(map[string]any),
		StartedAt:   time.Now().UTC(),
	}
}

// CompletedSteps counts the step results with a completed status.
func (e *WorkflowExecution) CompletedSteps() int {
	count := 0

	for _, result := range e.StepResults {
		if result != nil && result.Status == StepStatusCompleted {
			count++
		}
	}

	return count
}

// Duration returns the wall-clock time of a terminal run.
func (e *WorkflowExecution) Duration() (time.Duration, bool) {
	if e.CompletedAt == nil {
		return 0, false
	}

	return e.CompletedAt.Sub(e.StartedAt), true
}

// ExecutionSummary is the compact view returned alongside synchronous runs.
type ExecutionSummary struct {
	ExecutionID     string          `json:"execution_id"`
	Status          ExecutionStatus `json:"status"`
	StepsCompleted  int             `json:"steps_completed"`
	TotalSteps      int             `json:"total_steps"`
	ExecutionTimeMs *int64          `json:"execution_time_ms,omitempty"`
}

// Summarize builds the summary of an execution against its workflow.
func Summarize(workflow *WorkflowDefinition, execution *WorkflowExecution) ExecutionSummary {
	summary := ExecutionSummary{
		ExecutionID:    execution.ID,
		Status:         execution.Status,
		StepsCompleted: execution.CompletedSteps(),
		TotalSteps:     len(workflow.Steps),
	}

	if duration, ok := execution.Duration(); ok {
		ms := duration.Milliseconds()
		summary.ExecutionTimeMs = &ms
	}

	return summary
}

// ApprovalDecision resolves a waiting human approval gate.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver,omitempty"`
	Comment  string `json:"comment,omitempty"`
}
