package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExecution is returned when Run is handed a nil or already finished execution.
	ErrInvalidExecution = errors.New("invalid execution")

	// ErrNotWaiting is returned when Resume is called on an execution that is not waiting.
	ErrNotWaiting = errors.New("execution is not waiting for approval")

	// ErrSuspendInFanOut is the failure of an approval gate that would have to
	// suspend inside a parallel or sequential step.
	ErrSuspendInFanOut = errors.New("human approval cannot suspend inside a parallel or sequential step")

	ErrStepNotFound = errors.New("step not found in workflow")

	// ErrStepNotRecorded is returned for a branch whose step was dispatched
	// elsewhere but left no result, such as a suspended approval gate.
	ErrStepNotRecorded = errors.New("step was dispatched without a recorded result")
)

// StepError attributes a run failure to the step that originated it. Nested
// fan-outs keep the innermost step id.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
