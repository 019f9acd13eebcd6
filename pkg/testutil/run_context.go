package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
)

// DispatchFunc resolves a branch dispatch in a FakeRun.
type DispatchFunc func(ctx context.Context, stepID string) (models.StepOutput, error)

// FakeRun is an in-memory protocol.RunContext for handler tests.
type FakeRun struct {
	ID         string
	Workflow   string
	Auto       bool
	InputData  map[string]any
	Meta       map[string]any
	History    []models.StepOutput
	StepOutput map[string]models.StepOutput
	OnDispatch DispatchFunc

	mu         sync.Mutex
	Dispatched []string
}

func NewFakeRun() *FakeRun {
	return &FakeRun{
		ID:         "exec-test",
		Workflow:   "wf-test",
		InputData:  map[string]any{},
		Meta:       map[string]any{},
		StepOutput: map[string]models.StepOutput{},
	}
}

func (f *FakeRun) ExecutionID() string      { return f.ID }
func (f *FakeRun) WorkflowID() string       { return f.Workflow }
func (f *FakeRun) AutoApprove() bool        { return f.Auto }
func (f *FakeRun) Input() map[string]any    { return f.InputData }
func (f *FakeRun) Metadata() map[string]any { return f.Meta }
func (f *FakeRun) Logger() *slog.Logger     { return slog.Default() }

func (f *FakeRun) Outputs() map[string]models.StepOutput {
	return f.StepOutput
}

func (f *FakeRun) RecentOutputs(n int) []models.StepOutput {
	if n >= len(f.History) {
		return f.History
	}

	return f.History[len(f.History)-n:]
}

func (f *FakeRun) Dispatch(ctx context.Context, stepID string) (models.StepOutput, error) {
	f.mu.Lock()
	f.Dispatched = append(f.Dispatched, stepID)
	f.mu.Unlock()

	if f.OnDispatch == nil {
		return nil, fmt.Errorf("no dispatcher for step %s", stepID)
	}

	return f.OnDispatch(ctx, stepID)
}

// DispatchedSteps returns the dispatched step ids in call order.
func (f *FakeRun) DispatchedSteps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.Dispatched...)
}
