package stream_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/agent"
	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/stream"
	"github.com/dukex/stepflow/pkg/workflow"
)

type runnerFunc func(ctx context.Context, wf *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) (*models.WorkflowExecution, error)

func (f runnerFunc) Run(ctx context.Context, wf *models.WorkflowDefinition, exec *models.WorkflowExecution, autoApprove bool) (*models.WorkflowExecution, error) {
	return f(ctx, wf, exec, autoApprove)
}

func collect(t *testing.T, events <-chan stream.Event) []stream.Event {
	t.Helper()

	var got []stream.Event

	timeout := time.After(5 * time.Second)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return got
			}

			got = append(got, event)
		case <-timeout:
			t.Fatal("stream was not closed")

			return got
		}
	}
}

func fixture() (*models.WorkflowDefinition, *models.WorkflowExecution) {
	wf := &models.WorkflowDefinition{
		ID:   "wf-1",
		Name: "Pipeline",
		Steps: []*models.Step{
			{ID: "A", Name: "A", Type: models.StepTypeAgentTask, AgentTask: &models.AgentTaskConfig{AgentID: "x"}, Successors: []string{"B"}},
			{ID: "B", Name: "B", Type: models.StepTypeCondition, Condition: &models.ConditionConfig{Expression: "true"}, Successors: []string{"C"}},
			{ID: "C", Name: "C", Type: models.StepTypeDelay, Delay: &models.DelayConfig{DelayMs: 50}},
		},
	}

	return wf, models.NewExecution("exec-1", wf, "user-1")
}

func newOrchestrator() *workflow.Orchestrator {
	logger := slog.New(slog.DiscardHandler)

	return workflow.NewOrchestrator(cmd.NewRegistry(logger, agent.NewLocalExecutor(nil)), logger)
}

func assertContract(t *testing.T, got []stream.Event) {
	t.Helper()

	require.Len(t, got, 2)
	assert.Equal(t, stream.EventExecutionStarted, got[0].Type)
	assert.False(t, got[0].IsTerminal())
	assert.True(t, got[1].IsTerminal())
}

func TestAdapter_Completed(t *testing.T) {
	wf, exec := fixture()
	adapter := stream.NewAdapter(newOrchestrator(), slog.New(slog.DiscardHandler))

	got := collect(t, adapter.Run(context.Background(), wf, exec, false))

	assertContract(t, got)
	assert.Equal(t, "exec-1", got[0].ExecutionID)
	assert.Equal(t, "wf-1", got[0].WorkflowID)
	assert.Nil(t, got[0].Execution)

	assert.Equal(t, stream.EventExecutionCompleted, got[1].Type)
	require.NotNil(t, got[1].Execution)
	assert.Equal(t, models.ExecutionStatusCompleted, got[1].Execution.Status)
	assert.Len(t, got[1].Execution.StepResults, 3)
}

func TestAdapter_FailedRun(t *testing.T) {
	wf, exec := fixture()
	wf.Steps[0].AgentTask = nil
	wf.Steps[0].Type = "unknown"

	adapter := stream.NewAdapter(newOrchestrator(), slog.New(slog.DiscardHandler))

	got := collect(t, adapter.Run(context.Background(), wf, exec, false))

	assertContract(t, got)
	assert.Equal(t, stream.EventExecutionFailed, got[1].Type)
	assert.Equal(t, "exec-1", got[1].ExecutionID)
	assert.Contains(t, got[1].Error, "not registered")
	assert.Nil(t, got[1].Execution)
}

func TestAdapter_Waiting(t *testing.T) {
	wf, exec := fixture()
	wf.Steps[1] = &models.Step{ID: "B", Name: "Gate", Type: models.StepTypeHumanApproval, Successors: []string{"C"}}

	adapter := stream.NewAdapter(newOrchestrator(), slog.New(slog.DiscardHandler))

	got := collect(t, adapter.Run(context.Background(), wf, exec, false))

	assertContract(t, got)
	assert.Equal(t, stream.EventExecutionWaiting, got[1].Type)
	require.NotNil(t, got[1].Execution)
	assert.Equal(t, "B", got[1].Execution.WaitingStep)
}

func TestAdapter_RunnerError(t *testing.T) {
	wf, exec := fixture()
	runner := runnerFunc(func(context.Context, *models.WorkflowDefinition, *models.WorkflowExecution, bool) (*models.WorkflowExecution, error) {
		return nil, errors.New("store unavailable")
	})

	got := collect(t, stream.NewAdapter(runner, slog.New(slog.DiscardHandler)).Run(context.Background(), wf, exec, false))

	assertContract(t, got)
	assert.Equal(t, stream.EventExecutionFailed, got[1].Type)
	assert.Equal(t, "store unavailable", got[1].Error)
}

func TestAdapter_RunnerPanic(t *testing.T) {
	wf, exec := fixture()
	runner := runnerFunc(func(context.Context, *models.WorkflowDefinition, *models.WorkflowExecution, bool) (*models.WorkflowExecution, error) {
		panic("boom")
	})

	got := collect(t, stream.NewAdapter(runner, slog.New(slog.DiscardHandler)).Run(context.Background(), wf, exec, false))

	assertContract(t, got)
	assert.Equal(t, stream.EventExecutionFailed, got[1].Type)
	assert.Contains(t, got[1].Error, "boom")
}

func TestAdapter_HookError(t *testing.T) {
	wf, exec := fixture()

	var hooked *models.WorkflowExecution

	adapter := stream.NewAdapter(newOrchestrator(), slog.New(slog.DiscardHandler),
		stream.WithHook(func(_ context.Context, exec *models.WorkflowExecution) error {
			hooked = exec

			return nil
		}),
		stream.WithHook(func(context.Context, *models.WorkflowExecution) error {
			return errors.New("persist failed")
		}),
	)

	got := collect(t, adapter.Run(context.Background(), wf, exec, true))

	assertContract(t, got)
	assert.Equal(t, stream.EventExecutionFailed, got[1].Type)
	assert.Equal(t, "persist failed", got[1].Error)
	require.NotNil(t, hooked)
	assert.Equal(t, models.ExecutionStatusCompleted, hooked.Status)
}

func TestAdapter_AbandonedConsumerDoesNotBlock(t *testing.T) {
	wf, exec := fixture()
	done := make(chan struct{})

	runner := runnerFunc(func(_ context.Context, _ *models.WorkflowDefinition, exec *models.WorkflowExecution, _ bool) (*models.WorkflowExecution, error) {
		exec.Status = models.ExecutionStatusCompleted

		return exec, nil
	})

	adapter := stream.NewAdapter(runner, slog.New(slog.DiscardHandler),
		stream.WithHook(func(context.Context, *models.WorkflowExecution) error {
			close(done)

			return nil
		}))

	_ = adapter.Run(context.Background(), wf, exec, false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish without a consumer")
	}
}
