package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/stream"
)

func TestExecution_Execute(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, pipeline("user-1"))

	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{
		Input:    map[string]any{"topic": "go"},
		Metadata: map[string]any{"source": "test"},
	})
	require.NoError(t, err)

	exec := response.Execution
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Len(t, exec.StepResults, 3)
	assert.Equal(t, "user-1", exec.Owner)
	assert.Equal(t, "test", exec.Metadata["source"])
	require.NotNil(t, exec.CompletedAt)
	assert.False(t, exec.CompletedAt.Before(exec.StartedAt))

	assert.Equal(t, exec.ID, response.Summary.ExecutionID)
	assert.Equal(t, 3, response.Summary.StepsCompleted)
	assert.Equal(t, 3, response.Summary.TotalSteps)
	require.NotNil(t, response.Summary.ExecutionTimeMs)
	assert.GreaterOrEqual(t, *response.Summary.ExecutionTimeMs, int64(50))

	stored, err := f.executions.Get(t.Context(), "user-1", exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.ExecutionCompletedEvent,
	}, f.published.Types())
}

func TestExecution_Execute_FailedRunIsReturnedAndStored(t *testing.T) {
	f := newFixture(t)

	def := pipeline("user-1")
	def.Steps[2] = &models.Step{
		ID: "C", Name: "Fan", Type: models.StepTypeSequential, Branches: []string{"D"},
	}
	def.Steps = append(def.Steps, &models.Step{ID: "D", Name: "Gate", Type: models.StepTypeHumanApproval})
	wf := f.create(t, def)

	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{})
	require.NoError(t, err)

	exec := response.Execution
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, "D", exec.Error.StepID)
	assert.Equal(t, models.ErrorCodeExecution, exec.Error.Code)
	assert.Equal(t, wf.ID, exec.Error.Details["workflowId"])

	listed, err := f.executions.ListByWorkflow(t.Context(), "user-1", wf.ID, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.ExecutionStatusFailed, listed[0].Status)

	types := f.published.Types()
	assert.Equal(t, events.ExecutionFailedEvent, types[len(types)-1])
	assert.Contains(t, types, events.StepFailedEvent)
}

func TestExecution_Execute_BoundaryChecks(t *testing.T) {
	f := newFixture(t)

	active := f.create(t, pipeline("user-1"))

	inactiveDef := pipeline("user-1")
	inactiveDef.IsActive = false
	inactive := f.create(t, inactiveDef)

	scheduledDef := pipeline("user-1")
	scheduledDef.Triggers = []*models.Trigger{
		{ID: "nightly", Type: models.TriggerTypeSchedule, Parameters: map[string]any{"schedule": "0 2 * * *"}},
	}
	scheduled := f.create(t, scheduledDef)

	schemaDef := pipeline("user-1")
	schemaDef.InputSchema = map[string]any{
		"type":     "object",
		"required": []any{"topic"},
		"properties": map[string]any{
			"topic": map[string]any{"type": "string"},
		},
	}
	withSchema := f.create(t, schemaDef)

	cases := []struct {
		name       string
		caller     string
		workflowID string
		input      map[string]any
		check      func(t *testing.T, err error)
	}{
		{"missing workflow", "user-1", "missing", nil, func(t *testing.T, err error) {
			assert.True(t, IsNotFoundError(err))
		}},
		{"not owner", "user-2", active.ID, nil, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotOwner)
		}},
		{"anonymous", "", active.ID, nil, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotOwner)
		}},
		{"inactive", "user-1", inactive.ID, nil, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrWorkflowInactive)
			assert.True(t, IsConflictError(err))
		}},
		{"schedule only", "user-1", scheduled.ID, nil, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrManualRunNotAllowed)
		}},
		{"invalid input", "user-1", withSchema.ID, map[string]any{"topic": 7}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.True(t, IsValidationError(err))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.executions.Execute(t.Context(), tc.caller, tc.workflowID, ExecuteRequest{Input: tc.input})
			require.Error(t, err)
			tc.check(t, err)

			_, err = f.executions.ExecuteStream(t.Context(), tc.caller, tc.workflowID, ExecuteRequest{Input: tc.input})
			require.Error(t, err)
			tc.check(t, err)
		})
	}

	for _, wf := range []*models.WorkflowDefinition{active, inactive, scheduled, withSchema} {
		listed, err := f.store.Executions().ListByWorkflow(t.Context(), wf.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, listed, "no execution may exist after a rejected request")
	}

	assert.Empty(t, f.published.Types())

	response, err := f.executions.Execute(t.Context(), "user-1", withSchema.ID, ExecuteRequest{Input: map[string]any{"topic": "go"}})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, response.Execution.Status)
}

func TestExecution_ExecuteStream(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, pipeline("user-1"))

	ch, err := f.executions.ExecuteStream(t.Context(), "user-1", wf.ID, ExecuteRequest{})
	require.NoError(t, err)

	var got []stream.Event

	for event := range ch {
		got = append(got, event)
	}

	require.Len(t, got, 2)
	assert.Equal(t, stream.EventExecutionStarted, got[0].Type)
	assert.Equal(t, wf.ID, got[0].WorkflowID)
	assert.Equal(t, stream.EventExecutionCompleted, got[1].Type)
	require.NotNil(t, got[1].Execution)
	assert.Len(t, got[1].Execution.StepResults, 3)

	types := f.published.Types()
	assert.Equal(t, events.ExecutionCompletedEvent, types[len(types)-1])
}

func approvalPipeline(owner string) *models.WorkflowDefinition {
	def := pipeline(owner)
	def.Steps[1] = &models.Step{
		ID: "B", Name: "Review", Type: models.StepTypeHumanApproval,
		Approval:   &models.ApprovalConfig{Message: "Ship it?"},
		Successors: []string{"C"},
	}

	return def
}

func TestExecution_ResumeApproved(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, approvalPipeline("user-1"))

	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{})
	require.NoError(t, err)

	waiting := response.Execution
	require.Equal(t, models.ExecutionStatusWaiting, waiting.Status)
	assert.Equal(t, "B", waiting.WaitingStep)
	assert.Nil(t, waiting.CompletedAt)
	assert.Nil(t, response.Summary.ExecutionTimeMs)

	_, err = f.executions.Resume(t.Context(), "user-2", waiting.ID, models.ApprovalDecision{Approved: true})
	assert.ErrorIs(t, err, ErrNotOwner)

	resumed, err := f.executions.Resume(t.Context(), "user-1", waiting.ID, models.ApprovalDecision{Approved: true, Approver: "lead"})
	require.NoError(t, err)

	exec := resumed.Execution
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Len(t, exec.StepResults, 3)

	output, ok := exec.StepResults["B"].Output.(*models.ApprovalOutput)
	require.True(t, ok)
	assert.True(t, output.Approved)
	assert.Equal(t, "lead", output.Approver)

	assert.Contains(t, f.published.Types(), events.ExecutionWaitingEvent)
	assert.Contains(t, f.published.Types(), events.ExecutionResumedEvent)

	_, err = f.executions.Resume(t.Context(), "user-1", waiting.ID, models.ApprovalDecision{Approved: true})
	assert.ErrorIs(t, err, ErrNotWaiting)
	assert.True(t, IsConflictError(err))
}

func TestExecution_ConcurrentResumeRunsContinuationOnce(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, approvalPipeline("user-1"))

	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaiting, response.Execution.Status)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resumed  int
		rejected []error
	)

	for i := range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			time.Sleep(time.Duration(i) * 10 * time.Millisecond)

			_, err := f.executions.Resume(t.Context(), "user-1", response.Execution.ID, models.ApprovalDecision{Approved: true})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				rejected = append(rejected, err)

				return
			}

			resumed++
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, resumed)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0], ErrNotWaiting)

	count := func(eventType events.EventType) int {
		n := 0

		for _, published := range f.published.Types() {
			if published == eventType {
				n++
			}
		}

		return n
	}

	assert.Equal(t, 1, count(events.ExecutionResumedEvent))
	assert.Equal(t, 1, count(events.ExecutionCompletedEvent))

	stored, err := f.store.Executions().GetByID(t.Context(), response.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestExecution_ResumeRejected(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, approvalPipeline("user-1"))

	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{})
	require.NoError(t, err)

	resumed, err := f.executions.Resume(t.Context(), "user-1", response.Execution.ID, models.ApprovalDecision{Approved: false, Comment: "not yet"})
	require.NoError(t, err)

	exec := resumed.Execution
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, models.ErrorCodeApprovalRejected, exec.Error.Code)
	assert.Equal(t, "B", exec.Error.StepID)
	assert.NotContains(t, exec.StepResults, "C")
}

func TestExecution_AutoApprove(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, approvalPipeline("user-1"))

	started := time.Now()
	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{AutoApprove: true})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, response.Execution.Status)
	assert.Less(t, time.Since(started), 2*time.Second)

	output, ok := response.Execution.StepResults["B"].Output.(*models.ApprovalOutput)
	require.True(t, ok)
	assert.True(t, output.Approved)
	assert.True(t, output.AutoApproved)
}

func TestExecution_GetAndList_Ownership(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, pipeline("user-1"))

	response, err := f.executions.Execute(t.Context(), "user-1", wf.ID, ExecuteRequest{})
	require.NoError(t, err)

	_, err = f.executions.Get(t.Context(), "user-2", response.Execution.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.executions.Get(t.Context(), "user-1", "missing")
	assert.True(t, IsNotFoundError(err))

	_, err = f.executions.ListByWorkflow(t.Context(), "user-2", wf.ID, 10)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestExecution_RunAsOwner(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, pipeline("user-1"))
	trigger := &models.Trigger{ID: "nightly", Type: models.TriggerTypeSchedule}

	exec, err := f.executions.RunAsOwner(t.Context(), wf, trigger, nil)
	require.NoError(t, err)

	assert.Equal(t, "user-1", exec.Owner)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "nightly", exec.Metadata["trigger_id"])
	assert.Equal(t, "schedule", exec.Metadata["trigger_type"])

	started, ok := f.published.events[0].(events.ExecutionStarted)
	require.True(t, ok)
	assert.Equal(t, "schedule", started.TriggerType)

	wf.IsActive = false
	_, err = f.executions.RunAsOwner(t.Context(), wf, trigger, nil)
	assert.ErrorIs(t, err, ErrWorkflowInactive)
}

func TestValidateInput(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"score"},
		"properties": map[string]any{
			"score": map[string]any{"type": "number", "minimum": 0},
		},
	}

	assert.NoError(t, ValidateInput(nil, map[string]any{"anything": true}))
	assert.NoError(t, ValidateInput(schema, map[string]any{"score": 3}))

	err := ValidateInput(schema, map[string]any{"score": -1})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Errors, 1)
	assert.Equal(t, "input.score", validationErr.Errors[0].Field)

	err = ValidateInput(schema, map[string]any{})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "input.(root)", validationErr.Errors[0].Field)
}
