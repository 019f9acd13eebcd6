// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// Factory returns an empty persistence for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// base is truncated to microseconds, the precision of SQL timestamps.
var base = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

func newWorkflow(owner string, offset time.Duration) *models.WorkflowDefinition {
	created := base.Add(offset)

	return &models.WorkflowDefinition{
		ID:          uuid.NewString(),
		Name:        "Research digest",
		Description: "Collects and summarizes",
		Owner:       owner,
		IsActive:    true,
		Steps: []*models.Step{
			{
				ID: "research", Name: "Research", Type: models.StepTypeAgentTask,
				AgentTask:  &models.AgentTaskConfig{AgentID: "researcher", Parameters: map[string]any{"depth": "deep"}},
				Successors: []string{"fan"},
			},
			{
				ID: "fan", Name: "Fan", Type: models.StepTypeParallel,
				Branches: []string{"wait"},
			},
			{
				ID: "wait", Name: "Wait", Type: models.StepTypeDelay,
				Delay: &models.DelayConfig{DelayMs: 10},
			},
		},
		Triggers: []*models.Trigger{
			{ID: "manual", Type: models.TriggerTypeManual},
			{ID: "nightly", Type: models.TriggerTypeSchedule, Parameters: map[string]any{"schedule": "0 2 * * *"}},
		},
		InputSchema: map[string]any{"type": "object"},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// Run exercises the full repository contract against a backend.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("workflow round trip", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()
		workflow := newWorkflow("user-1", 0)

		require.NoError(t, p.Workflows().Create(ctx, workflow))

		got, err := p.Workflows().GetByID(ctx, workflow.ID)
		require.NoError(t, err)

		assert.Equal(t, workflow.ID, got.ID)
		assert.Equal(t, workflow.Name, got.Name)
		assert.Equal(t, workflow.Description, got.Description)
		assert.Equal(t, workflow.Owner, got.Owner)
		assert.True(t, got.IsActive)
		assert.Equal(t, workflow.Steps, got.Steps)
		assert.Equal(t, workflow.Triggers, got.Triggers)
		assert.Equal(t, workflow.InputSchema, got.InputSchema)
		assert.True(t, workflow.CreatedAt.Equal(got.CreatedAt), "created_at %s != %s", workflow.CreatedAt, got.CreatedAt)
	})

	t.Run("workflow create conflicts", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()
		workflow := newWorkflow("user-1", 0)

		require.NoError(t, p.Workflows().Create(ctx, workflow))
		assert.ErrorIs(t, p.Workflows().Create(ctx, workflow), persistence.ErrWorkflowAlreadyExists)
	})

	t.Run("workflow not found", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()

		_, err := p.Workflows().GetByID(ctx, uuid.NewString())
		assert.True(t, persistence.IsWorkflowNotFound(err), "got %v", err)

		err = p.Workflows().Update(ctx, newWorkflow("user-1", 0))
		assert.True(t, persistence.IsWorkflowNotFound(err), "got %v", err)
	})

	t.Run("workflow update", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()
		workflow := newWorkflow("user-1", 0)

		require.NoError(t, p.Workflows().Create(ctx, workflow))

		workflow.IsActive = false
		workflow.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, p.Workflows().Update(ctx, workflow))

		got, err := p.Workflows().GetByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.True(t, workflow.UpdatedAt.Equal(got.UpdatedAt))
	})

	t.Run("workflow list", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()

		created := make([]*models.WorkflowDefinition, 0, 5)

		for i := range 5 {
			workflow := newWorkflow("owner-a", time.Duration(i)*time.Minute)
			workflow.Name = fmt.Sprintf("Pipeline %d", i)
			workflow.IsActive = i != 1

			require.NoError(t, p.Workflows().Create(ctx, workflow))
			created = append(created, workflow)
		}

		require.NoError(t, p.Workflows().Create(ctx, newWorkflow("owner-b", 0)))

		first, err := p.Workflows().List(ctx, persistence.WorkflowQuery{Owner: "owner-a", Limit: 3})
		require.NoError(t, err)
		require.Len(t, first.Workflows, 3)
		assert.Equal(t, created[4].ID, first.Workflows[0].ID)
		assert.Equal(t, created[2].ID, first.Workflows[2].ID)
		require.NotEmpty(t, first.NextCursor)

		second, err := p.Workflows().List(ctx, persistence.WorkflowQuery{Owner: "owner-a", Limit: 3, Cursor: first.NextCursor})
		require.NoError(t, err)
		require.Len(t, second.Workflows, 2)
		assert.Equal(t, created[1].ID, second.Workflows[0].ID)
		assert.Equal(t, created[0].ID, second.Workflows[1].ID)
		assert.Empty(t, second.NextCursor)

		inactive := false

		filtered, err := p.Workflows().List(ctx, persistence.WorkflowQuery{Owner: "owner-a", Active: &inactive})
		require.NoError(t, err)
		require.Len(t, filtered.Workflows, 1)
		assert.Equal(t, created[1].ID, filtered.Workflows[0].ID)

		searched, err := p.Workflows().List(ctx, persistence.WorkflowQuery{Owner: "owner-a", Search: "PIPELINE 3"})
		require.NoError(t, err)
		require.Len(t, searched.Workflows, 1)
		assert.Equal(t, created[3].ID, searched.Workflows[0].ID)

		_, err = p.Workflows().List(ctx, persistence.WorkflowQuery{Owner: "owner-a", Cursor: "%%%"})
		assert.ErrorIs(t, err, persistence.ErrInvalidCursor)

		active, err := p.Workflows().Active(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 5)
	})

	t.Run("execution round trip", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()
		workflow := newWorkflow("user-1", 0)
		require.NoError(t, p.Workflows().Create(ctx, workflow))

		execution := models.NewExecution(uuid.NewString(), workflow, "user-1")
		execution.Status = models.ExecutionStatusRunning
		execution.Input = map[string]any{"topic": "go"}
		execution.StepResults["fan"] = &models.StepResult{
			Status: models.StepStatusCompleted,
			Output: &models.ParallelOutput{
				Type: models.OutputTypeParallelExecution,
				Results: []models.BranchOutcome{
					{StepID: "wait", Status: models.BranchFulfilled, Value: &models.DelayOutput{Type: models.OutputTypeDelay, DelayMs: 10}},
				},
			},
		}

		require.NoError(t, p.Executions().Save(ctx, execution))

		completed := execution.StartedAt.Add(time.Second)
		execution.Status = models.ExecutionStatusFailed
		execution.CompletedAt = &completed
		execution.Error = &models.ExecutionError{StepID: "wait", Code: models.ErrorCodeExecution, Message: "boom"}
		require.NoError(t, p.Executions().Save(ctx, execution))

		got, err := p.Executions().GetByID(ctx, execution.ID)
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, got.Status)
		assert.Equal(t, execution.Error, got.Error)
		assert.Equal(t, "go", got.Input["topic"])
		require.NotNil(t, got.CompletedAt)

		parallel, ok := got.StepResults["fan"].Output.(*models.ParallelOutput)
		require.True(t, ok)
		assert.IsType(t, &models.DelayOutput{}, parallel.Results[0].Value)

		_, err = p.Executions().GetByID(ctx, uuid.NewString())
		assert.True(t, persistence.IsExecutionNotFound(err), "got %v", err)
	})

	t.Run("executions by workflow", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()
		workflow := newWorkflow("user-1", 0)
		other := newWorkflow("user-1", time.Minute)
		require.NoError(t, p.Workflows().Create(ctx, workflow))
		require.NoError(t, p.Workflows().Create(ctx, other))

		ids := make([]string, 0, 3)

		for i := range 3 {
			execution := models.NewExecution(uuid.NewString(), workflow, "user-1")
			execution.StartedAt = base.Add(time.Duration(i) * time.Second)
			require.NoError(t, p.Executions().Save(ctx, execution))
			ids = append(ids, execution.ID)
		}

		require.NoError(t, p.Executions().Save(ctx, models.NewExecution(uuid.NewString(), other, "user-1")))

		executions, err := p.Executions().ListByWorkflow(ctx, workflow.ID, 2)
		require.NoError(t, err)
		require.Len(t, executions, 2)
		assert.Equal(t, ids[2], executions[0].ID)
		assert.Equal(t, ids[1], executions[1].ID)

		all, err := p.Executions().ListByWorkflow(ctx, workflow.ID, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("execution transition", func(t *testing.T) {
		p := factory(t)
		ctx := context.Background()
		workflow := newWorkflow("user-1", 0)
		require.NoError(t, p.Workflows().Create(ctx, workflow))

		execution := models.NewExecution(uuid.NewString(), workflow, "user-1")
		execution.Status = models.ExecutionStatusWaiting
		execution.WaitingStep = "fan"
		require.NoError(t, p.Executions().Save(ctx, execution))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			claimed   int
			conflicts int
		)

		for range 8 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				claim := *execution
				claim.Status = models.ExecutionStatusRunning
				claim.WaitingStep = ""

				err := p.Executions().Transition(ctx, &claim, models.ExecutionStatusWaiting)

				mu.Lock()
				defer mu.Unlock()

				switch {
				case err == nil:
					claimed++
				case persistence.IsStatusConflict(err):
					conflicts++
				default:
					t.Errorf("unexpected transition error: %v", err)
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, 1, claimed)
		assert.Equal(t, 7, conflicts)

		got, err := p.Executions().GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, got.Status)
		assert.Empty(t, got.WaitingStep)

		missing := models.NewExecution(uuid.NewString(), workflow, "user-1")
		err = p.Executions().Transition(ctx, missing, models.ExecutionStatusWaiting)
		assert.True(t, persistence.IsExecutionNotFound(err), "got %v", err)
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, factory(t).HealthCheck(context.Background()))
	})
}
