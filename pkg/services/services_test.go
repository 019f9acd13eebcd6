package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/agent"
	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/memory"
	"github.com/dukex/stepflow/pkg/workflow"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type fixture struct {
	store      persistence.Persistence
	workflows  *Workflow
	executions *Execution
	published  *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.NewPersistence()
	published := &recordingPublisher{}

	orchestrator := workflow.NewOrchestrator(
		cmd.NewRegistry(logger, agent.NewLocalExecutor(nil)),
		logger,
		workflow.WithExecutionRepository(store.Executions()),
		workflow.WithObserver(NewStepEventPublisher(published, logger)),
	)

	return &fixture{
		store:      store,
		workflows:  NewWorkflow(store, logger),
		executions: NewExecution(store, orchestrator, logger, WithEventPublisher(published)),
		published:  published,
	}
}

// pipeline is A:agent_task -> B:condition -> C:delay.
func pipeline(owner string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:     "Research pipeline",
		Owner:    owner,
		IsActive: true,
		Steps: []*models.Step{
			{
				ID: "A", Name: "Research", Type: models.StepTypeAgentTask,
				AgentTask:  &models.AgentTaskConfig{AgentID: "x"},
				Successors: []string{"B"},
			},
			{
				ID: "B", Name: "Check", Type: models.StepTypeCondition,
				Condition:  &models.ConditionConfig{Expression: "true"},
				Successors: []string{"C"},
			},
			{
				ID: "C", Name: "Wait", Type: models.StepTypeDelay,
				Delay: &models.DelayConfig{DelayMs: 50},
			},
		},
	}
}

func (f *fixture) create(t *testing.T, def *models.WorkflowDefinition) *models.WorkflowDefinition {
	t.Helper()

	created, err := f.workflows.Create(t.Context(), def)
	require.NoError(t, err)

	return created
}
