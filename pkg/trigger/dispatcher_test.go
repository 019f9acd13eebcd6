package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/memory"
)

type call struct {
	workflowID string
	triggerID  string
	input      map[string]any
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
	ran   chan call
}

func (f *fakeRunner) RunAsOwner(_ context.Context, workflow *models.WorkflowDefinition, trigger *models.Trigger, input map[string]any) (*models.WorkflowExecution, error) {
	c := call{workflowID: workflow.ID, triggerID: trigger.ID, input: input}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.ran != nil {
		f.ran <- c
	}

	if f.err != nil {
		return nil, f.err
	}

	exec := models.NewExecution("exec-"+workflow.ID, workflow, workflow.Owner)
	exec.Status = models.ExecutionStatusCompleted

	return exec, nil
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]call(nil), f.calls...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}

func definition(id, owner string, triggers ...*models.Trigger) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       id,
		Name:     "Workflow " + id,
		Owner:    owner,
		IsActive: true,
		Steps:    []*models.Step{{ID: "wait", Name: "Wait", Type: models.StepTypeDelay}},
		Triggers: triggers,
	}
}

func scheduleTrigger(id, cron string) *models.Trigger {
	return &models.Trigger{ID: id, Type: models.TriggerTypeSchedule, Parameters: map[string]any{"schedule": cron}}
}

func completionTrigger(id, upstream string) *models.Trigger {
	return &models.Trigger{ID: id, Type: models.TriggerTypeCompletion, Parameters: map[string]any{"workflow_id": upstream}}
}

func newDispatcher(t *testing.T, runner Runner, c *clock, defs ...*models.WorkflowDefinition) (*Dispatcher, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	for _, def := range defs {
		require.NoError(t, store.Workflows().Create(t.Context(), def))
	}

	return NewDispatcher(store.Workflows(), runner, slog.New(slog.DiscardHandler), WithClock(c.Now)), store
}

func TestDispatcher_SyncAndTick(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC)}
	runner := &fakeRunner{}

	inactive := definition("wf-off", "user-1", scheduleTrigger("t", "* * * * *"))
	inactive.IsActive = false

	d, _ := newDispatcher(t, runner, c,
		definition("wf-1", "user-1", scheduleTrigger("every5", "*/5 * * * *"), &models.Trigger{ID: "m", Type: models.TriggerTypeManual}),
		inactive,
	)

	require.NoError(t, d.Sync(t.Context()))

	schedules := d.Schedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, "wf-1", schedules[0].WorkflowID)
	assert.Equal(t, "every5", schedules[0].TriggerID)
	assert.True(t, time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC).Equal(schedules[0].NextDueAt))

	assert.Equal(t, 0, d.Tick(t.Context()))

	c.Set(time.Date(2025, 3, 1, 12, 5, 30, 0, time.UTC))
	assert.Equal(t, 1, d.Tick(t.Context()))
	assert.Equal(t, 0, d.Tick(t.Context()), "a schedule fires once per due time")

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "wf-1", calls[0].workflowID)
	assert.Equal(t, "every5", calls[0].triggerID)

	trigger, ok := calls[0].input["trigger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "schedule", trigger["type"])

	require.NoError(t, d.Sync(t.Context()))
	assert.True(t, time.Date(2025, 3, 1, 12, 10, 0, 0, time.UTC).Equal(d.Schedules()[0].NextDueAt),
		"sync keeps the advanced due time")
}

func TestDispatcher_SkipsDeactivatedWorkflow(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC)}
	runner := &fakeRunner{}

	def := definition("wf-1", "user-1", scheduleTrigger("every5", "*/5 * * * *"))
	d, store := newDispatcher(t, runner, c, def)

	require.NoError(t, d.Sync(t.Context()))

	def.IsActive = false
	require.NoError(t, store.Workflows().Update(t.Context(), def))

	c.Set(time.Date(2025, 3, 1, 12, 6, 0, 0, time.UTC))
	assert.Equal(t, 0, d.Tick(t.Context()))
	assert.Empty(t, runner.Calls())

	require.NoError(t, d.Sync(t.Context()))
	assert.Empty(t, d.Schedules())
}

func TestDispatcher_RunnerErrorIsNotCounted(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC)}
	runner := &fakeRunner{err: errors.New("input rejected")}

	d, _ := newDispatcher(t, runner, c, definition("wf-1", "user-1", scheduleTrigger("every5", "*/5 * * * *")))
	require.NoError(t, d.Sync(t.Context()))

	c.Set(time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC))
	assert.Equal(t, 0, d.Tick(t.Context()))
	assert.Len(t, runner.Calls(), 1)
}

func completedEvent(workflowID, owner string, input map[string]any) *events.ExecutionCompleted {
	exec := &models.WorkflowExecution{ID: "exec-up", WorkflowID: workflowID, Owner: owner, Input: input}

	return &events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, workflowID, exec.ID),
		Owner:     owner,
		Execution: exec,
	}
}

func TestDispatcher_OnCompleted(t *testing.T) {
	c := &clock{now: time.Now()}
	runner := &fakeRunner{}

	d, _ := newDispatcher(t, runner, c,
		definition("wf-up", "user-1"),
		definition("wf-down", "user-1", completionTrigger("after-up", "wf-up")),
		definition("wf-foreign", "user-2", completionTrigger("after-up", "wf-up")),
		definition("wf-unrelated", "user-1", completionTrigger("after-x", "wf-x")),
	)

	assert.Equal(t, 1, d.OnCompleted(t.Context(), completedEvent("wf-up", "user-1", nil)))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "wf-down", calls[0].workflowID)

	trigger := calls[0].input["trigger"].(map[string]any)
	assert.Equal(t, "wf-up", trigger["upstream_workflow_id"])
	assert.Equal(t, []string{"wf-up"}, trigger["chain"])
}

func TestDispatcher_OnCompletedBreaksLoops(t *testing.T) {
	c := &clock{now: time.Now()}
	runner := &fakeRunner{}

	d, _ := newDispatcher(t, runner, c,
		definition("wf-a", "user-1", completionTrigger("after-b", "wf-b")),
		definition("wf-b", "user-1", completionTrigger("after-a", "wf-a")),
	)

	// wf-b finished after being started by wf-a.
	input := map[string]any{"trigger": map[string]any{"chain": []any{"wf-a"}}}

	assert.Equal(t, 0, d.OnCompleted(t.Context(), completedEvent("wf-b", "user-1", input)))
	assert.Empty(t, runner.Calls())
}

func TestDispatcher_SubscribeThroughEventBus(t *testing.T) {
	c := &clock{now: time.Now()}
	runner := &fakeRunner{ran: make(chan call, 1)}

	d, _ := newDispatcher(t, runner, c,
		definition("wf-up", "user-1"),
		definition("wf-down", "user-1", completionTrigger("after-up", "wf-up")),
	)

	logger := slog.New(slog.DiscardHandler)
	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, d.Subscribe(bus))
	require.NoError(t, bus.Subscribe(ctx))

	event := completedEvent("wf-up", "user-1", nil)
	require.NoError(t, bus.Publish(ctx, "wf-up", *event))

	select {
	case got := <-runner.ran:
		assert.Equal(t, "wf-down", got.workflowID)
	case <-time.After(2 * time.Second):
		t.Fatal("completion trigger did not fire")
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 1, 12, 4, 59, 0, time.UTC)}
	runner := &fakeRunner{ran: make(chan call, 4)}

	store := memory.NewPersistence()
	require.NoError(t, store.Workflows().Create(t.Context(), definition("wf-1", "user-1", scheduleTrigger("every5", "*/5 * * * *"))))

	d := NewDispatcher(store.Workflows(), runner, slog.New(slog.DiscardHandler),
		WithClock(c.Now), WithPollInterval(10*time.Millisecond))

	require.NoError(t, d.Start(t.Context()))
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(d.Stop)

	c.Set(time.Date(2025, 3, 1, 12, 5, 1, 0, time.UTC))

	select {
	case got := <-runner.ran:
		assert.Equal(t, "wf-1", got.workflowID)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not fire the due schedule")
	}

	d.Stop()
	d.Stop()
}

func TestDispatcher_RepositoryFailure(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("Active", mock.Anything).Return(nil, errors.New("database is down"))

	runner := &fakeRunner{}
	d := NewDispatcher(repo, runner, slog.New(slog.DiscardHandler))

	require.ErrorContains(t, d.Sync(t.Context()), "database is down")
	require.Error(t, d.Start(t.Context()))

	assert.Zero(t, d.OnCompleted(t.Context(), &events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, "upstream", "exec-1"),
		Owner:     "user-1",
	}))
	assert.Empty(t, runner.Calls())
}
