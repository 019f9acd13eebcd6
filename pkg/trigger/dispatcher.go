// Package trigger starts workflow runs from schedule and completion triggers.
package trigger

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const defaultPollInterval = time.Minute

// Runner starts a run on behalf of a trigger, as the workflow owner.
type Runner interface {
	RunAsOwner(ctx context.Context, workflow *models.WorkflowDefinition, trigger *models.Trigger, input map[string]any) (*models.WorkflowExecution, error)
}

// Dispatcher keeps the schedules of active workflows and fires the ones that
// are due on every poll. It also starts dependent workflows when an upstream
// workflow completes.
type Dispatcher struct {
	workflows persistence.WorkflowRepository
	runner    Runner
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	schedules map[string]*models.Schedule
	ticker    *time.Ticker
	done      chan struct{}
	started   bool
}

type Option func(*Dispatcher)

func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.interval = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(workflows persistence.WorkflowRepository, runner Runner, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		workflows: workflows,
		runner:    runner,
		logger:    logger.With("module", "trigger_dispatcher"),
		interval:  defaultPollInterval,
		now:       time.Now,
		schedules: make(map[string]*models.Schedule),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start loads the schedules and polls them until Stop or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	if err := d.sync(ctx); err != nil {
		return err
	}

	d.ticker = time.NewTicker(d.interval)
	d.done = make(chan struct{})
	d.started = true

	go d.poll(ctx, d.ticker, d.done)

	d.logger.InfoContext(ctx, "Trigger dispatcher started", "schedules", len(d.schedules), "interval", d.interval)

	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}

	d.ticker.Stop()
	close(d.done)
	d.started = false

	d.logger.Info("Trigger dispatcher stopped")
}

func (d *Dispatcher) poll(ctx context.Context, ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sync(ctx); err != nil {
				d.logger.ErrorContext(ctx, "Failed to sync schedules", "error", err)
			}

			d.Tick(ctx)
		}
	}
}

// Sync rebuilds the schedule set from the active workflows. Schedules that
// already exist keep their next due time.
func (d *Dispatcher) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sync(ctx)
}

func (d *Dispatcher) sync(ctx context.Context) error {
	workflows, err := d.workflows.Active(ctx)
	if err != nil {
		return err
	}

	now := d.now().UTC()
	next := make(map[string]*models.Schedule)

	for _, workflow := range workflows {
		for _, trigger := range workflow.TriggersOfType(models.TriggerTypeSchedule) {
			key := scheduleKey(workflow.ID, trigger.ID)

			if existing, ok := d.schedules[key]; ok && existing.CronExpression == trigger.StringParam(models.TriggerParamSchedule) {
				next[key] = existing

				continue
			}

			schedule, err := models.NewSchedule(workflow.ID, trigger, now)
			if err != nil {
				d.logger.WarnContext(ctx, "Skipping invalid schedule trigger",
					"workflow_id", workflow.ID,
					"trigger_id", trigger.ID,
					"error", err)

				continue
			}

			next[key] = schedule
		}
	}

	d.schedules = next

	return nil
}

// Schedules returns a copy of the registered schedules.
func (d *Dispatcher) Schedules() []models.Schedule {
	d.mu.Lock()
	defer d.mu.Unlock()

	schedules := make([]models.Schedule, 0, len(d.schedules))
	for _, schedule := range d.schedules {
		schedules = append(schedules, *schedule)
	}

	slices.SortFunc(schedules, func(a, b models.Schedule) int {
		return strings.Compare(scheduleKey(a.WorkflowID, a.TriggerID), scheduleKey(b.WorkflowID, b.TriggerID))
	})

	return schedules
}

// Tick fires every due schedule once and advances it past now. It returns the
// number of runs started.
func (d *Dispatcher) Tick(ctx context.Context) int {
	now := d.now().UTC()

	d.mu.Lock()

	var due []*models.Schedule

	for _, schedule := range d.schedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)

			if err := schedule.Advance(now); err != nil {
				d.logger.ErrorContext(ctx, "Failed to advance schedule", "workflow_id", schedule.WorkflowID, "error", err)
			}
		}
	}

	d.mu.Unlock()

	fired := 0

	for _, schedule := range due {
		if d.fireSchedule(ctx, schedule, now) {
			fired++
		}
	}

	return fired
}

func (d *Dispatcher) fireSchedule(ctx context.Context, schedule *models.Schedule, now time.Time) bool {
	logger := d.logger.With("workflow_id", schedule.WorkflowID, "trigger_id", schedule.TriggerID)

	workflow, err := d.workflows.GetByID(ctx, schedule.WorkflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load scheduled workflow", "error", err)

		return false
	}

	trigger := findTrigger(workflow, schedule.TriggerID)
	if !workflow.IsActive || trigger == nil {
		logger.InfoContext(ctx, "Scheduled workflow no longer runnable, skipping")

		return false
	}

	input := map[string]any{
		"trigger": map[string]any{
			"type":            string(models.TriggerTypeSchedule),
			"cron_expression": schedule.CronExpression,
			"fired_at":        now.Format(time.RFC3339),
		},
	}

	return d.run(ctx, logger, workflow, trigger, input)
}

// Subscribe registers the completion handler on the event bus. The bus must
// be subscribed by the caller afterwards.
func (d *Dispatcher) Subscribe(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ExecutionCompletedEvent, eventbus.Typed(func(ctx context.Context, completed *events.ExecutionCompleted) error {
		d.OnCompleted(ctx, completed)

		return nil
	}))
}

// OnCompleted starts every active workflow of the same owner whose completion
// trigger names the finished workflow. A workflow already present in the
// upstream chain is not started again.
func (d *Dispatcher) OnCompleted(ctx context.Context, completed *events.ExecutionCompleted) int {
	workflows, err := d.workflows.Active(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to load workflows for completion triggers", "error", err)

		return 0
	}

	chain := append(upstreamChain(completed.Execution), completed.WorkflowID)
	fired := 0

	for _, workflow := range workflows {
		if workflow.Owner != completed.Owner || slices.Contains(chain, workflow.ID) {
			continue
		}

		for _, trigger := range workflow.TriggersOfType(models.TriggerTypeCompletion) {
			if trigger.StringParam(models.TriggerParamWorkflowID) != completed.WorkflowID {
				continue
			}

			input := map[string]any{
				"trigger": map[string]any{
					"type":                  string(models.TriggerTypeCompletion),
					"upstream_workflow_id":  completed.WorkflowID,
					"upstream_execution_id": completed.ExecutionID,
					"chain":                 chain,
				},
			}

			logger := d.logger.With("workflow_id", workflow.ID, "trigger_id", trigger.ID)
			if d.run(ctx, logger, workflow, trigger, input) {
				fired++
			}
		}
	}

	return fired
}

func (d *Dispatcher) run(ctx context.Context, logger *slog.Logger, workflow *models.WorkflowDefinition, trigger *models.Trigger, input map[string]any) bool {
	exec, err := d.runner.RunAsOwner(ctx, workflow, trigger, input)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start triggered run", "error", err)

		return false
	}

	logger.InfoContext(ctx, "Triggered run finished", "execution_id", exec.ID, "status", exec.Status)

	return true
}

// upstreamChain reads the workflow ids that led to a completion-triggered run.
func upstreamChain(exec *models.WorkflowExecution) []string {
	if exec == nil {
		return nil
	}

	trigger, _ := exec.Input["trigger"].(map[string]any)

	switch chain := trigger["chain"].(type) {
	case []string:
		return slices.Clone(chain)
	case []any:
		ids := make([]string, 0, len(chain))

		for _, id := range chain {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}

		return ids
	default:
		return nil
	}
}

func findTrigger(workflow *models.WorkflowDefinition, id string) *models.Trigger {
	for _, trigger := range workflow.Triggers {
		if trigger != nil && trigger.ID == id {
			return trigger
		}
	}

	return nil
}

func scheduleKey(workflowID, triggerID string) string {
	return workflowID + "/" + triggerID
}
