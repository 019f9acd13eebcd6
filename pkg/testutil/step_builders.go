// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/models"
)

// CreateTestStep creates a delay step with default values that can be overridden.
func CreateTestStep(id string, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:    id,
		Name:  "Step " + id,
		Type:  models.StepTypeDelay,
		Delay: &models.DelayConfig{DelayMs: 1},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// AsAgentTask turns the step into an agent_task for the given agent.
func AsAgentTask(agentID string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeAgentTask
		s.Delay = nil
		s.AgentTask = &models.AgentTaskConfig{AgentID: agentID, Instruction: "Run " + s.Name}
	}
}

// AsCondition turns the step into a condition with the given expression.
func AsCondition(expression string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeCondition
		s.Delay = nil
		s.Condition = &models.ConditionConfig{Expression: expression}
	}
}

// AsParallel turns the step into a parallel fan-out over branches.
func AsParallel(branches ...string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeParallel
		s.Delay = nil
		s.Branches = branches
	}
}

// AsSequential turns the step into a sequential fan-out over branches.
func AsSequential(branches ...string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeSequential
		s.Delay = nil
		s.Branches = branches
	}
}

// AsApproval turns the step into a human approval gate.
func AsApproval() func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeHumanApproval
		s.Delay = nil
		s.Approval = &models.ApprovalConfig{Message: "Approve " + s.Name}
	}
}

// AsWebhook turns the step into a webhook step.
func AsWebhook(webhookType, url string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeWebhook
		s.Delay = nil
		s.Webhook = &models.WebhookConfig{WebhookType: webhookType, URL: url}
	}
}

// WithDelay sets the delay duration.
func WithDelay(ms int64) func(*models.Step) {
	return func(s *models.Step) {
		s.Delay = &models.DelayConfig{DelayMs: ms}
	}
}

// WithSuccessors sets the steps visited after this one.
func WithSuccessors(ids ...string) func(*models.Step) {
	return func(s *models.Step) {
		s.Successors = ids
	}
}

// CreateTestWorkflow creates an active workflow owned by "user-1".
func CreateTestWorkflow(steps ...*models.Step) *models.WorkflowDefinition {
	now := time.Now().UTC()

	return &models.WorkflowDefinition{
		ID:        uuid.NewString(),
		Name:      "Test Workflow",
		Owner:     "user-1",
		IsActive:  true,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
