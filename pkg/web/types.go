// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"fmt"
	"slices"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"

	"github.com/dukex/stepflow/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
// The owner is always the caller.
type CreateWorkflowRequest struct {
	ID          string           `json:"id,omitempty"           yaml:"id"`
	Name        string           `json:"name"                   yaml:"name"         validate:"required,min=3"`
	Description string           `json:"description"            yaml:"description"`
	Steps       []StepRequest    `json:"steps"                  yaml:"steps"        validate:"required,min=1,dive"`
	Triggers    []TriggerRequest `json:"triggers,omitempty"     yaml:"triggers"     validate:"dive"`
	IsActive    *bool            `json:"is_active,omitempty"    yaml:"is_active"`
	InputSchema map[string]any   `json:"input_schema,omitempty" yaml:"input_schema"`
}

// StepRequest accepts both the typed step shape and the loose shape where
// next_steps and a free-form parameters map describe the step.
type StepRequest struct {
	ID               string         `json:"id"                          yaml:"id"                validate:"required"`
	Name             string         `json:"name"                        yaml:"name"              validate:"required"`
	Type             string         `json:"type"                        yaml:"type"              validate:"required"`
	RequiresApproval bool           `json:"requires_approval,omitempty" yaml:"requires_approval"`
	Successors       []string       `json:"successors,omitempty"        yaml:"successors"`
	Branches         []string       `json:"branches,omitempty"          yaml:"branches"`
	NextSteps        []string       `json:"next_steps,omitempty"        yaml:"next_steps"`
	AgentID          string         `json:"agent_id,omitempty"          yaml:"agent_id"`
	Condition        string         `json:"condition,omitempty"         yaml:"condition"`
	Parameters       map[string]any `json:"parameters,omitempty"        yaml:"parameters"`
}

type TriggerRequest struct {
	ID         string         `json:"id"                   yaml:"id"         validate:"required"`
	Type       string         `json:"type"                 yaml:"type"       validate:"required"`
	Condition  string         `json:"condition,omitempty"  yaml:"condition"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters"`
}

type SetActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type ExecuteRequest struct {
	Input       map[string]any `json:"input,omitempty"`
	AutoApprove bool           `json:"auto_approve"`
	Stream      bool           `json:"stream"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ApprovalRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Approver string `json:"approver,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// ToDefinition converts the request into a definition owned by owner.
// Workflows are active unless the request says otherwise.
func (r *CreateWorkflowRequest) ToDefinition(owner string) (*models.WorkflowDefinition, error) {
	def := &models.WorkflowDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Owner:       owner,
		IsActive:    r.IsActive == nil || *r.IsActive,
		InputSchema: r.InputSchema,
		Steps:       make([]*models.Step, 0, len(r.Steps)),
		Triggers:    make([]*models.Trigger, 0, len(r.Triggers)),
	}

	for i := range r.Steps {
		step, err := r.Steps[i].ToStep()
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}

		def.Steps = append(def.Steps, step)
	}

	for _, trigger := range r.Triggers {
		def.Triggers = append(def.Triggers, &models.Trigger{
			ID:         trigger.ID,
			Type:       models.TriggerType(trigger.Type),
			Condition:  trigger.Condition,
			Parameters: trigger.Parameters,
		})
	}

	return def, nil
}

// ToStep builds the typed step. next_steps become branches of parallel and
// sequential steps and successors of every other type.
func (r *StepRequest) ToStep() (*models.Step, error) {
	step := &models.Step{
		ID:               r.ID,
		Name:             r.Name,
		Type:             models.StepType(r.Type),
		RequiresApproval: r.RequiresApproval,
		Successors:       slices.Clone(r.Successors),
		Branches:         slices.Clone(r.Branches),
	}

	if step.IsFanOut() {
		step.Branches = append(step.Branches, r.NextSteps...)
	} else {
		step.Successors = append(step.Successors, r.NextSteps...)
	}

	var err error

	switch step.Type {
	case models.StepTypeAgentTask:
		step.AgentTask, err = r.agentTask()
	case models.StepTypeCondition:
		step.Condition, err = r.condition()
	case models.StepTypeHumanApproval:
		step.Approval = &models.ApprovalConfig{}
		err = decodeParameters(r.Parameters, step.Approval)
	case models.StepTypeDelay:
		step.Delay = r.delay()
	case models.StepTypeWebhook:
		step.Webhook = &models.WebhookConfig{}
		err = decodeParameters(r.Parameters, step.Webhook)
	case models.StepTypeParallel, models.StepTypeSequential:
	}

	if err != nil {
		return nil, fmt.Errorf("invalid parameters for step %q: %w", r.ID, err)
	}

	return step, nil
}

func (r *StepRequest) agentTask() (*models.AgentTaskConfig, error) {
	config := &models.AgentTaskConfig{}
	if err := decodeParameters(r.Parameters, config); err != nil {
		return nil, err
	}

	if r.AgentID != "" {
		config.AgentID = r.AgentID
	}

	if len(config.Parameters) == 0 {
		config.Parameters = nil
	}

	return config, nil
}

func (r *StepRequest) condition() (*models.ConditionConfig, error) {
	config := &models.ConditionConfig{}
	if err := decodeParameters(r.Parameters, config); err != nil {
		return nil, err
	}

	if r.Condition != "" {
		config.Expression = r.Condition
	}

	return config, nil
}

// delay falls back to the default duration when delayMs is not numeric.
func (r *StepRequest) delay() *models.DelayConfig {
	config := &models.DelayConfig{}
	if err := decodeParameters(r.Parameters, config); err != nil {
		config.DelayMs = models.DefaultDelayMs
	}

	return config
}

// decodeParameters applies the struct defaults and then decodes the loose
// parameters on top, coercing "50" and 50.0 alike into numeric fields.
func decodeParameters(parameters map[string]any, target any) error {
	if err := defaults.Set(target); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	if len(parameters) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	return decoder.Decode(parameters)
}
