package models

// StepType is the discriminator of the step tagged union.
type StepType string

const (
	StepTypeAgentTask     StepType = "agent_task"
	StepTypeCondition     StepType = "condition"
	StepTypeParallel      StepType = "parallel"
	StepTypeSequential    StepType = "sequential"
	StepTypeHumanApproval StepType = "human_approval"
	StepTypeDelay         StepType = "delay"
	StepTypeWebhook       StepType = "webhook"
)

// StepTypes lists every supported step type.
var StepTypes = []StepType{
	StepTypeAgentTask,
	StepTypeCondition,
	StepTypeParallel,
	StepTypeSequential,
	StepTypeHumanApproval,
	StepTypeDelay,
	StepTypeWebhook,
}

// DefaultDelayMs is used when a delay step does not carry a usable duration.
const DefaultDelayMs int64 = 1000

// DefaultWebhookType tags webhook steps that do not name their kind.
const DefaultWebhookType = "generic"

// Step is a single typed unit of work. Exactly one of the per-type config
// pointers matching Type is meaningful.
//
// Successors are visited by the orchestrator after the step completes.
// Branches are the fan-out targets owned by parallel and sequential steps.
type Step struct {
	ID               string   `json:"id"                   validate:"required"`
	Name             string   `json:"name"                 validate:"required"`
	Type             StepType `json:"type"                 validate:"required,oneof=agent_task condition parallel sequential human_approval delay webhook"`
	RequiresApproval bool     `json:"requires_approval"`
	Successors       []string `json:"successors,omitempty"`
	Branches         []string `json:"branches,omitempty"`

	AgentTask *AgentTaskConfig `json:"agent_task,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Approval  *ApprovalConfig  `json:"approval,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Webhook   *WebhookConfig   `json:"webhook,omitempty"`
}

// AgentTaskConfig configures an agent_task step.
type AgentTaskConfig struct {
	AgentID     string         `json:"agent_id"              mapstructure:"agentId"`
	Instruction string         `json:"instruction,omitempty" mapstructure:"instruction"`
	Parameters  map[string]any `json:"parameters,omitempty"  mapstructure:",remain"`
}

// ConditionConfig configures a condition step.
type ConditionConfig struct {
	Expression string `json:"expression" mapstructure:"expression"`
}

// ApprovalConfig configures a human_approval gate.
type ApprovalConfig struct {
	Message   string   `json:"message,omitempty"   mapstructure:"message"`
	Approvers []string `json:"approvers,omitempty" mapstructure:"approvers"`
}

// DelayConfig configures a delay step.
type DelayConfig struct {
	DelayMs int64 `json:"delay_ms" mapstructure:"delayMs" default:"1000"`
}

// WebhookConfig configures a webhook step. Without URL the webhook is only
// acknowledged locally.
type WebhookConfig struct {
	WebhookType string         `json:"webhook_type"      mapstructure:"webhook_type" default:"generic"`
	URL         string         `json:"url,omitempty"     mapstructure:"url"`
	Payload     map[string]any `json:"payload,omitempty" mapstructure:"payload"`
}

// IsFanOut reports whether the step dispatches its Branches itself.
func (s *Step) IsFanOut() bool {
	return s.Type == StepTypeParallel || s.Type == StepTypeSequential
}

// Edges returns every step id the step can lead to, branches first.
func (s *Step) Edges() []string {
	edges := make([]string, 0, len(s.Branches)+len(s.Successors))
	edges = append(edges, s.Branches...)
	edges = append(edges, s.Successors...)

	return edges
}

// AgentID returns the configured agent or an empty string.
func (s *Step) AgentID() string {
	if s.AgentTask == nil {
		return ""
	}

	return s.AgentTask.AgentID
}

// ConditionExpression returns the configured expression or an empty string.
func (s *Step) ConditionExpression() string {
	if s.Condition == nil {
		return ""
	}

	return s.Condition.Expression
}

// DelayDuration returns the configured delay in milliseconds, falling back to
// DefaultDelayMs.
func (s *Step) DelayDuration() int64 {
	if s.Delay == nil || s.Delay.DelayMs <= 0 {
		return DefaultDelayMs
	}

	return s.Delay.DelayMs
}

// WebhookType returns the webhook tag, falling back to DefaultWebhookType.
func (s *Step) WebhookType() string {
	if s.Webhook == nil || s.Webhook.WebhookType == "" {
		return DefaultWebhookType
	}

	return s.Webhook.WebhookType
}
