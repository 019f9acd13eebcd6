package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Output type tags, one per step type.
const (
	OutputTypeAgentExecution      = "agent_execution"
	OutputTypeConditionEvaluation = "condition_evaluation"
	OutputTypeParallelExecution   = "parallel_execution"
	OutputTypeSequentialExecution = "sequential_execution"
	OutputTypeHumanApproval       = "human_approval"
	OutputTypeDelay               = "delay"
	OutputTypeWebhook             = "webhook"
)

// Branch outcome statuses reported by parallel steps.
const (
	BranchFulfilled = "fulfilled"
	BranchRejected  = "rejected"
)

// WebhookStatusSent is the only status a webhook step reports.
const WebhookStatusSent = "sent"

// StepOutput is the type-tagged, JSON-serializable value a step handler produces.
type StepOutput interface {
	OutputType() string
}

type AgentExecutionOutput struct {
	Type        string `json:"type"`
	AgentID     string `json:"agent_id"`
	ExecutionID string `json:"execution_id"`
	Result      any    `json:"result"`
	Status      string `json:"status"`
}

func (o *AgentExecutionOutput) OutputType() string { return OutputTypeAgentExecution }

type ConditionOutput struct {
	Type      string    `json:"type"`
	Condition string    `json:"condition"`
	Result    bool      `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

func (o *ConditionOutput) OutputType() string { return OutputTypeConditionEvaluation }

// BranchOutcome is the settled result of one parallel branch.
type BranchOutcome struct {
	StepID string     `json:"step_id"`
	Status string     `json:"status"`
	Value  StepOutput `json:"value,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type ParallelOutput struct {
	Type    string          `json:"type"`
	Results []BranchOutcome `json:"results"`
}

func (o *ParallelOutput) OutputType() string { return OutputTypeParallelExecution }

// Rejected counts the branches that failed.
func (o *ParallelOutput) Rejected() int {
	count := 0

	for _, result := range o.Results {
		if result.Status == BranchRejected {
			count++
		}
	}

	return count
}

// SequentialEntry is the result of one step of a sequential fan-out.
type SequentialEntry struct {
	StepID string     `json:"step_id"`
	Result StepOutput `json:"result"`
}

type SequentialOutput struct {
	Type    string            `json:"type"`
	Results []SequentialEntry `json:"results"`
}

func (o *SequentialOutput) OutputType() string { return OutputTypeSequentialExecution }

type ApprovalOutput struct {
	Type         string    `json:"type"`
	Approved     bool      `json:"approved"`
	AutoApproved bool      `json:"auto_approved"`
	Approver     string    `json:"approver,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (o *ApprovalOutput) OutputType() string { return OutputTypeHumanApproval }

type DelayOutput struct {
	Type      string    `json:"type"`
	DelayMs   int64     `json:"delay_ms"`
	Timestamp time.Time `json:"timestamp"`
}

func (o *DelayOutput) OutputType() string { return OutputTypeDelay }

// WebhookResponse acknowledges a webhook dispatch.
type WebhookResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

type WebhookOutput struct {
	Type        string          `json:"type"`
	WebhookType string          `json:"webhook_type"`
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Response    WebhookResponse `json:"response"`
}

func (o *WebhookOutput) OutputType() string { return OutputTypeWebhook }

// DecodeStepOutput restores a concrete output from its JSON form using the
// "type" tag.
func DecodeStepOutput(raw json.RawMessage) (StepOutput, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var tag struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("failed to read output type: %w", err)
	}

	var output StepOutput

	switch tag.Type {
	case OutputTypeAgentExecution:
		output = &AgentExecutionOutput{}
	case OutputTypeConditionEvaluation:
		output = &ConditionOutput{}
	case OutputTypeParallelExecution:
		output = &ParallelOutput{}
	case OutputTypeSequentialExecution:
		output = &SequentialOutput{}
	case OutputTypeHumanApproval:
		output = &ApprovalOutput{}
	case OutputTypeDelay:
		output = &DelayOutput{}
	case OutputTypeWebhook:
		output = &WebhookOutput{}
	default:
		return nil, fmt.Errorf("unknown output type %q", tag.Type)
	}

	if err := json.Unmarshal(raw, output); err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", tag.Type, err)
	}

	return output, nil
}

func (r *StepResult) UnmarshalJSON(data []byte) error {
	type plain StepResult

	aux := struct {
		*plain

		Output json.RawMessage `json:"output,omitempty"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	output, err := DecodeStepOutput(aux.Output)
	if err != nil {
		return err
	}

	r.Output = output

	return nil
}

func (b *BranchOutcome) UnmarshalJSON(data []byte) error {
	type plain BranchOutcome

	aux := struct {
		*plain

		Value json.RawMessage `json:"value,omitempty"`
	}{plain: (*plain)(b)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	value, err := DecodeStepOutput(aux.Value)
	if err != nil {
		return err
	}

	b.Value = value

	return nil
}

func (e *SequentialEntry) UnmarshalJSON(data []byte) error {
	type plain SequentialEntry

	aux := struct {
		*plain

		Result json.RawMessage `json:"result"`
	}{plain: (*plain)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	result, err := DecodeStepOutput(aux.Result)
	if err != nil {
		return err
	}

	e.Result = result

	return nil
}
