package protocol

import "context"

// AgentRequest is sent to the agent execution service for an agent_task step.
type AgentRequest struct {
	AgentID     string         `json:"agent_id"`
	Instruction string         `json:"instruction"`
	AutoApprove bool           `json:"auto_approve"`
	Metadata    map[string]any `json:"metadata"`
}

// AgentResponse is the agent execution service answer.
type AgentResponse struct {
	ExecutionID string `json:"execution_id"`
	Result      any    `json:"result"`
	Status      string `json:"status"`
}

// AgentExecutor runs an agent to completion.
type AgentExecutor interface {
	Execute(ctx context.Context, request AgentRequest) (*AgentResponse, error)
}
