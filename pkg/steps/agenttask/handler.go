// Package agenttask delegates agent_task steps to an agent execution service.
package agenttask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// RecentOutputCount is how many prior step outputs are handed to the agent.
const RecentOutputCount = 3

var ErrMissingAgentID = errors.New("agent_task step requires an agent id")

type Handler struct {
	executor protocol.AgentExecutor
}

func NewHandler(executor protocol.AgentExecutor) *Handler {
	return &Handler{executor: executor}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeAgentTask
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeAgentTask,
		Name:        "Agent task",
		Description: "Runs an agent with an instruction built from the step parameters and recent step outputs",
		Schema: &models.JSONSchema{
			Type:     "object",
			Required: []string{"agentId"},
			Properties: map[string]*models.Property{
				"agentId":     {Type: "string", Description: "Agent to run"},
				"instruction": {Type: "string", Description: "Instruction sent to the agent"},
			},
		},
	}
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, run protocol.RunContext) (models.StepOutput, error) {
	if step.AgentID() == "" {
		return nil, ErrMissingAgentID
	}

	instruction, err := BuildInstruction(step, run.RecentOutputs(RecentOutputCount))
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]any, len(run.Metadata())+3)
	maps.Copy(metadata, run.Metadata())
	metadata["workflowId"] = run.WorkflowID()
	metadata["executionId"] = run.ExecutionID()
	metadata["stepId"] = step.ID

	response, err := h.executor.Execute(ctx, protocol.AgentRequest{
		AgentID:     step.AgentID(),
		Instruction: instruction,
		AutoApprove: run.AutoApprove() && !step.RequiresApproval,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s failed: %w", step.AgentID(), err)
	}

	return &models.AgentExecutionOutput{
		Type:        models.OutputTypeAgentExecution,
		AgentID:     step.AgentID(),
		ExecutionID: response.ExecutionID,
		Result:      response.Result,
		Status:      response.Status,
	}, nil
}

// BuildInstruction synthesizes the agent instruction from the step config and
// the given prior outputs.
func BuildInstruction(step *models.Step, recent []models.StepOutput) (string, error) {
	var builder strings.Builder

	instruction := ""
	if step.AgentTask != nil {
		instruction = strings.TrimSpace(step.AgentTask.Instruction)
	}

	if instruction == "" {
		instruction = "Execute workflow step: " + step.Name
	}

	builder.WriteString(instruction)

	if step.AgentTask != nil && len(step.AgentTask.Parameters) > 0 {
		params, err := json.Marshal(step.AgentTask.Parameters)
		if err != nil {
			return "", fmt.Errorf("failed to encode step parameters: %w", err)
		}

		builder.WriteString("\n\nParameters: ")
		builder.Write(params)
	}

	if len(recent) > 0 {
		previous, err := json.Marshal(recent)
		if err != nil {
			return "", fmt.Errorf("failed to encode previous results: %w", err)
		}

		builder.WriteString("\n\nPrevious results: ")
		builder.Write(previous)
	}

	return builder.String(), nil
}
