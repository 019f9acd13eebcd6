// Package approval implements human approval gates.
package approval

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// Handler approves immediately when the run auto-approves and otherwise
// suspends the run until a decision is submitted.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeHumanApproval
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeHumanApproval,
		Name:        "Human approval",
		Description: "Pauses the run until a person approves or rejects it",
		Schema: &models.JSONSchema{
			Type: "object",
			Properties: map[string]*models.Property{
				"message":   {Type: "string"},
				"approvers": {Type: "array", Items: &models.Property{Type: "string"}},
			},
		},
	}
}

func (h *Handler) Execute(_ context.Context, _ *models.Step, run protocol.RunContext) (models.StepOutput, error) {
	if !run.AutoApprove() {
		return nil, protocol.ErrSuspend
	}

	return &models.ApprovalOutput{
		Type:         models.OutputTypeHumanApproval,
		Approved:     true,
		AutoApproved: true,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Decide builds the output recorded when a waiting gate is resolved.
func Decide(decision models.ApprovalDecision) *models.ApprovalOutput {
	return &models.ApprovalOutput{
		Type:      models.OutputTypeHumanApproval,
		Approved:  decision.Approved,
		Approver:  decision.Approver,
		Comment:   decision.Comment,
		Timestamp: time.Now().UTC(),
	}
}
