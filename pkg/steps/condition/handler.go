// Package condition evaluates condition steps.
package condition

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/conditional"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

var ErrMissingExpression = errors.New("condition step requires an expression")

type Handler struct {
	evaluator conditional.Evaluator
}

func NewHandler(evaluator conditional.Evaluator) *Handler {
	return &Handler{evaluator: evaluator}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeCondition
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeCondition,
		Name:        "Condition",
		Description: "Evaluates a boolean expression over the run input and previous step outputs",
		Schema: &models.JSONSchema{
			Type:     "object",
			Required: []string{"expression"},
			Properties: map[string]*models.Property{
				"expression": {Type: "string", Description: "Boolean expression, e.g. input.score > 5"},
			},
		},
	}
}

// Execute never fails on a bad expression: anything that cannot be evaluated is false.
func (h *Handler) Execute(ctx context.Context, step *models.Step, run protocol.RunContext) (models.StepOutput, error) {
	expression := step.ConditionExpression()
	if strings.TrimSpace(expression) == "" {
		return nil, ErrMissingExpression
	}

	result, err := h.evaluator.Evaluate(expression, Environment(run))
	if err != nil {
		run.Logger().DebugContext(ctx, "Condition evaluated to false",
			"step_id", step.ID,
			"expression", expression,
			"reason", err)

		result = false
	}

	return &models.ConditionOutput{
		Type:      models.OutputTypeConditionEvaluation,
		Condition: expression,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Environment exposes the run input as "input" and the completed step outputs,
// in their JSON shape, as "steps".
func Environment(run protocol.RunContext) map[string]any {
	steps := make(map[string]any)

	for stepID, output := range run.Outputs() {
		steps[stepID] = toPlain(output)
	}

	return map[string]any{
		"input": run.Input(),
		"steps": steps,
	}
}

func toPlain(output models.StepOutput) any {
	data, err := json.Marshal(output)
	if err != nil {
		return nil
	}

	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil
	}

	return plain
}
