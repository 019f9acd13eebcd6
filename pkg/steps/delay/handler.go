// Package delay pauses a run for a fixed duration.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeDelay
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeDelay,
		Name:        "Delay",
		Description: "Waits for a fixed number of milliseconds",
		Schema: &models.JSONSchema{
			Type: "object",
			Properties: map[string]*models.Property{
				"delayMs": {Type: "integer", Default: models.DefaultDelayMs},
			},
		},
	}
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, _ protocol.RunContext) (models.StepOutput, error) {
	delayMs := step.DelayDuration()

	timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	return &models.DelayOutput{
		Type:      models.OutputTypeDelay,
		DelayMs:   delayMs,
		Timestamp: time.Now().UTC(),
	}, nil
}
