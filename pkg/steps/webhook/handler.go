// Package webhook implements fire-and-acknowledge webhook steps.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// Handler posts the step payload when a URL is configured and acknowledges
// locally otherwise.
type Handler struct {
	client *resty.Client
}

func NewHandler(client *resty.Client) *Handler {
	if client == nil {
		client = resty.New().SetTimeout(defaultTimeout)
	}

	return &Handler{client: client}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeWebhook
}

func (h *Handler) Describe() models.StepTypeInfo {
	return models.StepTypeInfo{
		Type:        models.StepTypeWebhook,
		Name:        "Webhook",
		Description: "Sends the step payload to an external endpoint",
		Schema: &models.JSONSchema{
			Type: "object",
			Properties: map[string]*models.Property{
				"webhook_type": {Type: "string", Default: models.DefaultWebhookType},
				"url":          {Type: "string"},
				"payload":      {Type: "object"},
			},
		},
	}
}

type delivery struct {
	WebhookType string         `json:"webhook_type"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, run protocol.RunContext) (models.StepOutput, error) {
	output := &models.WebhookOutput{
		Type:        models.OutputTypeWebhook,
		WebhookType: step.WebhookType(),
		Status:      models.WebhookStatusSent,
	}

	if step.Webhook == nil || step.Webhook.URL == "" {
		output.Timestamp = time.Now().UTC()
		output.Response = models.WebhookResponse{Success: true, Message: "Webhook acknowledged"}

		return output, nil
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(delivery{
			WebhookType: output.WebhookType,
			WorkflowID:  run.WorkflowID(),
			ExecutionID: run.ExecutionID(),
			StepID:      step.ID,
			Payload:     step.Webhook.Payload,
		}).
		Post(step.Webhook.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery to %s failed: %w", step.Webhook.URL, err)
	}

	output.Timestamp = time.Now().UTC()
	output.Response = models.WebhookResponse{
		Success:    !resp.IsError(),
		Message:    resp.Status(),
		StatusCode: resp.StatusCode(),
	}

	return output, nil
}
