// Package agent provides executors for agent_task steps.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-resty/resty/v2"

	"github.com/dukex/stepflow/pkg/protocol"
)

var ErrAgentService = errors.New("agent service error")

// ServiceError carries the status and message returned by a failing agent service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("agent service responded %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrAgentService
}

// HTTPConfig configures the HTTP agent executor.
type HTTPConfig struct {
	BaseURL     string        `default:"http://localhost:8090"`
	Timeout     time.Duration `default:"2m"`
	MaxRetries  int           `default:"2"`
	RetryWaitMS int           `default:"200"`
}

// HTTPExecutor calls a remote agent execution service over HTTP.
type HTTPExecutor struct {
	client *resty.Client
	logger *slog.Logger
}

func NewHTTPExecutor(config HTTPConfig, logger *slog.Logger) (*HTTPExecutor, error) {
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply agent client defaults: %w", err)
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(time.Duration(config.RetryWaitMS)*time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &HTTPExecutor{
		client: client,
		logger: logger.With("module", "agent_http_executor"),
	}, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, request protocol.AgentRequest) (*protocol.AgentResponse, error) {
	result := &protocol.AgentResponse{}
	failure := &errorBody{}

	resp, err := e.client.R().
		SetContext(ctx).
		SetPathParam("agentId", request.AgentID).
		SetBody(request).
		SetResult(result).
		SetError(failure).
		Post("/agents/{agentId}/execute")
	if err != nil {
		return nil, fmt.Errorf("agent service request failed: %w", err)
	}

	if resp.IsError() {
		message := failure.Message
		if message == "" {
			message = failure.Error
		}

		if message == "" {
			message = resp.Status()
		}

		e.logger.WarnContext(ctx, "Agent service returned an error",
			"agent_id", request.AgentID,
			"status_code", resp.StatusCode())

		return nil, &ServiceError{StatusCode: resp.StatusCode(), Message: message}
	}

	return result, nil
}
