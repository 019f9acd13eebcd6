// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dukex/stepflow/pkg/agent"
	"github.com/dukex/stepflow/pkg/conditional"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/steps/agenttask"
	"github.com/dukex/stepflow/pkg/steps/approval"
	"github.com/dukex/stepflow/pkg/steps/condition"
	"github.com/dukex/stepflow/pkg/steps/delay"
	"github.com/dukex/stepflow/pkg/steps/parallel"
	"github.com/dukex/stepflow/pkg/steps/sequential"
	"github.com/dukex/stepflow/pkg/steps/webhook"
)

const webhookTimeout = 30 * time.Second

// NewAgentExecutor returns the HTTP agent client for serviceURL, or the
// in-process echo executor when no URL is configured.
func NewAgentExecutor(serviceURL string, timeout time.Duration, logger *slog.Logger) (protocol.AgentExecutor, error) {
	if serviceURL == "" {
		logger.Info("No agent service configured, using local agent executor")

		return agent.NewLocalExecutor(nil), nil
	}

	return agent.NewHTTPExecutor(agent.HTTPConfig{BaseURL: serviceURL, Timeout: timeout}, logger)
}

func registerNativeSteps(reg *registry.Registry, executor protocol.AgentExecutor) {
	reg.Register(agenttask.NewHandler(executor))
	reg.Register(condition.NewHandler(conditional.NewGatedEvaluator()))
	reg.Register(parallel.NewHandler())
	reg.Register(sequential.NewHandler())
	reg.Register(approval.NewHandler())
	reg.Register(delay.NewHandler())
	reg.Register(webhook.NewHandler(resty.New().SetTimeout(webhookTimeout)))
}

// NewRegistry returns a registry holding the seven native step handlers.
func NewRegistry(log *slog.Logger, executor protocol.AgentExecutor) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeSteps(reg, executor)

	return reg
}
