package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/memory"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/stream"
	"github.com/dukex/stepflow/pkg/workflow"
)

var (
	errExecutionFailed = errors.New("execution failed")
	errInvalidWorkflow = errors.New("invalid workflow")
)

func validateWorkflow(w io.Writer, path string) error {
	definition, err := loadDefinition(path)
	if err != nil {
		return err
	}

	fieldErrors := models.ValidateDefinition(definition)
	if len(fieldErrors) > 0 {
		for _, fieldErr := range fieldErrors {
			fmt.Fprintf(w, "  %s\n", fieldErr.Error())
		}

		return fmt.Errorf("%w %s: %d problem(s)", errInvalidWorkflow, definition.ID, len(fieldErrors))
	}

	fmt.Fprintf(w, "workflow %s is valid (%d steps, %d triggers)\n", definition.ID, len(definition.Steps), len(definition.Triggers))

	return nil
}

type runOptions struct {
	Path            string
	Input           map[string]any
	AutoApprove     bool
	Stream          bool
	AgentServiceURL string
}

// runWorkflow executes a workflow file once against an in-memory store and
// writes the result as JSON. Streams are written one event per line.
func runWorkflow(ctx context.Context, w io.Writer, logger *slog.Logger, opts runOptions) (*models.WorkflowExecution, error) {
	definition, err := loadDefinition(opts.Path)
	if err != nil {
		return nil, err
	}

	executor, err := cmd.NewAgentExecutor(opts.AgentServiceURL, 0, logger)
	if err != nil {
		return nil, err
	}

	store := memory.NewPersistence()
	orchestrator := workflow.NewOrchestrator(
		cmd.NewRegistry(logger, executor),
		logger,
		workflow.WithExecutionRepository(store.Executions()),
	)

	created, err := services.NewWorkflow(store, logger).Create(ctx, definition)
	if err != nil {
		return nil, err
	}

	executions := services.NewExecution(store, orchestrator, logger)
	req := services.ExecuteRequest{Input: opts.Input, AutoApprove: opts.AutoApprove}

	if opts.Stream {
		return streamRun(ctx, w, executions, created.ID, req)
	}

	response, err := executions.Execute(ctx, cliOwner, created.ID, req)
	if err != nil {
		return nil, err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(response); err != nil {
		return nil, err
	}

	return response.Execution, outcome(response.Execution)
}

func streamRun(ctx context.Context, w io.Writer, executions *services.Execution, workflowID string, req services.ExecuteRequest) (*models.WorkflowExecution, error) {
	events, err := executions.ExecuteStream(ctx, cliOwner, workflowID, req)
	if err != nil {
		return nil, err
	}

	encoder := json.NewEncoder(w)

	var last stream.Event

	for event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, err
		}

		last = event
	}

	if last.Type == stream.EventExecutionFailed {
		return last.Execution, fmt.Errorf("%w: %s", errExecutionFailed, last.Error)
	}

	return last.Execution, nil
}

func outcome(exec *models.WorkflowExecution) error {
	if exec.Status != models.ExecutionStatusFailed {
		return nil
	}

	if exec.Error != nil {
		return fmt.Errorf("%w at step %s: %s", errExecutionFailed, exec.Error.StepID, exec.Error.Message)
	}

	return errExecutionFailed
}

func parseInput(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}

	return input, nil
}

func listStepTypes(w io.Writer, logger *slog.Logger) error {
	executor, err := cmd.NewAgentExecutor("", 0, logger)
	if err != nil {
		return err
	}

	for _, info := range cmd.NewRegistry(logger, executor).Describe() {
		fmt.Fprintf(w, "%-16s %s\n", info.Type, info.Description)
	}

	return nil
}
