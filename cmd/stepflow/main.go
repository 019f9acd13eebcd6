package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/stepflow/pkg/log"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "stepflow",
		Usage:                 "Validate and run workflow definitions locally",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.SetupWriter(command.Root().ErrWriter, command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:    "validate",
				Aliases: []string{"v"},
				Usage:   "Check a workflow definition without running it",
				Flags:   []cli.Flag{fileFlag()},
				Action: func(_ context.Context, command *cli.Command) error {
					return validateWorkflow(command.Root().Writer, command.String("file"))
				},
			},
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Run a workflow definition once and print the execution",
				Flags: []cli.Flag{
					fileFlag(),
					&cli.StringFlag{
						Name:  "input",
						Usage: "Run input as a JSON object",
					},
					&cli.BoolFlag{
						Name:  "auto-approve",
						Usage: "Approve human approval steps automatically",
					},
					&cli.BoolFlag{
						Name:  "stream",
						Usage: "Print lifecycle events as JSON lines",
					},
					&cli.StringFlag{
						Name:    "agent-service-url",
						Usage:   "Base URL of the agent service; empty runs agents locally",
						Sources: cli.EnvVars("AGENT_SERVICE_URL"),
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					input, err := parseInput(command.String("input"))
					if err != nil {
						return err
					}

					_, err = runWorkflow(ctx, command.Root().Writer, log.WithModule("cli"), runOptions{
						Path:            command.String("file"),
						Input:           input,
						AutoApprove:     command.Bool("auto-approve"),
						Stream:          command.Bool("stream"),
						AgentServiceURL: command.String("agent-service-url"),
					})

					return err
				},
			},
			{
				Name:  "step-types",
				Usage: "List the registered step types",
				Action: func(_ context.Context, command *cli.Command) error {
					return listStepTypes(command.Root().Writer, log.WithModule("cli"))
				},
			},
		},
	}
}

func fileFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Workflow definition file (YAML or JSON)",
		Required: true,
	}
}
