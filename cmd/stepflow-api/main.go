package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/otelhelper"
)

const (
	defaultPort             = 9091
	defaultExecutionTimeout = 5 * time.Minute
	defaultRateLimit        = 20
)

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Create, run and approve workflows over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (memory://, file://path, postgres://..., redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "agent-service-url",
				Usage:   "Base URL of the agent service; empty runs agents locally",
				Sources: cli.EnvVars("AGENT_SERVICE_URL"),
			},
			&cli.DurationFlag{
				Name:    "execution-timeout",
				Usage:   "Wall-clock ceiling for a single run",
				Value:   defaultExecutionTimeout,
				Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "rate-limit",
				Usage:   "Executions allowed per caller per minute, 0 disables the limit",
				Value:   defaultRateLimit,
				Sources: cli.EnvVars("EXECUTION_RATE_LIMIT"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often schedule triggers are checked",
				Value:   time.Minute,
				Sources: cli.EnvVars("TRIGGER_POLL_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stepflow API")

			config := Config{
				ExecutionTimeout: command.Duration("execution-timeout"),
				RateLimit:        command.Int("rate-limit"),
				PollInterval:     command.Duration("poll-interval"),
			}

			if command.Bool("otel") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "stepflow-api")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
					}
				}()

				config.Tracer = tracer
			}

			executor, err := cmd.NewAgentExecutor(command.String("agent-service-url"), config.ExecutionTimeout, logger)
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, executor)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, registry, eventBus, config)

			return api.Start(ctx, command.Int("port"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		logger.Error("Stepflow API stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
