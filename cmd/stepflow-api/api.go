// Package main provides the Stepflow API server implementation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/trigger"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/dukex/stepflow/pkg/workflow"
)

type Config struct {
	ExecutionTimeout time.Duration
	RateLimit        int
	PollInterval     time.Duration
	Tracer           trace.Tracer
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	config      Config

	workflows  *services.Workflow
	executions *services.Execution
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	config Config,
) *API {
	if config.Tracer == nil {
		config.Tracer = otelhelper.NoopTracer()
	}

	orchestrator := workflow.NewOrchestrator(
		registry,
		logger,
		workflow.WithExecutionRepository(persistence.Executions()),
		workflow.WithTracer(config.Tracer),
		workflow.WithObserver(services.NewStepEventPublisher(eventBus, logger)),
	)

	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		config:      config,
		workflows:   services.NewWorkflow(persistence, logger),
		executions:  services.NewExecution(persistence, orchestrator, logger, services.WithEventPublisher(eventBus)),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.executions, a.validate, a.registry, a.config.ExecutionTimeout, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	handlers.Mount(app, a.config.RateLimit)

	return app
}

// Dispatcher wires schedule and completion triggers to the execution service.
func (a *API) Dispatcher() (*trigger.Dispatcher, error) {
	var opts []trigger.Option
	if a.config.PollInterval > 0 {
		opts = append(opts, trigger.WithPollInterval(a.config.PollInterval))
	}

	dispatcher := trigger.NewDispatcher(a.persistence.Workflows(), a.executions, a.logger, opts...)

	if err := dispatcher.Subscribe(a.eventBus); err != nil {
		return nil, fmt.Errorf("failed to subscribe trigger dispatcher: %w", err)
	}

	return dispatcher, nil
}

func (a *API) Start(ctx context.Context, port int) error {
	dispatcher, err := a.Dispatcher()
	if err != nil {
		return err
	}

	if err := a.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trigger dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
