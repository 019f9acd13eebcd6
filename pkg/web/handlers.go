// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/stream"
)

// CallerHeader carries the authenticated user id set by the upstream gateway.
const CallerHeader = "X-User-ID"

const callerKey = "caller"

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	registry         *registry.Registry
	executionTimeout time.Duration
	logger           *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	registry *registry.Registry,
	executionTimeout time.Duration,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		registry:         registry,
		executionTimeout: executionTimeout,
		logger:           logger.With("module", "web"),
	}
}

// Mount registers every API route on router. Executions are limited to
// rateLimit requests per caller per minute; zero disables the limit.
func (h *APIHandlers) Mount(router fiber.Router, rateLimit int) {
	router.Get("/", h.Root)
	router.Get("/health", h.HealthCheck)
	router.Get("/step-types", h.GetStepTypes)

	workflows := router.Group("/workflows", RequireCaller)
	workflows.Get("/", h.GetWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:id", h.GetWorkflow)
	workflows.Patch("/:id/active", h.SetWorkflowActive)
	workflows.Get("/:id/executions", h.GetWorkflowExecutions)

	if rateLimit > 0 {
		workflows.Post("/:id/execute", limiter.New(limiter.Config{
			Max:          rateLimit,
			Expiration:   time.Minute,
			KeyGenerator: Caller,
			LimitReached: tooManyRequests,
		}), h.ExecuteWorkflow)
	} else {
		workflows.Post("/:id/execute", h.ExecuteWorkflow)
	}

	executions := router.Group("/executions", RequireCaller)
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/approval", h.ApproveExecution)
}

// RequireCaller rejects requests without a caller identity.
func RequireCaller(c fiber.Ctx) error {
	caller := strings.TrimSpace(c.Get(CallerHeader))
	if caller == "" {
		return unauthorized(c, "missing "+CallerHeader+" header")
	}

	// Header values point into a buffer fasthttp reuses after the handler returns.
	c.Locals(callerKey, strings.Clone(caller))

	return c.Next()
}

// Caller returns the identity stored by RequireCaller.
func Caller(c fiber.Ctx) string {
	caller, _ := c.Locals(callerKey).(string)

	return caller
}

func (h *APIHandlers) Root(c fiber.Ctx) error {
	return c.SendString("Stepflow API")
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetStepTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"step_types": h.registry.Describe()})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.workflowService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}

func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{
		Owner:  Caller(c),
		Search: c.Query("q"),
		Cursor: c.Query("cursor"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.Active = &active
	}

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchOwned(c.Context(), Caller(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return invalidFields(c, services.ErrInvalidRequest.Error(), requestErrors(err))
	}

	definition, err := req.ToDefinition(Caller(c))
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) SetWorkflowActive(c fiber.Ctx) error {
	var req SetActiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return invalidFields(c, services.ErrInvalidRequest.Error(), requestErrors(err))
	}

	updated, err := h.workflowService.SetActive(c.Context(), Caller(c), c.Params("id"), *req.IsActive)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	caller := Caller(c)
	workflowID := strings.Clone(c.Params("id"))
	serviceReq := services.ExecuteRequest{
		Input:       req.Input,
		AutoApprove: req.AutoApprove,
		Metadata:    req.Metadata,
	}

	if req.Stream {
		return h.streamExecution(c, caller, workflowID, serviceReq)
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.executionTimeout)
	defer cancel()

	response, err := h.executionService.Execute(ctx, caller, workflowID, serviceReq)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(response)
}

// streamExecution answers with server-sent events, one per lifecycle event.
// The run outlives the handler, so it gets its own deadline.
func (h *APIHandlers) streamExecution(c fiber.Ctx, caller, workflowID string, req services.ExecuteRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.executionTimeout)

	events, err := h.executionService.ExecuteStream(ctx, caller, workflowID, req)
	if err != nil {
		cancel()

		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		h.relay(w, events)
	})
}

// relay writes events as server-sent events until the stream closes. A client
// that disconnects stops the writes but not the run: events keep being drained
// so the run context is only released once the run settled.
func (h *APIHandlers) relay(w *bufio.Writer, events <-chan stream.Event) {
	connected := true

	for event := range events {
		if !connected {
			continue
		}

		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to encode stream event", "error", err, "type", event.Type)

			continue
		}

		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)

		if err := w.Flush(); err != nil {
			h.logger.Info("Stream client disconnected", "execution_id", event.ExecutionID)

			connected = false
		}
	}
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		limit = parsed
	}

	executions, err := h.executionService.ListByWorkflow(c.Context(), Caller(c), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), Caller(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ApproveExecution(c fiber.Ctx) error {
	var req ApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return invalidFields(c, services.ErrInvalidRequest.Error(), requestErrors(err))
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.executionTimeout)
	defer cancel()

	response, err := h.executionService.Resume(ctx, Caller(c), c.Params("id"), models.ApprovalDecision{
		Approved: *req.Approved,
		Approver: req.Approver,
		Comment:  req.Comment,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(response)
}
