package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/agent"
	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/web"
)

func setupTestAPI(t *testing.T) (*API, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())

	bus, err := cmd.NewEventBus("gochannel", logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	api := NewAPI(logger, store, cmd.NewRegistry(logger, agent.NewLocalExecutor(nil)), bus, Config{
		ExecutionTimeout: 5 * time.Second,
		RateLimit:        10,
	})

	return api, store
}

func post(t *testing.T, app *fiber.App, path string, body any) (int, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.CallerHeader, "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))

	return resp.StatusCode, decoded
}

func TestAPI_RootEndpoint(t *testing.T) {
	api, _ := setupTestAPI(t)

	resp, err := api.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Stepflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	api, _ := setupTestAPI(t)
	app := api.App()

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestAPI_CreateAndExecute(t *testing.T) {
	api, store := setupTestAPI(t)
	app := api.App()

	status, created := post(t, app, "/workflows", map[string]any{
		"name": "Fan out",
		"steps": []map[string]any{
			{"id": "fan", "name": "Fan", "type": "parallel", "next_steps": []string{"a", "b"}},
			{"id": "a", "name": "Agent", "type": "agent_task", "agent_id": "writer"},
			{"id": "b", "name": "Wait", "type": "delay", "parameters": map[string]any{"delayMs": 10}},
		},
	})
	require.Equal(t, http.StatusCreated, status, created)

	status, response := post(t, app, "/workflows/"+created["id"].(string)+"/execute", map[string]any{})
	require.Equal(t, http.StatusOK, status, response)

	exec, ok := response["execution"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(models.ExecutionStatusCompleted), exec["status"])

	stored, err := store.Executions().GetByID(t.Context(), exec["id"].(string))
	require.NoError(t, err)

	output, ok := stored.StepResults["fan"].Output.(*models.ParallelOutput)
	require.True(t, ok)
	assert.Len(t, output.Results, 2)
	assert.Zero(t, output.Rejected())
}

func TestAPI_CompletionTriggerStartsDownstream(t *testing.T) {
	api, store := setupTestAPI(t)
	app := api.App()

	dispatcher, err := api.Dispatcher()
	require.NoError(t, err)
	require.NoError(t, api.eventBus.Subscribe(t.Context()))

	status, upstream := post(t, app, "/workflows", map[string]any{
		"id":    "upstream",
		"name":  "Upstream",
		"steps": []map[string]any{{"id": "d", "name": "Wait", "type": "delay", "parameters": map[string]any{"delayMs": 1}}},
	})
	require.Equal(t, http.StatusCreated, status, upstream)

	status, downstream := post(t, app, "/workflows", map[string]any{
		"id":    "downstream",
		"name":  "Downstream",
		"steps": []map[string]any{{"id": "d", "name": "Wait", "type": "delay", "parameters": map[string]any{"delayMs": 1}}},
		"triggers": []map[string]any{
			{"id": "after-upstream", "type": "completion", "parameters": map[string]any{"workflow_id": "upstream"}},
		},
	})
	require.Equal(t, http.StatusCreated, status, downstream)
	require.NoError(t, dispatcher.Sync(t.Context()))

	status, response := post(t, app, "/workflows/upstream/execute", map[string]any{})
	require.Equal(t, http.StatusOK, status, response)

	assert.Eventually(t, func() bool {
		executions, err := store.Executions().ListByWorkflow(t.Context(), "downstream", 0)

		return err == nil && len(executions) == 1 && executions[0].Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}
