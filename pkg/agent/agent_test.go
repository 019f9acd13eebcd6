package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/protocol"
)

func TestHTTPExecutor_Execute(t *testing.T) {
	var received protocol.AgentRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agents/researcher/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"execution_id":"agent-exec-1","result":{"answer":42},"status":"completed"}`))
	}))
	defer server.Close()

	executor, err := NewHTTPExecutor(HTTPConfig{BaseURL: server.URL}, slog.Default())
	require.NoError(t, err)

	response, err := executor.Execute(context.Background(), protocol.AgentRequest{
		AgentID:     "researcher",
		Instruction: "find things",
		AutoApprove: true,
		Metadata:    map[string]any{"stepId": "A"},
	})
	require.NoError(t, err)

	assert.Equal(t, "agent-exec-1", response.ExecutionID)
	assert.Equal(t, "completed", response.Status)
	assert.Equal(t, map[string]any{"answer": float64(42)}, response.Result)
	assert.Equal(t, "find things", received.Instruction)
	assert.True(t, received.AutoApprove)
}

func TestHTTPExecutor_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"agent not found"}`))
	}))
	defer server.Close()

	executor, err := NewHTTPExecutor(HTTPConfig{BaseURL: server.URL}, slog.Default())
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), protocol.AgentRequest{AgentID: "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentService)

	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, http.StatusNotFound, serviceErr.StatusCode)
	assert.Equal(t, "agent not found", serviceErr.Message)
}

func TestLocalExecutor(t *testing.T) {
	echo := NewLocalExecutor(nil)

	response, err := echo.Execute(context.Background(), protocol.AgentRequest{AgentID: "a", Instruction: "do"})
	require.NoError(t, err)
	assert.NotEmpty(t, response.ExecutionID)
	assert.Equal(t, "completed", response.Status)
	assert.Equal(t, "do", response.Result.(map[string]any)["instruction"])

	failing := NewLocalExecutor(func(context.Context, protocol.AgentRequest) (any, error) {
		return nil, errors.New("model overloaded")
	})

	_, err = failing.Execute(context.Background(), protocol.AgentRequest{AgentID: "a"})
	assert.EqualError(t, err, "model overloaded")
}
