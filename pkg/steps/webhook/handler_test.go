package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/testutil"
)

func TestHandler_LocalAcknowledge(t *testing.T) {
	step := &models.Step{ID: "w", Name: "w", Type: models.StepTypeWebhook}

	output, err := NewHandler(nil).Execute(context.Background(), step, testutil.NewFakeRun())
	require.NoError(t, err)

	webhook, ok := output.(*models.WebhookOutput)
	require.True(t, ok)
	assert.Equal(t, models.DefaultWebhookType, webhook.WebhookType)
	assert.Equal(t, models.WebhookStatusSent, webhook.Status)
	assert.True(t, webhook.Response.Success)
}

func TestHandler_Delivers(t *testing.T) {
	var received delivery

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	step := testutil.CreateTestStep("w", testutil.AsWebhook("slack", server.URL))
	step.Webhook.Payload = map[string]any{"text": "hello"}

	output, err := NewHandler(nil).Execute(context.Background(), step, testutil.NewFakeRun())
	require.NoError(t, err)

	webhook := output.(*models.WebhookOutput)
	assert.True(t, webhook.Response.Success)
	assert.Equal(t, http.StatusAccepted, webhook.Response.StatusCode)
	assert.Equal(t, "slack", webhook.WebhookType)

	assert.Equal(t, "slack", received.WebhookType)
	assert.Equal(t, "exec-test", received.ExecutionID)
	assert.Equal(t, "w", received.StepID)
	assert.Equal(t, map[string]any{"text": "hello"}, received.Payload)
}

func TestHandler_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	step := testutil.CreateTestStep("w", testutil.AsWebhook("", server.URL))

	output, err := NewHandler(nil).Execute(context.Background(), step, testutil.NewFakeRun())
	require.NoError(t, err)

	webhook := output.(*models.WebhookOutput)
	assert.False(t, webhook.Response.Success)
	assert.Equal(t, http.StatusBadGateway, webhook.Response.StatusCode)
	assert.Equal(t, models.DefaultWebhookType, webhook.WebhookType)
}

func TestHandler_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	step := testutil.CreateTestStep("w", testutil.AsWebhook("generic", url))

	_, err := NewHandler(nil).Execute(context.Background(), step, testutil.NewFakeRun())
	assert.ErrorContains(t, err, "webhook delivery")
}
