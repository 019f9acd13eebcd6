package sequential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/testutil"
)

var errBranch = errors.New("branch failed")

func TestHandler_RunsInOrder(t *testing.T) {
	run := testutil.NewFakeRun()
	run.OnDispatch = func(_ context.Context, stepID string) (models.StepOutput, error) {
		return &models.WebhookOutput{Type: models.OutputTypeWebhook, WebhookType: stepID}, nil
	}

	output, err := NewHandler().Execute(context.Background(), testutil.CreateTestStep("s", testutil.AsSequential("a", "b", "c")), run)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, run.DispatchedSteps())

	sequential, ok := output.(*models.SequentialOutput)
	require.True(t, ok)
	require.Len(t, sequential.Results, 3)
	assert.Equal(t, "b", sequential.Results[1].StepID)
	assert.Equal(t, "b", sequential.Results[1].Result.(*models.WebhookOutput).WebhookType)
}

func TestHandler_AbortsOnFirstFailure(t *testing.T) {
	run := testutil.NewFakeRun()
	run.OnDispatch = func(_ context.Context, stepID string) (models.StepOutput, error) {
		if stepID == "b" {
			return nil, errBranch
		}

		return &models.DelayOutput{Type: models.OutputTypeDelay}, nil
	}

	output, err := NewHandler().Execute(context.Background(), testutil.CreateTestStep("s", testutil.AsSequential("a", "b", "c")), run)

	assert.Nil(t, output)
	assert.ErrorIs(t, err, errBranch)
	assert.Contains(t, err.Error(), "aborted at b")
	assert.Equal(t, []string{"a", "b"}, run.DispatchedSteps())
}

func TestHandler_NoBranches(t *testing.T) {
	_, err := NewHandler().Execute(context.Background(), testutil.CreateTestStep("s", testutil.AsSequential()), testutil.NewFakeRun())
	assert.ErrorIs(t, err, ErrNoBranches)
}
