package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/memory"
	"github.com/dukex/stepflow/pkg/persistence/persistencetest"
)

func TestPersistence_Contract(t *testing.T) {
	persistencetest.Run(t, func(*testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}

func TestPersistence_ReturnsCopies(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{ID: "wf-1", Name: "Copy", Owner: "user-1"}
	require.NoError(t, p.Workflows().Create(ctx, workflow))

	workflow.Name = "Mutated"

	got, err := p.Workflows().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Copy", got.Name)

	got.Name = "Mutated again"

	again, err := p.Workflows().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Copy", again.Name)
}
