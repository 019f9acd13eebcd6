package persistence_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

func workflowsFixture() []*models.WorkflowDefinition {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	workflows := make([]*models.WorkflowDefinition, 0, 5)

	for i := range 5 {
		workflows = append(workflows, &models.WorkflowDefinition{
			ID:        fmt.Sprintf("wf-%d", i),
			Name:      fmt.Sprintf("Workflow %d", i),
			Owner:     "user-1",
			IsActive:  i%2 == 0,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	workflows = append(workflows, &models.WorkflowDefinition{ID: "other", Name: "Other", Owner: "user-2", CreatedAt: base})

	return workflows
}

func ids(page *persistence.WorkflowPage) []string {
	out := make([]string, 0, len(page.Workflows))
	for _, workflow := range page.Workflows {
		out = append(out, workflow.ID)
	}

	return out
}

func TestPaginate_KeysetPages(t *testing.T) {
	workflows := workflowsFixture()

	first, err := persistence.Paginate(workflows, persistence.WorkflowQuery{Owner: "user-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-4", "wf-3"}, ids(first))
	require.NotEmpty(t, first.NextCursor)

	second, err := persistence.Paginate(workflows, persistence.WorkflowQuery{Owner: "user-1", Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-2", "wf-1"}, ids(second))

	last, err := persistence.Paginate(workflows, persistence.WorkflowQuery{Owner: "user-1", Limit: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-0"}, ids(last))
	assert.Empty(t, last.NextCursor)
}

func TestPaginate_Filters(t *testing.T) {
	workflows := workflowsFixture()
	active := true

	page, err := persistence.Paginate(workflows, persistence.WorkflowQuery{Owner: "user-1", Active: &active})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-4", "wf-2", "wf-0"}, ids(page))

	page, err = persistence.Paginate(workflows, persistence.WorkflowQuery{Owner: "user-1", Search: "workflow 3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-3"}, ids(page))

	page, err = persistence.Paginate(workflows, persistence.WorkflowQuery{Owner: "user-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, ids(page))
}

func TestPaginate_InvalidCursor(t *testing.T) {
	_, err := persistence.Paginate(workflowsFixture(), persistence.WorkflowQuery{Owner: "user-1", Cursor: "!!!"})
	assert.ErrorIs(t, err, persistence.ErrInvalidCursor)
}

func TestWorkflowQuery_PageSize(t *testing.T) {
	assert.Equal(t, persistence.DefaultPageSize, persistence.WorkflowQuery{}.PageSize())
	assert.Equal(t, persistence.MaxPageSize, persistence.WorkflowQuery{Limit: 1000}.PageSize())
	assert.Equal(t, 7, persistence.WorkflowQuery{Limit: 7}.PageSize())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, persistence.ValidateID("0193c2a4-7f1e-7c5d-b0a1-2f3e4d5c6b7a"))
	assert.ErrorIs(t, persistence.ValidateID(""), persistence.ErrInvalidID)
	assert.ErrorIs(t, persistence.ValidateID("../etc/passwd"), persistence.ErrInvalidID)
	assert.ErrorIs(t, persistence.ValidateID("a:b"), persistence.ErrInvalidID)
}
