// Package mocks provides testify mocks of the orchestration interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
// Workflows and Executions return the embedded repository mocks.
type MockPersistence struct {
	mock.Mock

	WorkflowRepo  *MockWorkflowRepository
	ExecutionRepo *MockExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		WorkflowRepo:  &MockWorkflowRepository{},
		ExecutionRepo: &MockExecutionRepository{},
	}
}

func (m *MockPersistence) Workflows() persistence.WorkflowRepository {
	return m.WorkflowRepo
}

func (m *MockPersistence) Executions() persistence.ExecutionRepository {
	return m.ExecutionRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)

	workflow, _ := args.Get(0).(*models.WorkflowDefinition)

	return workflow, args.Error(1)
}

func (m *MockWorkflowRepository) List(ctx context.Context, query persistence.WorkflowQuery) (*persistence.WorkflowPage, error) {
	args := m.Called(ctx, query)

	page, _ := args.Get(0).(*persistence.WorkflowPage)

	return page, args.Error(1)
}

func (m *MockWorkflowRepository) Active(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)

	workflows, _ := args.Get(0).([]*models.WorkflowDefinition)

	return workflows, args.Error(1)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	args := m.Called(ctx, execution, from)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)

	execution, _ := args.Get(0).(*models.WorkflowExecution)

	return execution, args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID, limit)

	executions, _ := args.Get(0).([]*models.WorkflowExecution)

	return executions, args.Error(1)
}
