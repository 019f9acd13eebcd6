package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const workflowColumns = `
			id
		  , name
		  , description
		  , owner
		  , is_active
		  , steps
		  , triggers
		  , input_schema
		  , created_at
		  , updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition) error {
	steps, triggers, inputSchema, err := marshalGraph(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.Owner, workflow.IsActive,
		steps, triggers, inputSchema, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
		}

		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to insert workflow: %w", err))
	}

	return nil
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	steps, triggers, inputSchema, err := marshalGraph(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	query := `
		UPDATE workflows
		SET name = $2, description = $3, owner = $4, is_active = $5,
			steps = $6, triggers = $7, input_schema = $8, updated_at = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.Owner, workflow.IsActive,
		steps, triggers, inputSchema, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, fmt.Errorf("failed to update workflow: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, fmt.Errorf("failed to scan workflow: %w", err))
	}

	return workflow, nil
}

// List pages with a keyset over (created_at, id), fetching one extra row to
// detect whether another page follows.
func (r *WorkflowRepository) List(ctx context.Context, query persistence.WorkflowQuery) (*persistence.WorkflowPage, error) {
	sqlQuery, args, err := buildListQuery(query)
	if err != nil {
		return nil, err
	}

	workflows, err := r.queryWorkflows(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}

	return persistence.PageOf(workflows, query.PageSize()), nil
}

func (r *WorkflowRepository) Active(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE is_active = true
		ORDER BY created_at DESC, id COLLATE "C" DESC
	`

	return r.queryWorkflows(ctx, query)
}

func buildListQuery(query persistence.WorkflowQuery) (string, []any, error) {
	conditions := []string{"owner = $1"}
	args := []any{query.Owner}

	next := func(value any) string {
		args = append(args, value)

		return "$" + strconv.Itoa(len(args))
	}

	if query.Active != nil {
		conditions = append(conditions, "is_active = "+next(*query.Active))
	}

	if query.Search != "" {
		pattern := next("%" + escapeLike(query.Search) + "%")
		conditions = append(conditions, "(name ILIKE "+pattern+" OR description ILIKE "+pattern+")")
	}

	if query.Cursor != "" {
		cursor, err := persistence.DecodeCursor(query.Cursor)
		if err != nil {
			return "", nil, err
		}

		createdAt := next(cursor.CreatedAt)
		id := next(cursor.ID)
		conditions = append(conditions,
			"(created_at < "+createdAt+" OR (created_at = "+createdAt+" AND id COLLATE \"C\" < "+id+"))")
	}

	limit := next(query.PageSize() + 1)

	sqlQuery := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC, id COLLATE "C" DESC
		LIMIT ` + limit

	return sqlQuery, args, nil
}

func escapeLike(search string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(search)
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.WorkflowDefinition, error) {
	var (
		workflow                     models.WorkflowDefinition
		steps, triggers, inputSchema []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Owner,
		&workflow.IsActive,
		&steps,
		&triggers,
		&inputSchema,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(steps, &workflow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(triggers, &workflow.Triggers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggers: %w", err)
	}

	if len(inputSchema) > 0 {
		if err := json.Unmarshal(inputSchema, &workflow.InputSchema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input schema: %w", err)
		}
	}

	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()

	return &workflow, nil
}

// marshalGraph encodes the JSONB columns. A missing input schema is stored as
// SQL NULL.
func marshalGraph(workflow *models.WorkflowDefinition) ([]byte, []byte, any, error) {
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	triggers := []byte("[]")
	if len(workflow.Triggers) > 0 {
		triggers, err = json.Marshal(workflow.Triggers)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal triggers: %w", err)
		}
	}

	if workflow.InputSchema == nil {
		return steps, triggers, nil, nil
	}

	inputSchema, err := json.Marshal(workflow.InputSchema)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}

	return steps, triggers, inputSchema, nil
}
