package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository stores execution records as JSONB documents with the
// columns needed for lookups kept alongside.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	query := `
		INSERT INTO executions (id, workflow_id, owner, status, data, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.Owner, string(execution.Status),
		data, execution.StartedAt, execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to upsert execution: %w", err))
	}

	return nil
}

// Transition is a conditional update; the status column is the guard.
func (r *ExecutionRepository) Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = $2, data = $3, completed_at = $4
		WHERE id = $1 AND status = $5
	`, execution.ID, string(execution.Status), data, execution.CompletedAt, string(from))
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, fmt.Errorf("failed to update execution: %w", err))
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	if updated == 1 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, execution.ID).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, fmt.Errorf("failed to query execution: %w", err))
	}

	if !exists {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrStatusConflict)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT data FROM executions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("failed to query execution: %w", err))
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("failed to unmarshal execution: %w", err))
	}

	return &execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT data
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC, id COLLATE "C" DESC
	`
	args := []any{workflowID}

	if limit > 0 {
		query += ` LIMIT $2`

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		var execution models.WorkflowExecution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		executions = append(executions, &execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
