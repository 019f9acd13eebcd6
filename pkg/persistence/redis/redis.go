// Package redis provides a Redis persistence implementation. Records are
// stored as JSON strings and indexed by sorted sets scored on their timestamps.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const (
	keyPrefix        = "stepflow:"
	workflowIndexKey = keyPrefix + "workflows"
)

func workflowKey(id string) string { return keyPrefix + "workflow:" + id }

func executionKey(id string) string { return keyPrefix + "execution:" + id }

func executionIndexKey(workflowID string) string { return keyPrefix + "executions:" + workflowID }

// Persistence implements persistence.Persistence on top of a Redis client.
type Persistence struct {
	client *goredis.Client
	logger *slog.Logger
}

// NewPersistence connects to the Redis server described by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{
		client: client,
		logger: logger.With("module", "redis_persistence"),
	}, nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &workflowRepository{p}
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return &executionRepository{p}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	created, err := r.p.client.SetNX(ctx, workflowKey(workflow.ID), data, 0).Result()
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	if !created {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	err = r.p.client.ZAdd(ctx, workflowIndexKey, goredis.Z{
		Score:  float64(workflow.CreatedAt.UnixMicro()),
		Member: workflow.ID,
	}).Err()
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to index workflow: %w", err))
	}

	return nil
}

func (r *workflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	updated, err := r.p.client.SetXX(ctx, workflowKey(workflow.ID), data, 0).Result()
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if !updated {
		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *workflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	data, err := r.p.client.Get(ctx, workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.WorkflowDefinition
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

func (r *workflowRepository) List(ctx context.Context, query persistence.WorkflowQuery) (*persistence.WorkflowPage, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.Paginate(all, query)
}

func (r *workflowRepository) Active(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowDefinition, 0, len(all))

	for _, workflow := range all {
		if workflow.IsActive {
			active = append(active, workflow)
		}
	}

	persistence.SortNewestFirst(active)

	return active, nil
}

func (r *workflowRepository) all(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := r.p.client.ZRevRange(ctx, workflowIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow index: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, workflowKey(id))
	}

	return loadAll[models.WorkflowDefinition](ctx, r.p, keys)
}

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	_, err = r.p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, executionKey(execution.ID), data, 0)
		pipe.ZAdd(ctx, executionIndexKey(execution.WorkflowID), goredis.Z{
			Score:  float64(execution.StartedAt.UnixMicro()),
			Member: execution.ID,
		})

		return nil
	})
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// Transition watches the record so a concurrent write aborts the transaction.
func (r *executionRepository) Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	key := executionKey(execution.ID)

	err = r.p.client.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return persistence.ErrExecutionNotFound
		}

		if err != nil {
			return err
		}

		var current struct {
			Status models.ExecutionStatus `json:"status"`
		}

		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}

		if current.Status != from {
			return persistence.ErrStatusConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})

		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		err = persistence.ErrStatusConflict
	}

	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	return nil
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	data, err := r.p.client.Get(ctx, executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (r *executionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := r.p.client.ZRevRange(ctx, executionIndexKey(workflowID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution index: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, executionKey(id))
	}

	executions, err := loadAll[models.WorkflowExecution](ctx, r.p, keys)
	if err != nil {
		return nil, err
	}

	return persistence.NewestExecutions(executions, limit), nil
}

// loadAll fetches and decodes the given keys, skipping keys that vanished
// between the index read and the fetch.
func loadAll[T any](ctx context.Context, p *Persistence, keys []string) ([]*T, error) {
	records := make([]*T, 0, len(keys))
	if len(keys) == 0 {
		return records, nil
	}

	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			p.logger.WarnContext(ctx, "indexed record is missing", "key", keys[i])

			continue
		}

		var record T
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}

		records = append(records, &record)
	}

	return records, nil
}
