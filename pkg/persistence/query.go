package persistence

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// Page size bounds for workflow listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// WorkflowQuery selects one page of an owner's workflows.
type WorkflowQuery struct {
	Owner  string
	Active *bool
	Search string
	Cursor string
	Limit  int
}

// WorkflowPage is a page of workflows ordered by creation time, newest first.
// NextCursor is empty on the last page.
type WorkflowPage struct {
	Workflows  []*models.WorkflowDefinition `json:"workflows"`
	NextCursor string                       `json:"next_cursor,omitempty"`
}

// Cursor is the keyset position after which a page starts.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// PageSize clamps the requested limit to the allowed bounds.
func (q WorkflowQuery) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return q.Limit
	}
}

// Matches applies the owner, active and search filters.
func (q WorkflowQuery) Matches(workflow *models.WorkflowDefinition) bool {
	if workflow.Owner != q.Owner {
		return false
	}

	if q.Active != nil && workflow.IsActive != *q.Active {
		return false
	}

	if q.Search == "" {
		return true
	}

	search := strings.ToLower(q.Search)

	return strings.Contains(strings.ToLower(workflow.Name), search) ||
		strings.Contains(strings.ToLower(workflow.Description), search)
}

func EncodeCursor(workflow *models.WorkflowDefinition) string {
	raw := workflow.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + workflow.ID

	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(cursor string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	createdAt, id, found := strings.Cut(string(raw), "|")
	if !found || id == "" {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	return &Cursor{CreatedAt: timestamp, ID: id}, nil
}

// After reports whether the workflow sorts after the cursor position.
func (c *Cursor) After(workflow *models.WorkflowDefinition) bool {
	if workflow.CreatedAt.Equal(c.CreatedAt) {
		return workflow.ID < c.ID
	}

	return workflow.CreatedAt.Before(c.CreatedAt)
}

// SortNewestFirst orders workflows by created_at desc, id desc.
func SortNewestFirst(workflows []*models.WorkflowDefinition) {
	slices.SortFunc(workflows, func(a, b *models.WorkflowDefinition) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(b.ID, a.ID)
	})
}

// Paginate filters and pages an unordered set of workflows in memory. It is
// shared by the backends that cannot push the query down to the store.
func Paginate(workflows []*models.WorkflowDefinition, query WorkflowQuery) (*WorkflowPage, error) {
	var cursor *Cursor

	if query.Cursor != "" {
		decoded, err := DecodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}

		cursor = decoded
	}

	matching := make([]*models.WorkflowDefinition, 0, len(workflows))

	for _, workflow := range workflows {
		if !query.Matches(workflow) {
			continue
		}

		if cursor != nil && !cursor.After(workflow) {
			continue
		}

		matching = append(matching, workflow)
	}

	SortNewestFirst(matching)

	return PageOf(matching, query.PageSize()), nil
}

// PageOf cuts an ordered result holding up to size+1 rows into a page.
func PageOf(ordered []*models.WorkflowDefinition, size int) *WorkflowPage {
	page := &WorkflowPage{Workflows: ordered}

	if len(ordered) > size {
		page.Workflows = ordered[:size]
		page.NextCursor = EncodeCursor(page.Workflows[size-1])
	}

	return page
}

// ValidateID rejects identifiers that are unsafe as file names or keys.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\:`) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidID, id)
	}

	return nil
}

// Clone deep-copies a stored value through its JSON form so that callers
// never share memory with the store.
func Clone[T any](value *T) (*T, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var copied T
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}

	return &copied, nil
}

// NewestExecutions orders executions by start time, newest first, and keeps
// at most limit of them (all when limit <= 0).
func NewestExecutions(executions []*models.WorkflowExecution, limit int) []*models.WorkflowExecution {
	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}

		return strings.Compare(b.ID, a.ID)
	})

	if limit > 0 && len(executions) > limit {
		return executions[:limit]
	}

	return executions
}
