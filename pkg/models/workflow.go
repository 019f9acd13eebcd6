// Package models defines the core domain models for step-based workflow orchestration
package models

import "time"

// WorkflowDefinition is an owner's graph of typed steps. The step graph is
// immutable once created; only IsActive may be toggled by the owner.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"                   validate:"required,min=3"`
	Description string         `json:"description"`
	Steps       []*Step        `json:"steps"                  validate:"required,min=1,dive,required"`
	Triggers    []*Trigger     `json:"triggers"               validate:"dive,required"`
	Owner       string         `json:"owner"                  validate:"required"`
	IsActive    bool           `json:"is_active"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// EntryStep returns the first declared step, the canonical entry point of a run.
func (w *WorkflowDefinition) EntryStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}

	return w.Steps[0]
}

// StepByID looks up a step by its identifier.
func (w *WorkflowDefinition) StepByID(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step != nil && step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// IsOwnedBy reports whether the caller identity owns the workflow.
func (w *WorkflowDefinition) IsOwnedBy(caller string) bool {
	return caller != "" && w.Owner == caller
}

// AllowsManualRun reports whether an on-demand execute request may start a run.
// Workflows without triggers are manual by default.
func (w *WorkflowDefinition) AllowsManualRun() bool {
	if len(w.Triggers) == 0 {
		return true
	}

	for _, trigger := range w.Triggers {
		if trigger != nil && trigger.Type == TriggerTypeManual {
			return true
		}
	}

	return false
}

// TriggersOfType returns the triggers with the given type.
func (w *WorkflowDefinition) TriggersOfType(triggerType TriggerType) []*Trigger {
	var found []*Trigger

	for _, trigger := range w.Triggers {
		if trigger != nil && trigger.Type == triggerType {
			found = append(found, trigger)
		}
	}

	return found
}
