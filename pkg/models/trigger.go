package models

// TriggerType identifies what may start a workflow run.
type TriggerType string

const (
	TriggerTypeManual     TriggerType = "manual"
	TriggerTypeSchedule   TriggerType = "schedule"
	TriggerTypeWebhook    TriggerType = "webhook"
	TriggerTypeCompletion TriggerType = "completion"
	TriggerTypeCondition  TriggerType = "condition"
)

// Trigger parameter keys understood by the trigger dispatcher.
const (
	TriggerParamSchedule   = "schedule"    // cron expression for schedule triggers
	TriggerParamWorkflowID = "workflow_id" // upstream workflow for completion triggers
)

// Trigger gates whether a run is permitted. The orchestrator never evaluates it.
type Trigger struct {
	ID         string         `json:"id"                   validate:"required"`
	Type       TriggerType    `json:"type"                 validate:"required,oneof=manual schedule webhook completion condition"`
	Condition  string         `json:"condition,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StringParam returns a string parameter or an empty string.
func (t *Trigger) StringParam(key string) string {
	value, _ := t.Parameters[key].(string)

	return value
}
