package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name:  "Research pipeline",
		Owner: "user-1",
		Steps: []*Step{
			{
				ID: "A", Name: "Research", Type: StepTypeAgentTask,
				AgentTask:  &AgentTaskConfig{AgentID: "researcher"},
				Successors: []string{"B"},
			},
			{
				ID: "B", Name: "Check", Type: StepTypeCondition,
				Condition:  &ConditionConfig{Expression: "input.score > 5"},
				Successors: []string{"C"},
			},
			{
				ID: "C", Name: "Notify", Type: StepTypeWebhook,
			},
		},
	}
}

func fieldsOf(errs []FieldError) []string {
	fields := make([]string, 0, len(errs))
	for _, err := range errs {
		fields = append(fields, err.Field)
	}

	return fields
}

func TestValidateDefinition_Valid(t *testing.T) {
	assert.Empty(t, ValidateDefinition(validDefinition()))
}

func TestValidateDefinition_Nil(t *testing.T) {
	errs := ValidateDefinition(nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "workflow", errs[0].Field)
}

func TestValidateDefinition_StructRules(t *testing.T) {
	def := validDefinition()
	def.Name = ""
	def.Owner = ""
	def.Steps[2].Type = "teleport"

	fields := fieldsOf(ValidateDefinition(def))

	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "owner")
	assert.Contains(t, fields, "steps[2].Type")
}

func TestValidateDefinition_NoSteps(t *testing.T) {
	def := validDefinition()
	def.Steps = nil

	assert.Contains(t, fieldsOf(ValidateDefinition(def)), "steps")
}

func TestValidateDefinition_DanglingReference(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Successors = []string{"missing"}

	errs := ValidateDefinition(def)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].successors", errs[0].Field)
	assert.Contains(t, errs[0].Message, `"A"`)
	assert.Contains(t, errs[0].Message, `"missing"`)
}

func TestValidateDefinition_PerTypeFields(t *testing.T) {
	def := validDefinition()
	def.Steps[0].AgentTask = nil
	def.Steps[1].Condition = &ConditionConfig{Expression: "   "}
	def.Steps = append(def.Steps, &Step{ID: "P", Name: "Fan", Type: StepTypeParallel})
	def.Steps = append(def.Steps, &Step{ID: "D", Name: "Wait", Type: StepTypeDelay, Delay: &DelayConfig{DelayMs: -5}})

	fields := fieldsOf(ValidateDefinition(def))

	assert.Equal(t, []string{
		"steps[0].agent_task.agent_id",
		"steps[1].condition.expression",
		"steps[3].branches",
		"steps[4].delay.delay_ms",
	}, fields)
}

func TestValidateDefinition_DuplicateIDs(t *testing.T) {
	def := validDefinition()
	def.Steps[2].ID = "A"

	assert.Contains(t, fieldsOf(ValidateDefinition(def)), "steps[2].id")
}

func TestValidateDefinition_Cycle(t *testing.T) {
	def := validDefinition()
	def.Steps[2].Successors = []string{"A"}

	errs := ValidateDefinition(def)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps", errs[0].Field)
	assert.True(t, strings.HasSuffix(errs[0].Message, "A -> B -> C -> A"), errs[0].Message)
}

func TestValidateDefinition_CycleThroughBranches(t *testing.T) {
	def := &WorkflowDefinition{
		Name:  "Loop",
		Owner: "user-1",
		Steps: []*Step{
			{ID: "P", Name: "Fan", Type: StepTypeSequential, Branches: []string{"X"}},
			{ID: "X", Name: "Back", Type: StepTypeDelay, Successors: []string{"P"}},
		},
	}

	errs := ValidateDefinition(def)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "P -> X -> P")
}

func TestValidateDefinition_DiamondIsNotACycle(t *testing.T) {
	def := &WorkflowDefinition{
		Name:  "Diamond",
		Owner: "user-1",
		Steps: []*Step{
			{ID: "A", Name: "A", Type: StepTypeDelay, Successors: []string{"B", "C"}},
			{ID: "B", Name: "B", Type: StepTypeDelay, Successors: []string{"D"}},
			{ID: "C", Name: "C", Type: StepTypeDelay, Successors: []string{"D"}},
			{ID: "D", Name: "D", Type: StepTypeDelay},
		},
	}

	assert.Empty(t, ValidateDefinition(def))
}

func TestValidateDefinition_Triggers(t *testing.T) {
	def := validDefinition()
	def.Triggers = []*Trigger{
		{ID: "t1", Type: TriggerTypeSchedule, Parameters: map[string]any{"schedule": "not a cron"}},
		{ID: "t2", Type: TriggerTypeSchedule},
		{ID: "t3", Type: TriggerTypeCompletion},
		{ID: "t4", Type: TriggerTypeSchedule, Parameters: map[string]any{"schedule": "*/5 * * * *"}},
		{ID: "t5", Type: TriggerTypeManual},
	}

	assert.Equal(t, []string{
		"triggers[0].parameters.schedule",
		"triggers[1].parameters.schedule",
		"triggers[2].parameters.workflow_id",
	}, fieldsOf(ValidateDefinition(def)))
}

func TestValidateDefinition_Idempotent(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Successors = []string{"nowhere"}
	def.Steps[1].Condition = nil

	first := ValidateDefinition(def)
	second := ValidateDefinition(def)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"nowhere"}, def.Steps[0].Successors)
}
