package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is a single problem found in a workflow definition.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

var definitionValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateDefinition checks a workflow definition before it is stored. It is
// pure: the definition is not modified and repeated calls return the same
// errors in the same order.
func ValidateDefinition(def *WorkflowDefinition) []FieldError {
	if def == nil {
		return []FieldError{{Field: "workflow", Message: "workflow definition is required"}}
	}

	var fieldErrors []FieldError

	fieldErrors = append(fieldErrors, structErrors(def)...)
	fieldErrors = append(fieldErrors, stepErrors(def)...)
	fieldErrors = append(fieldErrors, triggerErrors(def)...)

	return fieldErrors
}

func structErrors(def *WorkflowDefinition) []FieldError {
	err := definitionValidator.Struct(def)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{Field: "workflow", Message: err.Error()}}
	}

	fieldErrors := make([]FieldError, 0, len(validationErrors))

	for _, fieldErr := range validationErrors {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   fieldPath(fieldErr.Namespace()),
			Message: tagMessage(fieldErr),
		})
	}

	return fieldErrors
}

func fieldPath(namespace string) string {
	path := strings.TrimPrefix(namespace, "WorkflowDefinition.")

	return strings.ToLower(path[:1]) + path[1:]
}

func tagMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fieldErr.Param() + " characters or items"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fieldErr.Param(), fieldErr.Value())
	default:
		return "failed " + fieldErr.Tag() + " validation"
	}
}

func stepErrors(def *WorkflowDefinition) []FieldError {
	var fieldErrors []FieldError

	known := make(map[string]bool, len(def.Steps))

	for i, step := range def.Steps {
		if step == nil || step.ID == "" {
			continue
		}

		if known[step.ID] {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			})
		}

		known[step.ID] = true
	}

	for i, step := range def.Steps {
		if step == nil {
			continue
		}

		prefix := fmt.Sprintf("steps[%d]", i)

		fieldErrors = append(fieldErrors, configErrors(prefix, step)...)

		for _, ref := range step.Successors {
			if !known[ref] {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   prefix + ".successors",
					Message: fmt.Sprintf("step %q references unknown step %q", step.ID, ref),
				})
			}
		}

		for _, ref := range step.Branches {
			if !known[ref] {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   prefix + ".branches",
					Message: fmt.Sprintf("step %q references unknown step %q", step.ID, ref),
				})
			}
		}
	}

	if cycle := findCycle(def); len(cycle) > 0 {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   "steps",
			Message: "step graph contains a cycle: " + strings.Join(cycle, " -> "),
		})
	}

	return fieldErrors
}

func configErrors(prefix string, step *Step) []FieldError {
	var fieldErrors []FieldError

	switch step.Type {
	case StepTypeAgentTask:
		if step.AgentID() == "" {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   prefix + ".agent_task.agent_id",
				Message: fmt.Sprintf("agent_task step %q requires an agent id", step.ID),
			})
		}
	case StepTypeCondition:
		if strings.TrimSpace(step.ConditionExpression()) == "" {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   prefix + ".condition.expression",
				Message: fmt.Sprintf("condition step %q requires an expression", step.ID),
			})
		}
	case StepTypeParallel, StepTypeSequential:
		if len(step.Branches) == 0 {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   prefix + ".branches",
				Message: fmt.Sprintf("%s step %q requires at least one branch", step.Type, step.ID),
			})
		}
	case StepTypeDelay:
		if step.Delay != nil && step.Delay.DelayMs < 0 {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   prefix + ".delay.delay_ms",
				Message: "must not be negative",
			})
		}
	case StepTypeHumanApproval, StepTypeWebhook:
	}

	return fieldErrors
}

// findCycle returns the step ids forming the first cycle reachable over
// successors and branches, in declaration order, or nil.
func findCycle(def *WorkflowDefinition) []string {
	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(def.Steps))

	var (
		path  []string
		visit func(id string) []string
	)

	visit = func(id string) []string {
		step, ok := def.StepByID(id)
		if !ok {
			return nil
		}

		switch state[id] {
		case inProgress:
			for i, onPath := range path {
				if onPath == id {
					return append(append([]string{}, path[i:]...), id)
				}
			}

			return []string{id, id}
		case done:
			return nil
		}

		state[id] = inProgress
		path = append(path, id)

		for _, next := range step.Edges() {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		state[id] = done

		return nil
	}

	for _, step := range def.Steps {
		if step == nil || step.ID == "" || state[step.ID] != unvisited {
			continue
		}

		if cycle := visit(step.ID); cycle != nil {
			return cycle
		}
	}

	return nil
}

func triggerErrors(def *WorkflowDefinition) []FieldError {
	var fieldErrors []FieldError

	for i, trigger := range def.Triggers {
		if trigger == nil {
			continue
		}

		prefix := fmt.Sprintf("triggers[%d]", i)

		switch trigger.Type {
		case TriggerTypeSchedule:
			schedule := trigger.StringParam(TriggerParamSchedule)
			if schedule == "" {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   prefix + ".parameters.schedule",
					Message: "schedule trigger requires a cron expression",
				})

				continue
			}

			if _, err := scheduleParser.Parse(schedule); err != nil {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   prefix + ".parameters.schedule",
					Message: "invalid cron expression: " + err.Error(),
				})
			}
		case TriggerTypeCompletion:
			if trigger.StringParam(TriggerParamWorkflowID) == "" {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   prefix + ".parameters.workflow_id",
					Message: "completion trigger requires an upstream workflow id",
				})
			}
		case TriggerTypeManual, TriggerTypeWebhook, TriggerTypeCondition:
		}
	}

	return fieldErrors
}
