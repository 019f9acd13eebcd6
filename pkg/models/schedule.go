package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a registered schedule trigger of a workflow with its
// precomputed next due time, polled by the trigger dispatcher.
type Schedule struct {
	// TriggerID identifies the schedule trigger inside the workflow
	TriggerID string `json:"trigger_id" validate:"required"`

	WorkflowID string `json:"workflow_id" validate:"required"`

	// CronExpression uses the standard 5-field format (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	NextDueAt time.Time `json:"next_due_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Inactive schedules are kept but never fire
	Active bool `json:"active"`
}

// ErrInvalidSchedule is returned when a schedule cannot be built.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewSchedule creates an active schedule due at the next cron tick after now.
func NewSchedule(workflowID string, trigger *Trigger, now time.Time) (*Schedule, error) {
	if workflowID == "" || trigger == nil || trigger.Type != TriggerTypeSchedule {
		return nil, ErrInvalidSchedule
	}

	schedule := &Schedule{
		TriggerID:      trigger.ID,
		WorkflowID:     workflowID,
		CronExpression: trigger.StringParam(TriggerParamSchedule),
		Active:         true,
	}

	if schedule.CronExpression == "" {
		return nil, ErrInvalidSchedule
	}

	if err := schedule.Advance(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Advance moves NextDueAt to the first cron tick after reference.
func (s *Schedule) Advance(reference time.Time) error {
	cronSchedule, err := scheduleParser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(reference.UTC())
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue checks if this schedule should fire at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}
