package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/stepflow/pkg/models"
)

const (
	ErrorCodeKey   = "stepflow.error.code"
	FailedStepKey  = "stepflow.error.step_id"
	failedEventKey = "step_failed"
)

// SetError marks the span as failed. Nil errors leave it untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetExecutionError records the error a run settled with on the run span.
func SetExecutionError(span trace.Span, execErr *models.ExecutionError) {
	if execErr == nil {
		return
	}

	span.SetAttributes(
		attribute.String(ErrorCodeKey, execErr.Code),
		attribute.String(FailedStepKey, execErr.StepID),
	)
	span.AddEvent(failedEventKey, trace.WithAttributes(attribute.String(StepIDKey, execErr.StepID)))
	span.SetStatus(codes.Error, execErr.Message)
}
