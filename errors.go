package polywrite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StepError is the failure signal a Step is expected to return from Execute.
// Adapters wrap their driver errors in a StepError at the step boundary so
// raw store errors never escape past the step.
type StepError struct {
	// Service names the backing service the failure came from, when known.
	Service string

	// Defect marks failures that did not arrive as a well-formed StepError.
	// Those are programming errors reclassified by the orchestrator, not
	// legitimate external-service failures, and are labeled so operators can
	// tell the two apart.
	Defect bool

	Err error
}

// NewStepError wraps an adapter error for the given service.
func NewStepError(service string, err error) *StepError {
	return &StepError{Service: service, Err: err}
}

// Stepf builds a StepError from a format string.
func Stepf(service, format string, args ...any) *StepError {
	return &StepError{Service: service, Err: fmt.Errorf(format, args...)}
}

func (e *StepError) Error() string {
	var sb strings.Builder
	sb.WriteString("step failed")
	if e.Service != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Service)
		sb.WriteString(")")
	}
	if e.Defect {
		sb.WriteString(" [defect]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// SagaError is the base type for transaction-level failures. Callers of the
// public entry points are expected to handle SagaErrors and let anything
// else propagate as a defect.
type SagaError struct {
	TransactionID uuid.UUID
	Err           error
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("saga %s: %v", e.TransactionID, e.Err)
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

// StepFailedError reports that a step failed during execution and describes
// the outcome of the compensation that followed. It is returned by
// Orchestrator.Execute regardless of whether compensation itself succeeded.
type StepFailedError struct {
	SagaError

	StepName StepName

	// CompensationAttempted is true once the reverse-order compensation
	// procedure has run, even when there was nothing to undo.
	CompensationAttempted bool

	// Compensated is true only when every executed step was undone cleanly.
	// When false and CompensationAttempted is true, CompensationErrors holds
	// the per-step failures and manual cleanup may be needed.
	Compensated bool

	CompensationErrors []error
}

func (e *StepFailedError) Error() string {
	msg := fmt.Sprintf("saga %s: step %q failed: %v", e.TransactionID, e.StepName, e.Err)
	if !e.CompensationAttempted {
		return msg
	}
	if e.Compensated {
		return msg + " (compensated)"
	}
	return fmt.Sprintf("%s (compensation failed: %v)", msg, errors.Join(e.CompensationErrors...))
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

// asStepError normalizes an Execute failure to a StepError. Errors that are
// not StepErrors indicate a contract violation by the step; they still drive
// compensation but are flagged as defects rather than silently reclassified
// as service failures.
func asStepError(err error) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}
	return &StepError{Defect: true, Err: err}
}
