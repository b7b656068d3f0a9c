package polywrite

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusPending            Status = "pending"
	StatusExecuting          Status = "executing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCompensating       Status = "compensating"
	StatusCompensated        Status = "compensated"
	StatusCompensationFailed Status = "compensation_failed"
)

// Terminal reports whether no further transitions are legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusCompensationFailed:
		return true
	}
	return false
}

// nextStatus validates a transition from s and returns the new status.
// Transitions are monotonic: a failed transaction with executed steps can
// only move forward through compensation, never back to executing.
func (s Status) nextStatus(next Status) (Status, error) {
	legal := false
	switch s {
	case StatusPending:
		legal = next == StatusExecuting
	case StatusExecuting:
		legal = next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		legal = next == StatusCompensating
	case StatusCompensating:
		legal = next == StatusCompensated || next == StatusCompensationFailed
	}
	if !legal {
		return s, fmt.Errorf("illegal status transition %s -> %s", s, next)
	}
	return next, nil
}

// Transaction is the record of one saga invocation. It owns its steps
// exclusively, lives only for the duration of the call that created it, and
// is never persisted or reused.
type Transaction struct {
	ID   uuid.UUID
	Name string

	steps         []*stepRecord
	executedSteps []*stepRecord
	failedStep    *stepRecord

	status    Status
	StartedAt time.Time
	EndedAt   time.Time
}

// newTransaction builds a pending transaction with fresh step records and a
// collision-safe id.
func newTransaction(name string, steps []Step) (*Transaction, error) {
	records := make([]*stepRecord, 0, len(steps))
	seen := make(map[StepName]struct{}, len(steps))
	for _, step := range steps {
		if _, dup := seen[step.Name()]; dup {
			return nil, fmt.Errorf("duplicate step name %q", step.Name())
		}
		seen[step.Name()] = struct{}{}
		records = append(records, &stepRecord{step: step})
	}

	return &Transaction{
		ID:     uuid.New(),
		Name:   name,
		steps:  records,
		status: StatusPending,
	}, nil
}

// Status returns the current lifecycle state.
func (t *Transaction) Status() Status {
	return t.status
}

// transitionTo moves the transaction to the next status, enforcing the
// state machine.
func (t *Transaction) transitionTo(next Status) error {
	updated, err := t.status.nextStatus(next)
	if err != nil {
		return err
	}
	t.status = updated
	return nil
}

// FailedStepName returns the name of the step that failed, if any.
func (t *Transaction) FailedStepName() (StepName, bool) {
	if t.failedStep == nil {
		return "", false
	}
	return t.failedStep.step.Name(), true
}

// ExecutedStepNames returns the names of successfully executed steps in
// execution order.
func (t *Transaction) ExecutedStepNames() []StepName {
	names := make([]StepName, len(t.executedSteps))
	for i, rec := range t.executedSteps {
		names[i] = rec.step.Name()
	}
	return names
}

// CompensatedStepNames returns the names of compensated steps in execution
// order (compensation itself runs in the reverse of this order).
func (t *Transaction) CompensatedStepNames() []StepName {
	names := make([]StepName, 0, len(t.executedSteps))
	for _, rec := range t.executedSteps {
		if rec.compensated {
			names = append(names, rec.step.Name())
		}
	}
	return names
}

// Duration returns the wall-clock duration of the transaction, or the time
// elapsed so far when it has not ended yet.
func (t *Transaction) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.EndedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.EndedAt.Sub(t.StartedAt)
}
