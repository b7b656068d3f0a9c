package polywrite

import (
	"context"
)

// StepName is the unique name of a step within one transaction.
type StepName string

// String returns the string representation of the StepName.
func (n StepName) String() string {
	return string(n)
}

// Output is the data a step captures from a successful Execute. The
// orchestrator merges it into the transaction context for later steps and
// re-merges it into the compensation context when the step is undone.
type Output map[string]any

// Step is the atomic unit of work in a saga.
//
// Execute performs one externally-visible side effect and returns the data
// needed to undo it. Failures must be reported as a *StepError; a step must
// not partially apply state it cannot compensate for.
//
// Compensate undoes the effect of a previously successful Execute. It
// receives the transaction context merged with this step's own Output.
// Compensation should be best-effort: prefer logging and returning an error
// over panicking, though the orchestrator tolerates both.
//
// The executed/compensated bookkeeping for a step is owned exclusively by
// the orchestrator; steps never track it themselves.
type Step interface {
	Name() StepName
	Execute(ctx context.Context, txctx *TxContext) (Output, error)
	Compensate(ctx context.Context, txctx *TxContext) error
}

// ExecuteFunc is the function form of Step.Execute.
type ExecuteFunc func(ctx context.Context, txctx *TxContext) (Output, error)

// CompensateFunc is the function form of Step.Compensate.
type CompensateFunc func(ctx context.Context, txctx *TxContext) error

// StepFunc is an implementation of Step that uses ordinary functions.
type StepFunc struct {
	name       StepName
	execute    ExecuteFunc
	compensate CompensateFunc
}

// NewStepFunc constructs a Step from a pair of functions.
func NewStepFunc(name StepName, execute ExecuteFunc, compensate CompensateFunc) *StepFunc {
	return &StepFunc{
		name:       name,
		execute:    execute,
		compensate: compensate,
	}
}

// NoOpCompensate is a CompensateFunc for steps with no external effect to undo.
func NoOpCompensate(_ context.Context, _ *TxContext) error {
	return nil
}

// NewStepFuncWithNoOpCompensate constructs a Step whose compensation is a no-op.
func NewStepFuncWithNoOpCompensate(name StepName, execute ExecuteFunc) *StepFunc {
	return NewStepFunc(name, execute, NoOpCompensate)
}

// Name implements the Step interface for StepFunc.
func (s *StepFunc) Name() StepName {
	return s.name
}

// Execute implements the Step interface for StepFunc.
func (s *StepFunc) Execute(ctx context.Context, txctx *TxContext) (Output, error) {
	return s.execute(ctx, txctx)
}

// Compensate implements the Step interface for StepFunc.
func (s *StepFunc) Compensate(ctx context.Context, txctx *TxContext) error {
	return s.compensate(ctx, txctx)
}

// stepRecord pairs a Step with the execution bookkeeping owned by the
// orchestrator. Records are created fresh per transaction and never reused.
type stepRecord struct {
	step        Step
	executed    bool
	compensated bool
	output      Output
}
