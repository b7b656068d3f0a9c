package polywrite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Orchestrator drives one transaction through the saga state machine: it
// executes steps strictly in declared order, merges each step's output into
// the transaction context, and on failure runs reverse-order compensation
// over the steps that had executed.
//
// The orchestrator performs no I/O of its own; Step.Execute and
// Step.Compensate are the only points where it blocks. An Orchestrator owns
// exactly one Transaction and is single-use, so concurrent saga invocations
// each construct their own.
type Orchestrator struct {
	tx      *Transaction
	audit   Sink
	logger  *slog.Logger
	metrics *Metrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAuditSink sets the sink that receives lifecycle events.
func WithAuditSink(sink Sink) OrchestratorOption {
	return func(o *Orchestrator) {
		if sink != nil {
			o.audit = sink
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator for a fresh transaction over the
// given ordered steps. Step names must be unique within the transaction.
func NewOrchestrator(name string, steps []Step, opts ...OrchestratorOption) (*Orchestrator, error) {
	tx, err := newTransaction(name, steps)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		tx:     tx,
		audit:  NopSink{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("transaction_id", tx.ID.String(), "saga", name)

	return o, nil
}

// Transaction returns the transaction record owned by this orchestrator.
func (o *Orchestrator) Transaction() *Transaction {
	return o.tx
}

// Execute runs the steps in declared order over txctx. On success it returns
// the final context. On a step failure it runs compensation over the already
// executed steps and returns a *StepFailedError regardless of whether the
// compensation itself succeeded; the error reports the compensation outcome.
func (o *Orchestrator) Execute(ctx context.Context, txctx *TxContext) (*TxContext, error) {
	tx := o.tx
	if tx.Status() != StatusPending {
		return nil, fmt.Errorf("transaction %s already executed (status %s)", tx.ID, tx.Status())
	}
	if txctx == nil {
		txctx = NewTxContext()
	}

	tx.StartedAt = time.Now()
	o.mustTransition(StatusExecuting)
	o.metrics.observeStarted()
	o.emit(ctx, AuditEvent{
		EventType: EventTransactionStarted,
		Status:    StatusExecuting,
		Extra:     map[string]any{"steps": len(tx.steps)},
	})
	o.logger.Info("transaction started", "steps", len(tx.steps))

	for _, rec := range tx.steps {
		name := rec.step.Name()
		started := time.Now()
		out, err := rec.step.Execute(ctx, txctx)
		elapsed := time.Since(started)
		o.metrics.observeStep(name, elapsed)

		if err != nil {
			stepErr := asStepError(err)
			tx.failedStep = rec
			o.mustTransition(StatusFailed)
			o.logger.Error("step failed", "step", name, "error", stepErr)
			o.emit(ctx, AuditEvent{
				StepName:  name,
				EventType: EventStepFailed,
				Status:    StatusFailed,
				Duration:  elapsed,
				Extra:     map[string]any{"error": stepErr.Error()},
			})
			o.emit(ctx, AuditEvent{
				EventType: EventTransactionFailed,
				Status:    StatusFailed,
				Extra:     map[string]any{"failed_step": name.String()},
			})

			compErrs := o.compensate(ctx, txctx)

			tx.EndedAt = time.Now()
			o.metrics.observeOutcome(tx.Status(), tx.Duration())

			failure := &StepFailedError{
				SagaError:             SagaError{TransactionID: tx.ID, Err: stepErr},
				StepName:              name,
				CompensationAttempted: true,
				Compensated:           tx.Status() == StatusCompensated,
				CompensationErrors:    compErrs,
			}
			return nil, failure
		}

		rec.executed = true
		rec.output = out
		tx.executedSteps = append(tx.executedSteps, rec)
		txctx.Merge(out)

		o.logger.Debug("step completed", "step", name, "duration_ms", elapsed.Milliseconds())
		o.emit(ctx, AuditEvent{
			StepName:  name,
			EventType: EventStepCompleted,
			Status:    StatusExecuting,
			Duration:  elapsed,
		})
	}

	o.mustTransition(StatusCompleted)
	tx.EndedAt = time.Now()
	o.metrics.observeOutcome(tx.Status(), tx.Duration())
	o.emit(ctx, AuditEvent{
		EventType: EventTransactionCompleted,
		Status:    StatusCompleted,
		Duration:  tx.Duration(),
	})
	o.logger.Info("transaction completed", "duration_ms", tx.Duration().Milliseconds())

	return txctx, nil
}

// compensate undoes executed steps in reverse execution order. Steps already
// compensated are skipped, so re-running the procedure never undoes a step
// twice. A compensation failure never aborts the loop: the error is recorded
// and the remaining (earlier) steps are still attempted.
func (o *Orchestrator) compensate(ctx context.Context, txctx *TxContext) []error {
	tx := o.tx
	if tx.Status() == StatusFailed {
		o.mustTransition(StatusCompensating)
	}
	o.emit(ctx, AuditEvent{
		EventType: EventCompensationStarted,
		Status:    StatusCompensating,
		Extra:     map[string]any{"executed_steps": len(tx.executedSteps)},
	})

	var errs []error
	for i := len(tx.executedSteps) - 1; i >= 0; i-- {
		rec := tx.executedSteps[i]
		if rec.compensated {
			continue
		}
		name := rec.step.Name()

		// The compensation context is the transaction context merged with
		// the step's own captured output, cloned so one step's data cannot
		// leak into another step's undo.
		compCtx := txctx.Clone()
		compCtx.Merge(rec.output)

		started := time.Now()
		err := o.safeCompensate(ctx, rec.step, compCtx)
		elapsed := time.Since(started)

		if err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", name, err))
			o.metrics.observeCompensationError()
			o.logger.Error("step compensation failed", "step", name, "error", err)
			o.emit(ctx, AuditEvent{
				StepName:  name,
				EventType: EventStepCompensationFailed,
				Status:    StatusCompensating,
				Duration:  elapsed,
				Extra:     map[string]any{"error": err.Error()},
			})
			continue
		}

		rec.compensated = true
		o.logger.Info("step compensated", "step", name)
		o.emit(ctx, AuditEvent{
			StepName:  name,
			EventType: EventStepCompensated,
			Status:    StatusCompensating,
			Duration:  elapsed,
		})
	}

	if tx.Status() == StatusCompensating {
		if len(errs) > 0 {
			o.mustTransition(StatusCompensationFailed)
			messages := make([]string, len(errs))
			for i, err := range errs {
				messages[i] = err.Error()
			}
			o.emit(ctx, AuditEvent{
				EventType: EventCompensationFailed,
				Status:    StatusCompensationFailed,
				Extra:     map[string]any{"errors": messages},
			})
		} else {
			o.mustTransition(StatusCompensated)
			o.emit(ctx, AuditEvent{
				EventType: EventTransactionCompensated,
				Status:    StatusCompensated,
			})
		}
	}

	return errs
}

// safeCompensate invokes a step's Compensate, converting a panic into an
// error so a misbehaving compensation cannot crash the unwind of the
// remaining steps.
func (o *Orchestrator) safeCompensate(ctx context.Context, step Step, txctx *TxContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
	}()
	return step.Compensate(ctx, txctx)
}

// emit hands an event to the audit sink. Sink failures and panics are logged
// and discarded: audit emission must never alter the transaction outcome.
func (o *Orchestrator) emit(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.TransactionID = o.tx.ID

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("audit sink panicked", "event_type", string(event.EventType), "panic", r)
		}
	}()

	if err := o.audit.Emit(ctx, event); err != nil {
		o.logger.Warn("audit sink failed", "event_type", string(event.EventType), "error", err)
	}
}

// mustTransition applies a status transition that the orchestrator's control
// flow guarantees to be legal. A violation indicates a bug in the engine
// itself, not in the caller's steps.
func (o *Orchestrator) mustTransition(next Status) {
	if err := o.tx.transitionTo(next); err != nil {
		panic(err)
	}
}
