package polywrite

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit event.
type EventType string

// Transaction-level event types.
const (
	EventTransactionStarted     EventType = "transaction_started"
	EventTransactionCompleted   EventType = "transaction_completed"
	EventTransactionFailed      EventType = "transaction_failed"
	EventCompensationStarted    EventType = "compensation_started"
	EventTransactionCompensated EventType = "transaction_compensated"
	EventCompensationFailed     EventType = "compensation_failed"
)

// Step-level event types.
const (
	EventStepCompleted          EventType = "step_completed"
	EventStepFailed             EventType = "step_failed"
	EventStepCompensated        EventType = "step_compensated"
	EventStepCompensationFailed EventType = "step_compensation_failed"
)

// AuditEvent is the structured lifecycle record handed to the audit sink at
// every transaction and step transition. Events are transient: the
// orchestrator does not retain them after emission.
type AuditEvent struct {
	Timestamp     time.Time
	TransactionID uuid.UUID
	StepName      StepName // empty for transaction-level events
	EventType     EventType
	Status        Status
	Duration      time.Duration
	Extra         map[string]any
}

// Sink receives audit events. Implementations may do I/O; the orchestrator
// catches and discards their failures, so a misbehaving sink can never alter
// a transaction's outcome.
type Sink interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements the Sink interface for NopSink.
func (NopSink) Emit(context.Context, AuditEvent) error {
	return nil
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(ctx context.Context, event AuditEvent) error

// Emit implements the Sink interface for FuncSink.
func (f FuncSink) Emit(ctx context.Context, event AuditEvent) error {
	return f(ctx, event)
}

// SlogSink writes audit events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a Sink backed by the given logger. A nil logger falls
// back to slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements the Sink interface for SlogSink.
func (s *SlogSink) Emit(ctx context.Context, event AuditEvent) error {
	attrs := []any{
		"transaction_id", event.TransactionID.String(),
		"event_type", string(event.EventType),
		"status", string(event.Status),
	}
	if event.StepName != "" {
		attrs = append(attrs, "step", event.StepName.String())
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	for k, v := range event.Extra {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "saga audit", attrs...)
	return nil
}

// CompositeSink fans out events to multiple sinks. Each sink is attempted
// even when an earlier one fails; the first error is returned.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink creates a Sink that forwards events to each non-nil sink
// in order.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return NopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeSink{sinks: filtered}
}

// Emit implements the Sink interface for CompositeSink.
func (c *CompositeSink) Emit(ctx context.Context, event AuditEvent) error {
	var first error
	for _, s := range c.sinks {
		if err := s.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
