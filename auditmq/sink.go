// Package auditmq publishes saga audit events to RabbitMQ so downstream
// consumers (compliance, reconciliation, alerting) get the trail without
// touching the write path.
package auditmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/manifoldworks/polywrite"
)

const (
	// DefaultExchange is the topic exchange audit events are published to.
	DefaultExchange = "polywrite.audit"

	exchangeKind = "topic"
)

// publisher is the slice of *amqp.Channel the sink needs. Narrowed to an
// interface so tests can capture publishings without a broker.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Sink implements polywrite.Sink over an AMQP topic exchange. Events are
// published persistently with the event type as the routing key, so a
// consumer can bind to "step_compensation_failed" alone or to "#" for the
// full trail.
//
// The orchestrator already tolerates sink errors, so the Sink reports
// publish failures and moves on; it never retries.
type Sink struct {
	ch       publisher
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithExchange overrides the exchange name.
func WithExchange(name string) Option {
	return func(s *Sink) {
		if name != "" {
			s.exchange = name
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Dial connects to the broker, declares the exchange, and returns a ready
// Sink. Close releases the connection.
func Dial(url string, opts ...Option) (*Sink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	s := NewFromChannel(ch, opts...)
	s.conn = conn

	if err := declareExchange(ch, s.exchange); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewFromChannel creates a Sink over an existing channel. The caller owns the
// channel's lifecycle and the exchange declaration.
func NewFromChannel(ch publisher, opts ...Option) *Sink {
	s := &Sink{
		ch:       ch,
		exchange: DefaultExchange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// envelope is the wire form of one audit event.
type envelope struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	TransactionID string         `json:"transaction_id"`
	StepName      string         `json:"step_name,omitempty"`
	EventType     string         `json:"event_type"`
	Status        string         `json:"status"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Emit publishes the event. Implements polywrite.Sink.
func (s *Sink) Emit(ctx context.Context, event polywrite.AuditEvent) error {
	env := envelope{
		ID:            uuid.New().String(),
		Timestamp:     event.Timestamp,
		TransactionID: event.TransactionID.String(),
		StepName:      event.StepName.String(),
		EventType:     string(event.EventType),
		Status:        string(event.Status),
		DurationMS:    event.Duration.Milliseconds(),
		Extra:         event.Extra,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = s.ch.PublishWithContext(
		ctx,
		s.exchange,
		string(event.EventType), // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", s.exchange, event.EventType, err)
	}

	s.logger.Debug("published audit event",
		"exchange", s.exchange,
		"event_type", string(event.EventType),
		"transaction_id", env.TransactionID,
	)
	return nil
}

// Close releases the AMQP connection when the Sink owns one.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func declareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,
		exchangeKind,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}
