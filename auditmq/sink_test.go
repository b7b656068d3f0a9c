package auditmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifoldworks/polywrite"
)

type capturedPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []capturedPublish
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, capturedPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestEmitPublishesEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewFromChannel(ch, WithExchange("audit.test"))

	txID := uuid.New()
	event := polywrite.AuditEvent{
		Timestamp:     time.Now(),
		TransactionID: txID,
		StepName:      "vector_upsert",
		EventType:     polywrite.EventStepFailed,
		Status:        polywrite.StatusFailed,
		Duration:      120 * time.Millisecond,
		Extra:         map[string]any{"error": "qdrant unavailable"},
	}
	require.NoError(t, sink.Emit(context.Background(), event))

	require.Len(t, ch.published, 1)
	pub := ch.published[0]
	assert.Equal(t, "audit.test", pub.exchange)
	assert.Equal(t, string(polywrite.EventStepFailed), pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)
	assert.NotEmpty(t, pub.msg.MessageId)

	var env envelope
	require.NoError(t, json.Unmarshal(pub.msg.Body, &env))
	assert.Equal(t, pub.msg.MessageId, env.ID)
	assert.Equal(t, txID.String(), env.TransactionID)
	assert.Equal(t, "vector_upsert", env.StepName)
	assert.Equal(t, string(polywrite.EventStepFailed), env.EventType)
	assert.Equal(t, string(polywrite.StatusFailed), env.Status)
	assert.Equal(t, int64(120), env.DurationMS)
	assert.Equal(t, "qdrant unavailable", env.Extra["error"])
}

func TestEmitOmitsEmptyStepName(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewFromChannel(ch)

	require.NoError(t, sink.Emit(context.Background(), polywrite.AuditEvent{
		TransactionID: uuid.New(),
		EventType:     polywrite.EventTransactionStarted,
		Status:        polywrite.StatusExecuting,
	}))

	require.Len(t, ch.published, 1)
	assert.Equal(t, DefaultExchange, ch.published[0].exchange)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &decoded))
	assert.NotContains(t, decoded, "step_name")
	assert.NotContains(t, decoded, "duration_ms")
}

func TestEmitReportsPublishFailure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	sink := NewFromChannel(ch)

	err := sink.Emit(context.Background(), polywrite.AuditEvent{
		TransactionID: uuid.New(),
		EventType:     polywrite.EventTransactionCompleted,
	})
	require.ErrorContains(t, err, "channel closed")
}
