package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/sendgrid-mailer/internal/models"
	"github.com/example/sendgrid-mailer/internal/worker"
)

// ErrProducerNotInitialised is returned when a publisher is used without a
// backing producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour required by the
// Kafka publishers.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

var eventHeaders = map[string][]byte{
	"content-type": []byte("application/json"),
}

// StatusPublisher emits lifecycle status events to a Kafka topic. It
// implements worker.StatusPublisher.
type StatusPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewStatusPublisher constructs a StatusPublisher instance.
func NewStatusPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *StatusPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &StatusPublisher{producer: prod, topic: topic, logger: logger}
}

// PublishStatus writes the supplied status event to Kafka synchronously.
func (p *StatusPublisher) PublishStatus(_ context.Context, msg *worker.ValidatedMessage, event worker.StatusEvent) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}
	if msg == nil {
		return errors.New("kafka publisher: message is required")
	}

	statusEvent := models.StatusEvent{
		MessageID:        msg.MessageID,
		Channel:          msg.Channel,
		EventType:        event.Type,
		Attempt:          event.Attempt,
		ProviderResponse: event.ProviderResponse,
		Error:            event.Error,
		TraceID:          msg.TraceID,
		Timestamp:        event.Timestamp,
	}

	payload, err := json.Marshal(statusEvent)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal status event: %w", err)
	}

	if err := p.producer.PublishSync(p.topic, []byte(msg.MessageID), eventHeaders, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish status event: %w", err)
	}
	return nil
}

// DLQPublisher writes DLQ records to the configured Kafka topic. It
// implements worker.DLQPublisher.
type DLQPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewDLQPublisher constructs a DLQPublisher instance.
func NewDLQPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *DLQPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &DLQPublisher{producer: prod, topic: topic, logger: logger}
}

// PublishDLQ writes the supplied DLQ payload to Kafka synchronously. The
// original message is embedded verbatim so operators can replay it.
func (p *DLQPublisher) PublishDLQ(_ context.Context, msg *worker.ValidatedMessage, payload worker.DLQPayload) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}
	if msg == nil {
		return errors.New("kafka publisher: message is required")
	}

	record := models.DLQRecord{
		MessageID:     msg.MessageID,
		Channel:       msg.Channel,
		Attempts:      payload.Attempts,
		FailureType:   string(payload.FailureType),
		LastError:     payload.LastError,
		FirstFailedAt: payload.FirstFailedAt,
		LastAttemptAt: payload.LastAttemptAt,
		TraceID:       msg.TraceID,
		Meta:          msg.Metadata,
	}
	if len(msg.RawPayload) > 0 && json.Valid(msg.RawPayload) {
		record.OriginalMessage = json.RawMessage(msg.RawPayload)
	} else if len(msg.RawPayload) > 0 {
		record.OriginalMessage = string(msg.RawPayload)
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal dlq record: %w", err)
	}

	if err := p.producer.PublishSync(p.topic, []byte(msg.MessageID), eventHeaders, encoded); err != nil {
		return fmt.Errorf("kafka publisher: publish dlq record: %w", err)
	}
	return nil
}
