package producer

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	config *sarama.Config
}

// WithConfig supplies a preconfigured Sarama config. The configuration is
// used as-is; callers should not mutate it afterwards.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// Producer wraps a Sarama sync producer. Status and DLQ events must be
// acknowledged by the broker before processing continues, so only synchronous
// publishing is exposed.
type Producer struct {
	logger zerolog.Logger

	client       sarama.Client
	syncProducer sarama.SyncProducer
}

// New constructs a Producer using the supplied broker list and logger.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{config: defaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	client, err := sarama.NewClient(brokers, settings.config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	return &Producer{
		logger:       logger,
		client:       client,
		syncProducer: syncProd,
	}, nil
}

// PublishSync publishes a message and waits for the broker to acknowledge
// receipt. Required acks default to WaitForAll.
func (p *Producer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: toRecordHeaders(headers),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}

	p.logger.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("kafka producer message acknowledged")
	return nil
}

// Close releases the underlying Sarama producer and client.
func (p *Producer) Close() error {
	var errs []error
	if err := p.syncProducer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
	return out
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "sendgrid-mailer-producer"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}
