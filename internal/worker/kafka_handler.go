package worker

import (
	"context"

	"github.com/example/sendgrid-mailer/internal/kafka/consumer"
)

// KafkaHandler returns a consumer.Handler that converts Kafka consumer
// records into worker records and delegates processing to the engine. The
// commit of the underlying offset is bound to the worker record so the engine
// can acknowledge it after successful processing.
func KafkaHandler(engine *Engine, cons *consumer.Consumer) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if engine == nil || rec == nil {
			return nil
		}

		wr := &Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       cloneBytes(rec.Key),
			Value:     cloneBytes(rec.Value),
			Timestamp: rec.Timestamp,
			Headers:   cloneHeaders(rec.Headers),
		}
		if cons != nil {
			wr.commit = func(c context.Context) error {
				return cons.Commit(c, rec)
			}
		}

		engine.HandleRecord(ctx, wr)
		return nil
	}
}
