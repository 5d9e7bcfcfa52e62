package lockbox

import (
	"context"
	"encoding/json"
	"log/slog"

	g "github.com/pandodao/generic"
	"github.com/segmentio/kafka-go"
)

// Emitter publishes one notification per completed transition. Emission
// happens after the storage commit; the store is the source of truth and a
// failed publish never fails the operation.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
}

// LogEmitter writes events to the process log.
type LogEmitter struct{}

var _ Emitter = LogEmitter{}

func (LogEmitter) Emit(_ context.Context, evt *Event) error {
	slog.Info(
		"event",
		slog.String("topic", evt.Topic),
		slog.String("id", evt.ID.String()),
		slog.Any("payload", evt.Payload),
	)

	return nil
}

// KafkaEmitter publishes events to one kafka topic per transition kind.
type KafkaEmitter struct {
	writer *kafka.Writer
}

var _ Emitter = (*KafkaEmitter)(nil)

func NewKafkaEmitter(brokers []string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (e *KafkaEmitter) Emit(ctx context.Context, evt *Event) error {
	return e.writer.WriteMessages(ctx, kafka.Message{
		Topic: evt.Topic,
		Key:   []byte(evt.ID.String()),
		Value: g.Must(json.Marshal(evt)),
	})
}

func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
