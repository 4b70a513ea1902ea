package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/pkg/metrics"
)

// KafkaConfig carries broker wiring for the event emitter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
	RequiredAcks int
}

// KafkaEmitter publishes domain events to a single topic, keyed by aggregate
// id so consumers see per-aggregate ordering. At-least-once: the writer
// retries internally and we surface the final error to the caller.
type KafkaEmitter struct {
	writer *kafka.Writer
}

func NewKafkaEmitter(cfg KafkaConfig) *KafkaEmitter {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}
	return &KafkaEmitter{writer: writer}
}

func (k *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		logger.LogError(ctx, err, "failed to emit event", "type", event.Type, "id", event.ID)
		return err
	}
	metrics.EventsEmitted.WithLabelValues(event.Type).Inc()
	return nil
}

func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}
