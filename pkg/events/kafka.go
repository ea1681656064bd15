package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink writes events to one topic, keyed by symbol so that a
// partition sees a symbol's events in order.
type KafkaSink struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, log *zap.Logger) *KafkaSink {
	if log == nil {
		log = zap.NewNop()
	}
	k := &KafkaSink{log: log}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion:   k.completed,
	}
	return k
}

func (k *KafkaSink) completed(msgs []kafka.Message, err error) {
	if err != nil {
		k.log.Warn("kafka_publish_failed", zap.Int("messages", len(msgs)), zap.Error(err))
	}
}

func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
		Time: ev.At,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
