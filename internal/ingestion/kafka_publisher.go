package ingestion

import (
	"CricLedger/internal/event"
	"CricLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes ledger events to one Kafka topic, keyed by the
// envelope key so every event of one aggregate lands on one partition.
type KafkaPublisher struct {
	writer  *kafka.Writer
	metrics *observability.Metrics
}

var _ event.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, metrics *observability.Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: DefaultPublishTimeout,
		},
		metrics: metrics,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e event.Envelope) error {
	msg, err := kafkaMessage(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		countPublish(p.metrics, "kafka", e, err)
		return fmt.Errorf("kafka write %s: %w", e.Type, err)
	}
	countPublish(p.metrics, "kafka", e, nil)
	return nil
}

func kafkaMessage(e event.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.Key),
		Value: data,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID.String())},
			{Key: "event_type", Value: []byte(e.Type.String())},
		},
	}, nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
