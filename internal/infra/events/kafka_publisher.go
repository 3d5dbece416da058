package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"course-payments/internal/domain/model"
	"course-payments/internal/domain/ports/adapter"
	"course-payments/internal/infra/logging"
)

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

// NewSyncProducer dials brokers with acks from all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "course-payments"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher writes payment events as JSON keyed by payment id, so all
// events of one payment land on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zerolog.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zerolog.Logger) *KafkaPublisher {
	l := logger.With().Str("component", "kafka_publisher").Str("topic", topic).Logger()
	return &KafkaPublisher{producer: producer, topic: topic, log: &l}
}

func (k *KafkaPublisher) Publish(ctx context.Context, evt model.PaymentEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte("event_type"), Value: []byte(evt.Type)},
		{Key: []byte("event_id"), Value: []byte(evt.ID)},
	}
	if tid := logging.TraceID(ctx); tid != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte("trace_id"), Value: []byte(tid)})
	}

	msg := &sarama.ProducerMessage{
		Topic:     k.topic,
		Key:       sarama.StringEncoder(evt.PaymentID),
		Value:     sarama.ByteEncoder(body),
		Headers:   headers,
		Timestamp: time.Now(),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	logging.With(ctx, k.log).Debug().
		Str("event_type", string(evt.Type)).
		Str("payment_id", evt.PaymentID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("payment event published")
	return nil
}

func (k *KafkaPublisher) Close() error { return k.producer.Close() }
