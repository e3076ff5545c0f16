package distribution

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"whale-signal-engine/internal/domain"
)

// KafkaConsumer publishes deliveries to a Kafka topic keyed by signal id.
type KafkaConsumer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaConsumer connects a synchronous producer to brokers.
// Retries are left to the distributor.
func NewKafkaConsumer(brokers []string, topic string) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaConsumerWithProducer(producer, topic), nil
}

// NewKafkaConsumerWithProducer wraps an existing producer.
func NewKafkaConsumerWithProducer(producer sarama.SyncProducer, topic string) *KafkaConsumer {
	return &KafkaConsumer{producer: producer, topic: topic}
}

func (k *KafkaConsumer) Name() string { return "kafka" }

// Deliver sends d as JSON. Encoding failures are permanent.
func (k *KafkaConsumer) Deliver(_ context.Context, d *domain.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode delivery: %w", err))
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(d.Signal.SignalID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send to %s: %w", k.topic, err)
	}
	return nil
}

// Close closes the producer.
func (k *KafkaConsumer) Close() error {
	return k.producer.Close()
}
