package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"token-stream-ledger/internal/domain"
)

// KafkaPublisher produces events to a Kafka topic, keyed by stream id so that
// one stream's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher creates a synchronous producer for brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = "stream-events"
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish implements Sink.
func (p *KafkaPublisher) Publish(_ context.Context, evs []*domain.Event) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(evs))
	for _, e := range evs {
		payload, err := Encode(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(e.StreamID, 10)),
			Value: sarama.ByteEncoder(payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("kind"), Value: []byte(e.Kind)},
			},
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("send messages: %w", err)
	}
	return nil
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

var _ Sink = (*KafkaPublisher)(nil)
