package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"VoteBoard/budget"
)

// KafkaPublisher sends vote events to a topic, keyed by user id.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaPublisher creates a producer that gives up on a message after messageTimeout.
func NewKafkaPublisher(brokers, topic string, messageTimeout time.Duration) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"message.timeout.ms": int(messageTimeout.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: p, topic: topic}, nil
}

// Publish waits for the delivery report or ctx, whichever comes first.
func (k *KafkaPublisher) Publish(ctx context.Context, e budget.VoteEvent) error {
	value, err := EncodeVoteEvent(e)
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.UserID),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce vote event: %w", err)
	}

	select {
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver vote event: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding messages for up to 15s.
func (k *KafkaPublisher) Close() {
	k.producer.Flush(15 * 1000)
	k.producer.Close()
}
