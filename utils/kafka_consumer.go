package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	log "github.com/sirupsen/logrus"

	"VoteBoard/budget"
)

// StartKafkaConsumer reads vote events until ctx is done and hands each one to handle.
// Undecodable messages and handler errors are logged and skipped.
func StartKafkaConsumer(ctx context.Context, brokers, groupID, topic string, handle func(context.Context, budget.VoteEvent) error) error {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          groupID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	defer c.Close()

	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := c.ReadMessage(500 * time.Millisecond)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			log.WithError(err).Warn("kafka consumer error")
			continue
		}

		e, err := DecodeVoteEvent(msg.Value)
		if err != nil {
			log.WithError(err).WithField("offset", msg.TopicPartition.Offset).Warn("skipping vote event")
			continue
		}
		if err := handle(ctx, e); err != nil {
			log.WithError(err).WithField("user_id", e.UserID).Warn("vote event handler failed")
		}
	}
}
