package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one message. Returning false leaves the offset uncommitted.
type Handler func(routingKey string, body []byte) bool

// RoutingKey returns the routing key header of m, falling back to its key.
func RoutingKey(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == RoutingKeyHeader {
			return string(h.Value)
		}
	}
	return string(m.Key)
}

// Consume reads topic as part of groupID until ctx ends. An empty groupID reads
// from the latest offset without committing.
func Consume(ctx context.Context, brokers []string, topic, groupID string, handler Handler, l *zap.Logger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		Logger:   zap.NewStdLog(l.With(zap.String("kafka_component", "consumer"))),
	}
	if groupID == "" {
		cfg.StartOffset = kafka.LastOffset
	} else {
		cfg.CommitInterval = time.Second
	}
	reader := kafka.NewReader(cfg)
	defer func() {
		if err := reader.Close(); err != nil {
			l.Error("Failed to close Kafka consumer", zap.Error(err))
		}
	}()

	l.Info("Kafka consumer started",
		zap.String("topic", topic),
		zap.String("group_id", groupID),
		zap.Strings("brokers", brokers))

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if !handler(RoutingKey(m), m.Value) {
			l.Warn("Error handling Kafka message",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset))
			continue
		}
		if groupID == "" {
			continue
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			l.Error("Failed to commit offset for message",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}
