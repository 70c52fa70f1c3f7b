package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RoutingKeyHeader carries the event routing key alongside each message.
const RoutingKeyHeader = "routing_key"

// EventProducer publishes JSON events to a single topic. The exchange argument of
// Publish is recorded as a header so consumers can tell sources apart.
type EventProducer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewEventProducer(brokers []string, topic string, l *zap.Logger) (*EventProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       zap.NewStdLog(l.With(zap.String("kafka_component", "producer"))),
	}

	l.Info("Kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &EventProducer{writer: writer, topic: topic, logger: l.With(zap.String("component", "kafka_producer"))}, nil
}

// Message builds the record written for one event. Events with the same routing
// key land on the same partition.
func Message(exchange, routingKey string, body interface{}) (kafka.Message, error) {
	value, err := json.Marshal(body)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(routingKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: RoutingKeyHeader, Value: []byte(routingKey)},
			{Key: "exchange", Value: []byte(exchange)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Time: time.Now().UTC(),
	}, nil
}

func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	msg, err := Message(exchange, routingKey, body)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka topic",
			zap.String("topic", p.topic),
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return fmt.Errorf("failed to produce message: %w", err)
	}
	p.logger.Debug("Produced message to topic", zap.String("topic", p.topic), zap.String("routing_key", routingKey))
	return nil
}

func (p *EventProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka producer", zap.Error(err))
		return
	}
	p.logger.Info("Kafka producer closed.")
}
