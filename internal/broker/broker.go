/**
 * @description
 * Package broker connects the configured event broker for both binaries: the
 * producer side used by the ATM service and admin tool, and the consumer side
 * used by `atm-admin watch`.
 *
 * @dependencies
 * - pkg/rabbitmq, pkg/kafka: Broker clients.
 * - go.uber.org/zap: Structured logging.
 */
package broker

import (
	"context"
	"fmt"

	"github.com/transfa/atm-service/internal/app"
	"github.com/transfa/atm-service/internal/config"
	"github.com/transfa/atm-service/pkg/kafka"
	rmrabbit "github.com/transfa/atm-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

// WatchPatterns are the RabbitMQ bindings that cover every event the service emits.
var WatchPatterns = []string{"ledger.#", "machine.#"}

// NewPublisher connects the configured broker. RabbitMQ falls back to a logging
// no-op when the broker is unreachable; EventBrokerNone yields a nil publisher,
// which disables events. The returned close func is never nil.
func NewPublisher(cfg config.Config, logger *zap.Logger) (app.Publisher, func(), error) {
	bootLog := logger.With(zap.String("component", "bootstrap"))

	switch cfg.EventBroker {
	case config.EventBrokerRabbitMQ:
		producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			bootLog.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
			return &rmrabbit.EventProducerFallback{Logger: logger}, func() {}, nil
		}
		bootLog.Info("rabbitmq producer connected")
		return producer, producer.Close, nil

	case config.EventBrokerKafka:
		producer, err := kafka.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("kafka producer init failed: %w", err)
		}
		bootLog.Info("kafka producer ready", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return producer, producer.Close, nil

	case config.EventBrokerNone:
		bootLog.Info("event publishing disabled")
		return nil, func() {}, nil
	}
	return nil, func() {}, fmt.Errorf("unsupported event broker %q", cfg.EventBroker)
}

// Watch feeds every event to handler until ctx ends. group names the durable
// RabbitMQ queue or Kafka consumer group; empty means a throwaway subscription
// that only sees new events.
func Watch(ctx context.Context, cfg config.Config, group string, handler func(routingKey string, body []byte) bool, logger *zap.Logger) error {
	switch cfg.EventBroker {
	case config.EventBrokerRabbitMQ:
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer init failed: %w", err)
		}
		defer consumer.Close()
		return consumer.Consume(ctx, cfg.EventExchange, group, WatchPatterns, handler)

	case config.EventBrokerKafka:
		return kafka.Consume(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, group, handler, logger.With(zap.String("component", "kafka_consumer")))
	}
	return fmt.Errorf("event broker %q cannot be watched", cfg.EventBroker)
}
