package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery. Returning false re-queues the message.
type Handler func(routingKey string, body []byte) bool

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, logger: logger.With(zap.String("component", "rabbitmq_consumer"))}, nil
}

// Consume binds queueName to exchange for every pattern and feeds deliveries to
// handler until ctx ends or the channel closes. An empty queueName declares an
// exclusive, auto-deleted queue.
func (c *Consumer) Consume(ctx context.Context, exchange, queueName string, patterns []string, handler Handler) error {
	if len(patterns) == 0 {
		return fmt.Errorf("no bindings provided")
	}
	if handler == nil {
		return fmt.Errorf("nil handler")
	}

	if err := declareExchange(c.ch, exchange); err != nil {
		return err
	}

	durable := queueName != ""
	q, err := c.ch.QueueDeclare(queueName, durable, !durable, !durable, false, nil)
	if err != nil {
		return err
	}

	for _, pattern := range patterns {
		if err := c.ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if handler(d.RoutingKey, d.Body) {
				d.Ack(false)
				continue
			}
			c.logger.Warn("handler failed; re-queuing", zap.String("routing_key", d.RoutingKey))
			d.Nack(false, true)
		}
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
