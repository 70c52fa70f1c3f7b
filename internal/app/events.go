package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
)

const cashLowRoutingKey = "machine.cash.low"

// Publisher is implemented by the RabbitMQ and Kafka producers.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EventNotifier publishes events for units that have already committed. A publish
// failure is logged and never reported to the caller, whose operation succeeded.
type EventNotifier struct {
	publisher Publisher
	exchange  string
	logger    *zap.Logger
}

// NewEventNotifier returns nil when publisher is nil; a nil notifier drops events.
func NewEventNotifier(publisher Publisher, exchange string, logger *zap.Logger) *EventNotifier {
	if publisher == nil {
		return nil
	}
	return &EventNotifier{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger.With(zap.String("component", "events")),
	}
}

// LedgerCommitted publishes one event per record.
func (n *EventNotifier) LedgerCommitted(ctx context.Context, events ...domain.LedgerEvent) {
	if n == nil {
		return
	}
	for _, event := range events {
		if err := n.publisher.Publish(ctx, n.exchange, event.RoutingKey(), event); err != nil {
			n.logger.Warn("ledger event publish failed",
				zap.String("routing_key", event.RoutingKey()),
				zap.String("event_id", event.EventID.String()),
				zap.Error(err),
			)
		}
	}
}

// CashLow publishes a low-cash alert.
func (n *EventNotifier) CashLow(ctx context.Context, cash, watermark decimal.Decimal, observedAt time.Time) {
	if n == nil {
		return
	}
	event := domain.CashLowEvent{
		EventID:    uuid.New(),
		CashTotal:  cash,
		Watermark:  watermark,
		ObservedAt: observedAt,
	}
	if err := n.publisher.Publish(ctx, n.exchange, cashLowRoutingKey, event); err != nil {
		n.logger.Warn("cash low event publish failed", zap.Error(err))
	}
}
