package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
)

// EventTail renders broker deliveries as one line each for operators. Its Handle
// method matches both the RabbitMQ and the Kafka consumer handler signatures.
type EventTail struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
}

func NewEventTail(out io.Writer, logger *zap.Logger) *EventTail {
	return &EventTail{out: out, logger: logger.With(zap.String("component", "event_tail"))}
}

// Handle always acknowledges: malformed payloads are logged and dropped.
func (t *EventTail) Handle(routingKey string, body []byte) bool {
	line, err := formatEvent(routingKey, body)
	if err != nil {
		t.logger.Warn("failed to decode event", zap.String("routing_key", routingKey), zap.Error(err))
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintln(t.out, line); err != nil {
		t.logger.Error("failed to write event", zap.Error(err))
		return false
	}
	return true
}

func formatEvent(routingKey string, body []byte) (string, error) {
	switch {
	case routingKey == cashLowRoutingKey:
		var event domain.CashLowEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s  CASH LOW      cash=%s watermark=%s",
			event.ObservedAt.UTC().Format("2006-01-02T15:04:05Z"),
			event.CashTotal.StringFixed(domain.AmountScale),
			event.Watermark.StringFixed(domain.AmountScale),
		), nil

	case strings.HasPrefix(routingKey, "ledger."):
		var event domain.LedgerEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return "", err
		}
		if event.Kind == "" {
			return "", fmt.Errorf("ledger event without kind")
		}
		label := event.Kind
		if kind, err := domain.ParseOperationKind(event.Kind); err == nil {
			label = kind.Label()
		}
		line := fmt.Sprintf("%s  %-22s %s amount=%s balance=%s",
			event.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"),
			label,
			event.CardNumber,
			event.Amount.StringFixed(domain.AmountScale),
			event.BalanceAfter.StringFixed(domain.AmountScale),
		)
		if event.Counterparty != "" {
			line += " counterparty=" + event.Counterparty
		}
		return line, nil
	}
	return "", fmt.Errorf("unsupported routing key %q", routingKey)
}
