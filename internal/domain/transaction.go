/**
 * @description
 * This file defines the ledger record and the event published once a ledger
 * write has been committed.
 *
 * @notes
 * - Amounts are shopspring decimals rounded to two places. Float types are never
 *   used for money.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one immutable entry of the transaction log.
type Transaction struct {
	ID           int64           `json:"id"`
	CardNumber   CardNumber      `json:"card_number"`
	Kind         OperationKind   `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LedgerEvent is the message broadcast after an atomic unit commits.
type LedgerEvent struct {
	EventID      uuid.UUID       `json:"event_id"`
	Kind         string          `json:"kind"`
	CardNumber   string          `json:"card_number"`
	Counterparty string          `json:"counterparty,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// RoutingKey returns the topic routing key for the event, e.g. "ledger.withdraw".
func (e LedgerEvent) RoutingKey() string {
	return "ledger." + e.Kind
}

// NewLedgerEvent builds the event for a committed record. Card numbers are masked.
func NewLedgerEvent(rec Transaction, counterparty CardNumber) LedgerEvent {
	event := LedgerEvent{
		EventID:      uuid.New(),
		Kind:         rec.Kind.String(),
		CardNumber:   rec.CardNumber.Masked(),
		Amount:       rec.Amount,
		BalanceAfter: rec.BalanceAfter,
		OccurredAt:   rec.CreatedAt,
	}
	if counterparty != "" {
		event.Counterparty = counterparty.Masked()
	}
	return event
}

// CashLowEvent is broadcast by the cash monitor when machine cash drops below the watermark.
type CashLowEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	CashTotal  decimal.Decimal `json:"cash_total"`
	Watermark  decimal.Decimal `json:"watermark"`
	ObservedAt time.Time       `json:"observed_at"`
}
