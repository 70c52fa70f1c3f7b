package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
)

func TestEventTail_Handle(t *testing.T) {
	var buf bytes.Buffer
	tail := NewEventTail(&buf, zap.NewNop())

	rec := domain.Transaction{
		CardNumber:   cardA,
		Kind:         domain.OpTransferOut,
		Amount:       amount("20"),
		BalanceAfter: amount("80.5"),
		CreatedAt:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	body, _ := json.Marshal(domain.NewLedgerEvent(rec, cardB))
	if !tail.Handle("ledger.transfer_out", body) {
		t.Fatalf("expected ledger event to be acknowledged")
	}

	cashBody, _ := json.Marshal(domain.CashLowEvent{CashTotal: amount("100"), Watermark: amount("5000")})
	if !tail.Handle("machine.cash.low", cashBody) {
		t.Fatalf("expected cash event to be acknowledged")
	}
	if !tail.Handle("ledger.deposit", []byte("{not json")) {
		t.Fatalf("expected malformed event to be dropped")
	}
	if !tail.Handle("unknown.key", []byte("{}")) {
		t.Fatalf("expected unknown event to be dropped")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "Transfer sent") || !strings.Contains(lines[0], "amount=20.00") ||
		!strings.Contains(lines[0], "balance=80.50") || !strings.Contains(lines[0], "counterparty=") {
		t.Fatalf("unexpected ledger line %q", lines[0])
	}
	if strings.Contains(lines[0], cardA) {
		t.Fatalf("expected masked card in %q", lines[0])
	}
	if !strings.Contains(lines[1], "CASH LOW") || !strings.Contains(lines[1], "cash=100.00") {
		t.Fatalf("unexpected cash line %q", lines[1])
	}
}
