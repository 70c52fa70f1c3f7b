package app

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
)

func newTestAdmin(t *testing.T, opts ...Option) (*AdminService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []Option{WithClock(clock.Now), WithLogger(zap.NewNop())}
	return NewAdminService(newSeededRepo(t), append(base, opts...)...), clock
}

func TestAdminService_CreateAccount(t *testing.T) {
	admin, clock := newTestAdmin(t)
	ctx := context.Background()

	account, err := admin.CreateAccount(ctx, " 4000111122223333 ", "4321", amount("250.50"))
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if account.CardNumber != "4000111122223333" || !account.Balance.Equal(amount("250.50")) {
		t.Fatalf("unexpected account %+v", account)
	}

	c := newTestController(admin.repo, clock)
	mustLogin(t, c, "4000111122223333", "4321")
}

func TestAdminService_CreateAccountValidation(t *testing.T) {
	admin, _ := newTestAdmin(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		card    string
		pin     string
		balance string
		want    error
	}{
		{name: "duplicate", card: cardA, pin: "1234", balance: "0", want: domain.ErrAccountExists},
		{name: "short card", card: "1234", pin: "1234", balance: "0", want: domain.ErrInvalidCardNumber},
		{name: "letters", card: "1111aaaa33334444", pin: "1234", balance: "0", want: domain.ErrInvalidCardNumber},
		{name: "reserved", card: string(domain.ReservedAdminCard), pin: "1234", balance: "0", want: domain.ErrReservedCard},
		{name: "pin too long", card: "4000111122223333", pin: "12345", balance: "0", want: domain.ErrInvalidPINFormat},
		{name: "pin not digits", card: "4000111122223333", pin: "12a4", balance: "0", want: domain.ErrInvalidPINFormat},
		{name: "negative balance", card: "4000111122223333", pin: "1234", balance: "-1", want: domain.ErrInvalidBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := admin.CreateAccount(ctx, tt.card, tt.pin, amount(tt.balance)); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAdminService_DeleteAccountRemovesHistory(t *testing.T) {
	admin, clock := newTestAdmin(t)
	ctx := context.Background()

	c := newTestController(admin.repo, clock)
	mustLogin(t, c, cardB, "0000")
	if _, err := c.Deposit(ctx, amount("1")); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}

	if err := admin.DeleteAccount(ctx, cardB); err != nil {
		t.Fatalf("DeleteAccount returned error: %v", err)
	}
	if _, err := admin.Account(ctx, cardB); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := admin.History(ctx, cardB, 10); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for history, got %v", err)
	}
	if err := admin.DeleteAccount(ctx, cardB); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected second delete to fail with ErrAccountNotFound, got %v", err)
	}
}

func TestAdminService_SetBalanceWritesNoLedgerRecord(t *testing.T) {
	admin, _ := newTestAdmin(t)
	ctx := context.Background()

	if err := admin.SetBalance(ctx, cardA, amount("42.10")); err != nil {
		t.Fatalf("SetBalance returned error: %v", err)
	}
	if got := balanceOf(t, admin.repo, cardA); !got.Equal(amount("42.10")) {
		t.Fatalf("expected 42.10, got %s", got)
	}
	if got := len(historyOf(t, admin.repo, cardA)); got != 0 {
		t.Fatalf("expected no ledger rows, got %d", got)
	}
	if err := admin.SetBalance(ctx, cardA, amount("-0.01")); !errors.Is(err, domain.ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
	if err := admin.SetBalance(ctx, "9999888877776666", amount("1")); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAdminService_ResetPINClearsLockout(t *testing.T) {
	admin, clock := newTestAdmin(t)
	ctx := context.Background()

	c := newTestController(admin.repo, clock)
	for i := 0; i < domain.MaxFailedAttempts; i++ {
		if ok, _ := c.Login(ctx, cardA, "9999"); ok {
			t.Fatalf("expected rejection")
		}
	}

	if err := admin.ResetPIN(ctx, cardA, ""); err != nil {
		t.Fatalf("ResetPIN returned error: %v", err)
	}
	account, _ := admin.Account(ctx, cardA)
	if account.FailedAttempts != 0 || account.LockedUntil != nil {
		t.Fatalf("expected lockout cleared, got %+v", account)
	}
	mustLogin(t, c, cardA, domain.DefaultResetPIN)

	if err := admin.ResetPIN(ctx, cardA, "7777"); err != nil {
		t.Fatalf("ResetPIN returned error: %v", err)
	}
	mustLogin(t, c, cardA, "7777")

	if err := admin.ResetPIN(ctx, cardA, "77"); !errors.Is(err, domain.ErrInvalidPINFormat) {
		t.Fatalf("expected ErrInvalidPINFormat, got %v", err)
	}
}

func TestAdminService_Transfer(t *testing.T) {
	publisher := &recordingPublisher{}
	notifier := NewEventNotifier(publisher, "atm.events", zap.NewNop())
	admin, _ := newTestAdmin(t, WithEvents(notifier))
	ctx := context.Background()

	records, err := admin.Transfer(ctx, cardB, cardA, amount("500"))
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if len(records) != 2 || records[0].Kind != domain.OpAdminTransferOut || records[1].Kind != domain.OpAdminTransferIn {
		t.Fatalf("unexpected records %+v", records)
	}
	if !records[0].BalanceAfter.Equal(amount("4500")) || !records[1].BalanceAfter.Equal(amount("10500")) {
		t.Fatalf("unexpected balances after %+v", records)
	}

	got := publisher.published()
	if len(got) != 2 || got[0] != "ledger.admin_transfer_out" || got[1] != "ledger.admin_transfer_in" {
		t.Fatalf("unexpected published routing keys %v", got)
	}

	if _, err := admin.Transfer(ctx, cardA, cardA, amount("1")); !errors.Is(err, domain.ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
	if _, err := admin.Transfer(ctx, cardB, cardA, amount("4500.01")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := admin.Transfer(ctx, cardB, string(domain.ReservedAdminCard), amount("1")); !errors.Is(err, domain.ErrReservedCard) {
		t.Fatalf("expected ErrReservedCard, got %v", err)
	}
}

func TestAdminService_AccountsAndMachineCash(t *testing.T) {
	admin, _ := newTestAdmin(t)
	ctx := context.Background()

	accounts, err := admin.Accounts(ctx)
	if err != nil {
		t.Fatalf("Accounts returned error: %v", err)
	}
	if len(accounts) != 2 || accounts[0].CardNumber != cardA || accounts[1].CardNumber != cardB {
		t.Fatalf("unexpected accounts %+v", accounts)
	}

	if err := admin.SetMachineCash(ctx, amount("1234.50")); err != nil {
		t.Fatalf("SetMachineCash returned error: %v", err)
	}
	cash, err := admin.MachineCash(ctx)
	if err != nil || !cash.Equal(amount("1234.50")) {
		t.Fatalf("expected 1234.50, got %s (err %v)", cash, err)
	}
	if err := admin.SetMachineCash(ctx, amount("-1")); !errors.Is(err, domain.ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
}
