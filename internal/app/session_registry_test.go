package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

func newTestRegistry(t *testing.T, idle time.Duration) (*SessionRegistry, *fakeClock) {
	t.Helper()
	repo := newSeededRepo(t)
	clock := newFakeClock()
	registry := NewSessionRegistry(func() *Controller {
		return newTestController(repo, clock)
	}, idle, clock.Now)
	return registry, clock
}

func TestSessionRegistry_OpenAndUse(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	id, card, ok, err := registry.Open(ctx, " "+cardA, "1234")
	if err != nil || !ok {
		t.Fatalf("expected session, got ok=%v err=%v", ok, err)
	}
	if card != cardA {
		t.Fatalf("expected bound card %s, got %s", cardA, card)
	}

	var balanceAfter decimal.Decimal
	err = registry.With(id, func(c *Controller) error {
		rec, err := c.Deposit(ctx, amount("5"))
		if err != nil {
			return err
		}
		balanceAfter = rec.BalanceAfter
		return nil
	})
	if err != nil {
		t.Fatalf("With returned error: %v", err)
	}
	if !balanceAfter.Equal(amount("10005")) {
		t.Fatalf("expected 10005, got %s", balanceAfter)
	}
}

func TestSessionRegistry_FailedLoginRegistersNothing(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Minute)

	id, _, ok, err := registry.Open(context.Background(), cardA, "0000")
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if id != uuid.Nil || registry.Len() != 0 {
		t.Fatalf("expected no session, got id=%s len=%d", id, registry.Len())
	}
}

func TestSessionRegistry_Close(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Minute)
	id, _, _, _ := registry.Open(context.Background(), cardB, "0000")

	if err := registry.Close(id); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := registry.With(id, func(*Controller) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := registry.Close(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second close, got %v", err)
	}
}

func TestSessionRegistry_IdleExpiry(t *testing.T) {
	registry, clock := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	idle, _, _, _ := registry.Open(ctx, cardA, "1234")
	active, _, _, _ := registry.Open(ctx, cardB, "0000")

	clock.Advance(45 * time.Second)
	if err := registry.With(active, func(*Controller) error { return nil }); err != nil {
		t.Fatalf("expected active session to be usable, got %v", err)
	}

	clock.Advance(30 * time.Second)
	if removed := registry.Sweep(); removed != 1 {
		t.Fatalf("expected one idle session to be swept, got %d", removed)
	}
	if err := registry.With(idle, func(*Controller) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected swept session to be gone, got %v", err)
	}

	clock.Advance(2 * time.Minute)
	err := registry.With(active, func(*Controller) error {
		t.Fatalf("expected expired session not to run")
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestSessionRegistry_LoggedOutControllerIsDropped(t *testing.T) {
	registry, _ := newTestRegistry(t, 0)
	id, _, _, _ := registry.Open(context.Background(), cardA, "1234")

	if err := registry.With(id, func(c *Controller) error {
		c.Logout()
		return nil
	}); err != nil {
		t.Fatalf("With returned error: %v", err)
	}
	if err := registry.With(id, func(*Controller) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRegistry_PropagatesOperationErrors(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Minute)
	id, _, _, _ := registry.Open(context.Background(), cardB, "0000")

	err := registry.With(id, func(c *Controller) error {
		_, err := c.Withdraw(context.Background(), amount("5000.01"))
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected session to survive a rejected operation")
	}
}
