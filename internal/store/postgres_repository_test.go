package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
)

const testDatabaseURLEnv = "TEST_DATABASE_URL"

// Fixture cards kept apart from the seeded ones so a shared database is left as found.
const (
	pgCardLow  domain.CardNumber = "4000000000000101"
	pgCardHigh domain.CardNumber = "4000000000000102"
)

func openTestPostgres(t *testing.T) Repository {
	t.Helper()
	url := os.Getenv(testDatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set; skipping PostgreSQL tests", testDatabaseURLEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	repo, err := Open(ctx, OpenOptions{
		Driver:        DriverPostgres,
		DatabaseURL:   url,
		RunMigrations: true,
		MaxConns:      8,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func removeFixtureAccounts(ctx context.Context, repo Repository, cards ...domain.CardNumber) error {
	return WithTx(ctx, repo, func(tx Tx) error {
		for _, card := range cards {
			if err := tx.RemoveAccount(ctx, card); err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
				return err
			}
		}
		return nil
	})
}

// insertFixtureAccounts replaces any leftovers from an earlier run and removes
// the accounts again when the test ends.
func insertFixtureAccounts(t *testing.T, repo Repository, balances map[domain.CardNumber]decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	cards := make([]domain.CardNumber, 0, len(balances))
	for card := range balances {
		cards = append(cards, card)
	}
	if err := removeFixtureAccounts(ctx, repo, cards...); err != nil {
		t.Fatalf("failed to clear fixture accounts: %v", err)
	}
	err := WithTx(ctx, repo, func(tx Tx) error {
		for card, balance := range balances {
			if err := tx.InsertAccount(ctx, card, domain.HashPIN("1234"), balance, time.Now().UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to insert fixture accounts: %v", err)
	}
	t.Cleanup(func() {
		if err := removeFixtureAccounts(context.Background(), repo, cards...); err != nil {
			t.Errorf("failed to remove fixture accounts: %v", err)
		}
	})
}

func TestPostgresRepository_UnknownCardIsNotFound(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()
	if err := removeFixtureAccounts(ctx, repo, pgCardLow); err != nil {
		t.Fatalf("failed to clear fixture account: %v", err)
	}

	if _, err := repo.GetAccount(ctx, pgCardLow); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("GetAccount: expected ErrAccountNotFound, got %v", err)
	}
	err := WithTx(ctx, repo, func(tx Tx) error {
		if _, err := tx.LockCredential(ctx, pgCardLow); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Errorf("LockCredential: expected ErrAccountNotFound, got %v", err)
		}
		if _, err := tx.LockBalances(ctx, pgCardLow); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Errorf("LockBalances: expected ErrAccountNotFound, got %v", err)
		}
		if err := tx.SetBalance(ctx, pgCardLow, decimal.NewFromInt(1)); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Errorf("SetBalance: expected ErrAccountNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}
}

func TestPostgresRepository_DuplicateInsertIsAccountExists(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()
	insertFixtureAccounts(t, repo, map[domain.CardNumber]decimal.Decimal{pgCardLow: decimal.NewFromInt(10)})

	err := WithTx(ctx, repo, func(tx Tx) error {
		return tx.InsertAccount(ctx, pgCardLow, domain.HashPIN("0000"), decimal.Zero, time.Now().UTC())
	})
	if !errors.Is(err, domain.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestPostgresRepository_RollbackAfterCommitIsNoop(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()
	insertFixtureAccounts(t, repo, map[domain.CardNumber]decimal.Decimal{pgCardLow: decimal.NewFromInt(10)})

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.SetBalance(ctx, pgCardLow, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("SetBalance returned error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit returned error: %v", err)
	}

	account, err := repo.GetAccount(ctx, pgCardLow)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected committed balance 25, got %s", account.Balance)
	}
}

func TestPostgresRepository_RollbackDiscardsWrites(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()
	insertFixtureAccounts(t, repo, map[domain.CardNumber]decimal.Decimal{pgCardLow: decimal.NewFromInt(10)})

	failure := errors.New("abort")
	err := WithTx(ctx, repo, func(tx Tx) error {
		if err := tx.SetBalance(ctx, pgCardLow, decimal.NewFromInt(99)); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected abort error, got %v", err)
	}

	account, err := repo.GetAccount(ctx, pgCardLow)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10 after rollback, got %s", account.Balance)
	}
}

// Units naming the same two cards in opposite order must all finish: LockBalances
// takes the row locks in ascending card order whatever order it is given.
func TestPostgresRepository_OpposingLockOrderDoesNotDeadlock(t *testing.T) {
	repo := openTestPostgres(t)
	insertFixtureAccounts(t, repo, map[domain.CardNumber]decimal.Decimal{
		pgCardLow:  decimal.NewFromInt(1000),
		pgCardHigh: decimal.NewFromInt(1000),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	move := func(from, to domain.CardNumber, amount decimal.Decimal) error {
		return WithTx(ctx, repo, func(tx Tx) error {
			balances, err := tx.LockBalances(ctx, from, to)
			if err != nil {
				return err
			}
			if balances[from].LessThan(amount) {
				return domain.ErrInsufficientFunds
			}
			if err := tx.SetBalance(ctx, from, balances[from].Sub(amount)); err != nil {
				return err
			}
			return tx.SetBalance(ctx, to, balances[to].Add(amount))
		})
	}

	const rounds = 20
	errs := make(chan error, 2*rounds)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- move(pgCardLow, pgCardHigh, decimal.NewFromInt(7))
		}()
		go func() {
			defer wg.Done()
			errs <- move(pgCardHigh, pgCardLow, decimal.NewFromInt(3))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("transfer returned error: %v", err)
		}
	}

	low, err := repo.GetAccount(context.Background(), pgCardLow)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	high, err := repo.GetAccount(context.Background(), pgCardHigh)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !low.Balance.Equal(decimal.NewFromInt(920)) || !high.Balance.Equal(decimal.NewFromInt(1080)) {
		t.Fatalf("expected balances 920/1080, got %s/%s", low.Balance, high.Balance)
	}
}
