package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

const (
	cardA domain.CardNumber = "1111222233334444"
	cardB domain.CardNumber = "5555666677778888"
)

func newSeededMemoryRepository(t *testing.T) *MemoryRepository {
	t.Helper()
	repo := NewMemoryRepository()
	if err := Provision(context.Background(), repo, DefaultSeed()); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	return repo
}

func TestMemoryRepository_ProvisionSeedsDefaults(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()

	cash, err := repo.MachineCash(ctx)
	if err != nil {
		t.Fatalf("MachineCash returned error: %v", err)
	}
	if !cash.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected cash 100000, got %s", cash)
	}

	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts returned error: %v", err)
	}
	if len(accounts) != 2 || accounts[0].CardNumber != cardA || accounts[1].CardNumber != cardB {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
}

func TestMemoryRepository_RollbackDiscardsWrites(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.SetBalance(ctx, cardA, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("SetBalance returned error: %v", err)
	}
	if err := tx.SetMachineCash(ctx, decimal.Zero); err != nil {
		t.Fatalf("SetMachineCash returned error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}

	account, err := repo.GetAccount(ctx, cardA)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected balance to remain 10000, got %s", account.Balance)
	}
	cash, _ := repo.MachineCash(ctx)
	if !cash.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected cash to remain 100000, got %s", cash)
	}
}

func TestMemoryRepository_TxIsUnusableAfterCommit(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("expected rollback after commit to be a no-op, got %v", err)
	}
	if _, err := tx.LockBalances(ctx, cardA); !errors.Is(err, ErrTxDone) {
		t.Fatalf("expected ErrTxDone, got %v", err)
	}
}

func TestMemoryRepository_BeginHonoursContext(t *testing.T) {
	repo := newSeededMemoryRepository(t)

	held, err := repo.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	defer held.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := repo.Begin(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while another unit holds the store, got %v", err)
	}
}

func TestMemoryRepository_LockBalancesMissingAccount(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.LockBalances(ctx, cardA, "9999888877776666"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestMemoryRepository_ListTransactionsNewestFirst(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	err := WithTx(ctx, repo, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			rec := &domain.Transaction{
				CardNumber:   cardA,
				Kind:         domain.OpDeposit,
				Amount:       decimal.NewFromInt(int64(i + 1)),
				BalanceAfter: decimal.NewFromInt(10000),
				CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.AppendTransaction(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}

	history, err := repo.ListTransactions(ctx, cardA, 2)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history))
	}
	if !history[0].Amount.Equal(decimal.NewFromInt(3)) || !history[1].Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected newest first, got %s then %s", history[0].Amount, history[1].Amount)
	}

	empty, err := repo.ListTransactions(ctx, cardB, 10)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", empty)
	}
}

func TestMemoryRepository_RemoveAccountCascadesHistory(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()

	err := WithTx(ctx, repo, func(tx Tx) error {
		return tx.AppendTransaction(ctx, &domain.Transaction{CardNumber: cardB, Kind: domain.OpDeposit, Amount: decimal.NewFromInt(1), BalanceAfter: decimal.NewFromInt(5001)})
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := WithTx(ctx, repo, func(tx Tx) error { return tx.RemoveAccount(ctx, cardB) }); err != nil {
		t.Fatalf("RemoveAccount failed: %v", err)
	}

	if _, err := repo.GetAccount(ctx, cardB); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	history, _ := repo.ListTransactions(ctx, cardB, 10)
	if len(history) != 0 {
		t.Fatalf("expected history to be removed, got %d records", len(history))
	}
}

func TestMemoryRepository_SnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	ctx := context.Background()

	repo, loaded, err := OpenMemoryRepository(path)
	if err != nil {
		t.Fatalf("OpenMemoryRepository returned error: %v", err)
	}
	if loaded {
		t.Fatalf("expected no snapshot on first open")
	}
	if err := Provision(ctx, repo, DefaultSeed()); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	err = WithTx(ctx, repo, func(tx Tx) error {
		if err := tx.SetBalance(ctx, cardA, decimal.RequireFromString("9876.54")); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &domain.Transaction{CardNumber: cardA, Kind: domain.OpWithdraw, Amount: decimal.RequireFromString("123.46"), BalanceAfter: decimal.RequireFromString("9876.54")})
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}

	reopened, loaded, err := OpenMemoryRepository(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if !loaded {
		t.Fatalf("expected snapshot to be loaded")
	}
	account, err := reopened.GetAccount(ctx, cardA)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("9876.54")) {
		t.Fatalf("expected persisted balance 9876.54, got %s", account.Balance)
	}
	history, _ := reopened.ListTransactions(ctx, cardA, 10)
	if len(history) != 1 || history[0].Kind != domain.OpWithdraw {
		t.Fatalf("unexpected persisted history %+v", history)
	}
}

func openSharedSnapshot(t *testing.T, path string) *MemoryRepository {
	t.Helper()
	repo, _, err := OpenMemoryRepository(path)
	if err != nil {
		t.Fatalf("OpenMemoryRepository returned error: %v", err)
	}
	return repo
}

func TestMemoryRepository_SharedSnapshotKeepsEveryWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	ctx := context.Background()

	server := openSharedSnapshot(t, path)
	admin := openSharedSnapshot(t, path)
	if err := Provision(ctx, server, DefaultSeed()); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}

	// Withdraw 3000 through the first handle.
	err := WithTx(ctx, server, func(tx Tx) error {
		balances, err := tx.LockBalances(ctx, cardA)
		if err != nil {
			return err
		}
		cash, err := tx.LockMachineCash(ctx)
		if err != nil {
			return err
		}
		amount := decimal.NewFromInt(3000)
		after := balances[cardA].Sub(amount)
		if err := tx.SetBalance(ctx, cardA, after); err != nil {
			return err
		}
		if err := tx.SetMachineCash(ctx, cash.Sub(amount)); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &domain.Transaction{CardNumber: cardA, Kind: domain.OpWithdraw, Amount: amount, BalanceAfter: after})
	})
	if err != nil {
		t.Fatalf("withdraw returned error: %v", err)
	}

	// The second handle sees the withdrawal and builds on it.
	account, err := admin.GetAccount(ctx, cardA)
	if err != nil || !account.Balance.Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("expected second handle to read 7000, got %v (err %v)", account, err)
	}
	err = WithTx(ctx, admin, func(tx Tx) error {
		cash, err := tx.LockMachineCash(ctx)
		if err != nil {
			return err
		}
		return tx.SetMachineCash(ctx, cash.Add(decimal.NewFromInt(500)))
	})
	if err != nil {
		t.Fatalf("replenish returned error: %v", err)
	}

	reopened := openSharedSnapshot(t, path)
	account, _ = reopened.GetAccount(ctx, cardA)
	cash, _ := reopened.MachineCash(ctx)
	history, _ := reopened.ListTransactions(ctx, cardA, 10)
	if !account.Balance.Equal(decimal.NewFromInt(7000)) || !cash.Equal(decimal.NewFromInt(97500)) || len(history) != 1 {
		t.Fatalf("expected balance=7000 cash=97500 ledger_rows=1, got balance=%s cash=%s ledger_rows=%d", account.Balance, cash, len(history))
	}
}

func TestMemoryRepository_SharedSnapshotSerialisesUnits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	ctx := context.Background()

	first := openSharedSnapshot(t, path)
	second := openSharedSnapshot(t, path)
	if err := Provision(ctx, first, DefaultSeed()); err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}

	tx, err := first.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := second.Begin(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the second unit to wait for the first, got %v", err)
	}
	if _, err := second.MachineCash(waitCtx); err == nil {
		t.Fatalf("expected reads to wait for the open unit")
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	if _, err := second.MachineCash(ctx); err != nil {
		t.Fatalf("expected read after rollback to succeed, got %v", err)
	}
}

func TestMemoryRepository_CorruptSnapshotIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if _, _, err := OpenMemoryRepository(path); err == nil {
		t.Fatalf("expected a decode error")
	}
}
