package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

type beginFailRepo struct {
	Repository
}

func (beginFailRepo) Begin(context.Context) (Tx, error) {
	return nil, errors.New("connection refused")
}

type commitFailRepo struct {
	*MemoryRepository
}

func (r commitFailRepo) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.MemoryRepository.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &commitFailTx{Tx: tx}, nil
}

type commitFailTx struct {
	Tx
}

func (t *commitFailTx) Commit(ctx context.Context) error {
	_ = t.Tx.Rollback(ctx)
	return errors.New("commit lost")
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, repo, func(tx Tx) error {
		if err := tx.SetBalance(ctx, cardA, decimal.Zero); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	account, _ := repo.GetAccount(ctx, cardA)
	if !account.Balance.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected balance untouched, got %s", account.Balance)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	repo := newSeededMemoryRepository(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = WithTx(ctx, repo, func(tx Tx) error {
			_ = tx.SetMachineCash(ctx, decimal.Zero)
			panic("unexpected")
		})
	}()

	cash, err := repo.MachineCash(ctx)
	if err != nil {
		t.Fatalf("expected store lock to be released after panic, got %v", err)
	}
	if !cash.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected cash untouched, got %s", cash)
	}
}

func TestWithTx_SurfacesBeginAndCommitFailures(t *testing.T) {
	ctx := context.Background()

	if err := WithTx(ctx, beginFailRepo{}, func(Tx) error { return nil }); err == nil {
		t.Fatalf("expected begin failure to be returned")
	}

	repo := commitFailRepo{MemoryRepository: newSeededMemoryRepository(t)}
	err := WithTx(ctx, repo, func(tx Tx) error {
		return tx.SetBalance(ctx, cardA, decimal.Zero)
	})
	if err == nil {
		t.Fatalf("expected commit failure to be returned")
	}
	account, _ := repo.GetAccount(ctx, cardA)
	if !account.Balance.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected balance untouched after failed commit, got %s", account.Balance)
	}
}

func TestSortedCards(t *testing.T) {
	got := SortedCards([]domain.CardNumber{cardB, cardA, cardB})
	if len(got) != 2 || got[0] != cardA || got[1] != cardB {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestClampHistoryLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultHistoryLimit},
		{-3, DefaultHistoryLimit},
		{5, 5},
		{500, MaxHistoryLimit},
	}
	for _, tt := range tests {
		if got := ClampHistoryLimit(tt.in); got != tt.want {
			t.Fatalf("ClampHistoryLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
