package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/transfa/atm-service/internal/domain"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// WithTx runs fn inside one unit of work. The unit is rolled back when fn returns an
// error or panics and committed otherwise. Begin, commit and rollback failures are
// returned to the caller.
func WithTx(ctx context.Context, repo Repository, fn func(tx Tx) error) (err error) {
	tx, err := repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SortedCards returns a deduplicated copy of cards in ascending order, the order
// in which account rows are locked.
func SortedCards(cards []domain.CardNumber) []domain.CardNumber {
	seen := make(map[domain.CardNumber]struct{}, len(cards))
	out := make([]domain.CardNumber, 0, len(cards))
	for _, c := range cards {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClampHistoryLimit applies the default for non-positive limits and caps large ones.
func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// ErrTxDone is returned when a finished unit of work is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")
