package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
	"github.com/transfa/atm-service/internal/store"
)

// moveFunds debits from and credits to inside tx and appends the two ledger
// records. Both accounts are locked in ascending card order before any write.
func moveFunds(
	ctx context.Context,
	tx store.Tx,
	from, to domain.CardNumber,
	amount decimal.Decimal,
	outKind, inKind domain.OperationKind,
	now time.Time,
) (out, in domain.Transaction, err error) {
	balances, err := tx.LockBalances(ctx, from, to)
	if err != nil {
		return out, in, err
	}

	fromBalance := balances[from]
	if amount.GreaterThan(fromBalance) {
		return out, in, domain.ErrInsufficientFunds
	}

	fromAfter := fromBalance.Sub(amount)
	toAfter := balances[to].Add(amount)

	if err := tx.SetBalance(ctx, from, fromAfter); err != nil {
		return out, in, err
	}
	if err := tx.SetBalance(ctx, to, toAfter); err != nil {
		return out, in, err
	}

	out = domain.Transaction{CardNumber: from, Kind: outKind, Amount: amount, BalanceAfter: fromAfter, CreatedAt: now}
	if err := tx.AppendTransaction(ctx, &out); err != nil {
		return out, in, err
	}
	in = domain.Transaction{CardNumber: to, Kind: inKind, Amount: amount, BalanceAfter: toAfter, CreatedAt: now}
	if err := tx.AppendTransaction(ctx, &in); err != nil {
		return out, in, err
	}
	return out, in, nil
}

// validateCounterparties applies the rules shared by session and administrative transfers.
func validateCounterparties(from, to domain.CardNumber) error {
	if to == "" || from == "" {
		return domain.ErrInvalidCardNumber
	}
	if from == to {
		return domain.ErrSameAccount
	}
	if from.IsReserved() || to.IsReserved() {
		return domain.ErrReservedCard
	}
	return nil
}
