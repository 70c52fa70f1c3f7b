package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

// SeedAccount is one account created at provisioning time.
type SeedAccount struct {
	Card    domain.CardNumber
	PIN     string
	Balance decimal.Decimal
}

// Seed describes the initial contents of an empty store.
type Seed struct {
	CashTotal decimal.Decimal
	Accounts  []SeedAccount
}

// DefaultSeed matches the rows inserted by the SQL seed migration.
func DefaultSeed() Seed {
	return Seed{
		CashTotal: decimal.NewFromInt(100000),
		Accounts: []SeedAccount{
			{Card: "1111222233334444", PIN: "1234", Balance: decimal.NewFromInt(10000)},
			{Card: "5555666677778888", PIN: "0000", Balance: decimal.NewFromInt(5000)},
		},
	}
}

// Provision writes the seed in one unit. Accounts that already exist are left untouched.
// PostgreSQL deployments are provisioned by migrations instead.
func Provision(ctx context.Context, repo Repository, seed Seed) error {
	now := time.Now().UTC()
	return WithTx(ctx, repo, func(tx Tx) error {
		if err := tx.SetMachineCash(ctx, seed.CashTotal); err != nil {
			return err
		}
		for _, acct := range seed.Accounts {
			err := tx.InsertAccount(ctx, acct.Card, domain.HashPIN(acct.PIN), acct.Balance, now)
			if err != nil && !errors.Is(err, domain.ErrAccountExists) {
				return err
			}
		}
		return nil
	})
}
