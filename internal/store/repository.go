/**
 * @description
 * This file defines the storage contracts for the ATM controller. The leaf
 * interfaces (credentials, balances, transaction log) are only reachable through
 * a Tx, so every write participates in one atomic unit that is either committed
 * or rolled back as a whole.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Monetary values.
 * - internal/domain: Domain models and sentinel errors.
 */

package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

// CredentialStore reads and writes the authentication columns of one account.
type CredentialStore interface {
	// LockCredential loads the credential and holds its row until the unit ends.
	LockCredential(ctx context.Context, card domain.CardNumber) (*domain.Credential, error)
	SaveLoginState(ctx context.Context, card domain.CardNumber, state domain.LoginState) error
	SetPINHash(ctx context.Context, card domain.CardNumber, pinHash string) error
}

// BalanceLedger reads and writes account balances and the machine cash counter.
// Accounts must be locked before machine cash within one unit.
type BalanceLedger interface {
	// LockBalances locks the given accounts in ascending card order and returns their balances.
	// A missing account yields domain.ErrAccountNotFound.
	LockBalances(ctx context.Context, cards ...domain.CardNumber) (map[domain.CardNumber]decimal.Decimal, error)
	SetBalance(ctx context.Context, card domain.CardNumber, balance decimal.Decimal) error
	LockMachineCash(ctx context.Context) (decimal.Decimal, error)
	SetMachineCash(ctx context.Context, cash decimal.Decimal) error
}

// TransactionLog appends immutable ledger records. AppendTransaction assigns rec.ID.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, rec *domain.Transaction) error
}

// AccountWriter provisions and removes accounts. RemoveAccount also removes the account's history.
type AccountWriter interface {
	InsertAccount(ctx context.Context, card domain.CardNumber, pinHash string, balance decimal.Decimal, createdAt time.Time) error
	RemoveAccount(ctx context.Context, card domain.CardNumber) error
}

// Tx is one atomic unit. After Commit, Rollback is a no-op.
type Tx interface {
	CredentialStore
	BalanceLedger
	TransactionLog
	AccountWriter

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is the entry point to the shared store.
type Repository interface {
	// Unit of work
	Begin(ctx context.Context) (Tx, error)

	// Read-only queries, no atomicity requirement
	GetAccount(ctx context.Context, card domain.CardNumber) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListTransactions(ctx context.Context, card domain.CardNumber, limit int) ([]domain.Transaction, error)
	MachineCash(ctx context.Context) (decimal.Decimal, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}
