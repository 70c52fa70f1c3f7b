/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Every atomic unit maps onto one database transaction. Rows are locked with
 * `SELECT ... FOR UPDATE`, accounts in ascending card order and the machine cash
 * row last, so two concurrent units touching the same rows cannot deadlock.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC(14,2) money columns.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Begin starts a database transaction at READ COMMITTED; row locks provide the
// per-account serialisation the money operations need.
func (r *PostgresRepository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

// GetAccount retrieves one account without locking it.
func (r *PostgresRepository) GetAccount(ctx context.Context, card domain.CardNumber) (*domain.Account, error) {
	var account domain.Account
	var cardNumber string
	query := `SELECT card_number, balance, failed_attempts, locked_until FROM accounts WHERE card_number = $1`
	err := r.db.QueryRow(ctx, query, card.String()).Scan(&cardNumber, &account.Balance, &account.FailedAttempts, &account.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	account.CardNumber = domain.CardNumber(cardNumber)
	return &account, nil
}

// ListAccounts returns every account ordered by card number.
func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT card_number, balance, failed_attempts, locked_until FROM accounts ORDER BY card_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		var cardNumber string
		if err := rows.Scan(&cardNumber, &account.Balance, &account.FailedAttempts, &account.LockedUntil); err != nil {
			return nil, err
		}
		account.CardNumber = domain.CardNumber(cardNumber)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// ListTransactions retrieves the most recent records for a card, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, card domain.CardNumber, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, card_number, kind, amount, balance_after, created_at
		FROM transactions
		WHERE card_number = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, card.String(), ClampHistoryLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		var rec domain.Transaction
		var cardNumber, kind string
		if err := rows.Scan(&rec.ID, &cardNumber, &kind, &rec.Amount, &rec.BalanceAfter, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CardNumber = domain.CardNumber(cardNumber)
		if rec.Kind, err = domain.ParseOperationKind(kind); err != nil {
			return nil, err
		}
		transactions = append(transactions, rec)
	}
	return transactions, rows.Err()
}

// MachineCash reads the cash counter without locking it.
func (r *PostgresRepository) MachineCash(ctx context.Context) (decimal.Decimal, error) {
	var cash decimal.Decimal
	if err := r.db.QueryRow(ctx, `SELECT cash_total FROM atm_state WHERE id = 1`).Scan(&cash); err != nil {
		return decimal.Zero, fmt.Errorf("failed to read machine cash: %w", err)
	}
	return cash, nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.db.Close()
}

// postgresTx implements Tx on top of a pgx transaction.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockCredential(ctx context.Context, card domain.CardNumber) (*domain.Credential, error) {
	var credential domain.Credential
	query := `
		SELECT pin_hash, failed_attempts, locked_until
		FROM accounts
		WHERE card_number = $1
		FOR UPDATE
	`
	err := t.tx.QueryRow(ctx, query, card.String()).Scan(
		&credential.PINHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock credential: %w", err)
	}
	credential.CardNumber = card
	return &credential, nil
}

func (t *postgresTx) SaveLoginState(ctx context.Context, card domain.CardNumber, state domain.LoginState) error {
	query := `
		UPDATE accounts
		SET failed_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE card_number = $1
	`
	result, err := t.tx.Exec(ctx, query, card.String(), state.FailedAttempts, state.LockedUntil)
	if err != nil {
		return fmt.Errorf("failed to save login state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) SetPINHash(ctx context.Context, card domain.CardNumber, pinHash string) error {
	result, err := t.tx.Exec(ctx, `UPDATE accounts SET pin_hash = $2, updated_at = NOW() WHERE card_number = $1`, card.String(), pinHash)
	if err != nil {
		return fmt.Errorf("failed to update pin: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) LockBalances(ctx context.Context, cards ...domain.CardNumber) (map[domain.CardNumber]decimal.Decimal, error) {
	balances := make(map[domain.CardNumber]decimal.Decimal, len(cards))
	// Deadlock prevention: one row at a time in ascending card order.
	for _, card := range SortedCards(cards) {
		var balance decimal.Decimal
		err := t.tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE card_number = $1 FOR UPDATE`, card.String()).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrAccountNotFound
			}
			return nil, fmt.Errorf("failed to lock balance: %w", err)
		}
		balances[card] = balance
	}
	return balances, nil
}

func (t *postgresTx) SetBalance(ctx context.Context, card domain.CardNumber, balance decimal.Decimal) error {
	result, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = NOW() WHERE card_number = $1`, card.String(), balance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) LockMachineCash(ctx context.Context) (decimal.Decimal, error) {
	var cash decimal.Decimal
	if err := t.tx.QueryRow(ctx, `SELECT cash_total FROM atm_state WHERE id = 1 FOR UPDATE`).Scan(&cash); err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock machine cash: %w", err)
	}
	return cash, nil
}

func (t *postgresTx) SetMachineCash(ctx context.Context, cash decimal.Decimal) error {
	result, err := t.tx.Exec(ctx, `UPDATE atm_state SET cash_total = $1, updated_at = NOW() WHERE id = 1`, cash)
	if err != nil {
		return fmt.Errorf("failed to update machine cash: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.New("machine cash row missing")
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, rec *domain.Transaction) error {
	query := `
		INSERT INTO transactions (card_number, kind, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := t.tx.QueryRow(ctx, query, rec.CardNumber.String(), rec.Kind.String(), rec.Amount, rec.BalanceAfter, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append %s record: %w", rec.Kind, err)
	}
	return nil
}

func (t *postgresTx) InsertAccount(ctx context.Context, card domain.CardNumber, pinHash string, balance decimal.Decimal, createdAt time.Time) error {
	query := `
		INSERT INTO accounts (card_number, pin_hash, balance, failed_attempts, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NULL, $4, $4)
	`
	if _, err := t.tx.Exec(ctx, query, card.String(), pinHash, balance, createdAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (t *postgresTx) RemoveAccount(ctx context.Context, card domain.CardNumber) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM transactions WHERE card_number = $1`, card.String()); err != nil {
		return fmt.Errorf("failed to delete account history: %w", err)
	}
	result, err := t.tx.Exec(ctx, `DELETE FROM accounts WHERE card_number = $1`, card.String())
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback ignores pgx.ErrTxClosed so it is safe after Commit.
func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
