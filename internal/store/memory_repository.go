/**
 * @description
 * This file provides an in-process implementation of the `Repository` interface.
 * A unit of work takes the store's single lock, works on a private copy of the
 * state and swaps it in on commit, so a rollback simply drops the copy.
 *
 * When a snapshot path is configured the committed state is written as JSON
 * (temporary file + rename) before it becomes visible, which makes the store
 * usable for single-machine deployments without PostgreSQL.
 *
 * @notes
 * - Several processes (atm-server, atm-admin) may share one snapshot. Every unit
 *   and every read holds an OS lock on "<snapshot>.lock" (exclusive for units,
 *   shared for reads) and re-reads the snapshot first, so no process commits on
 *   top of a stale copy.
 *
 * @dependencies
 * - encoding/json, os: Snapshot persistence.
 * - github.com/gofrs/flock: Cross-process snapshot lock.
 * - github.com/shopspring/decimal: Monetary values.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
)

const snapshotLockRetry = 10 * time.Millisecond

type memoryAccount struct {
	PINHash        string          `json:"pin_hash"`
	Balance        decimal.Decimal `json:"balance"`
	FailedAttempts int             `json:"failed_attempts"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type memoryState struct {
	Accounts     map[domain.CardNumber]memoryAccount `json:"accounts"`
	CashTotal    decimal.Decimal                     `json:"cash_total"`
	Transactions []domain.Transaction                `json:"transactions"`
	NextID       int64                               `json:"next_id"`
	SavedAt      time.Time                           `json:"saved_at"`
}

func newMemoryState() *memoryState {
	return &memoryState{Accounts: make(map[domain.CardNumber]memoryAccount)}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		Accounts:     make(map[domain.CardNumber]memoryAccount, len(s.Accounts)),
		CashTotal:    s.CashTotal,
		Transactions: append([]domain.Transaction(nil), s.Transactions...),
		NextID:       s.NextID,
	}
	for card, acct := range s.Accounts {
		if acct.LockedUntil != nil {
			until := *acct.LockedUntil
			acct.LockedUntil = &until
		}
		out.Accounts[card] = acct
	}
	return out
}

// MemoryRepository keeps the whole store in memory behind one lock.
type MemoryRepository struct {
	sem          chan struct{}
	state        *memoryState
	snapshotPath string
	fileLock     *flock.Flock
}

// NewMemoryRepository returns an empty, non-persistent store with zero machine cash.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sem:   make(chan struct{}, 1),
		state: newMemoryState(),
	}
}

// OpenMemoryRepository loads the snapshot at path when it exists. The returned bool
// reports whether a snapshot was loaded; an empty store still needs provisioning.
func OpenMemoryRepository(path string) (*MemoryRepository, bool, error) {
	repo := NewMemoryRepository()
	repo.snapshotPath = path
	repo.fileLock = flock.New(path + ".lock")

	if err := repo.acquire(context.Background(), false); err != nil {
		return nil, false, err
	}
	defer repo.release()

	_, err := os.Stat(path)
	return repo, err == nil, nil
}

// readSnapshot returns nil when no snapshot has been written yet.
func readSnapshot(path string) (*memoryState, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	state := newMemoryState()
	if err := json.NewDecoder(f).Decode(state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if state.Accounts == nil {
		state.Accounts = make(map[domain.CardNumber]memoryAccount)
	}
	return state, nil
}

// acquire takes the in-process lock and, for snapshot-backed stores, the file
// lock, then reloads the snapshot written by whichever process committed last.
func (r *MemoryRepository) acquire(ctx context.Context, exclusive bool) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.fileLock == nil {
		return nil
	}

	var locked bool
	var err error
	if exclusive {
		locked, err = r.fileLock.TryLockContext(ctx, snapshotLockRetry)
	} else {
		locked, err = r.fileLock.TryRLockContext(ctx, snapshotLockRetry)
	}
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		<-r.sem
		return fmt.Errorf("failed to lock snapshot: %w", err)
	}

	state, err := readSnapshot(r.snapshotPath)
	if err != nil {
		r.release()
		return err
	}
	if state != nil {
		r.state = state
	}
	return nil
}

func (r *MemoryRepository) release() {
	if r.fileLock != nil {
		_ = r.fileLock.Unlock()
	}
	<-r.sem
}

// Begin waits for the store lock or for ctx to end.
func (r *MemoryRepository) Begin(ctx context.Context) (Tx, error) {
	if err := r.acquire(ctx, true); err != nil {
		return nil, err
	}
	return &memoryTx{repo: r, work: r.state.clone()}, nil
}

func (r *MemoryRepository) GetAccount(ctx context.Context, card domain.CardNumber) (*domain.Account, error) {
	if err := r.acquire(ctx, false); err != nil {
		return nil, err
	}
	defer r.release()

	acct, ok := r.state.Accounts[card]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acct.view(card), nil
}

func (r *MemoryRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := r.acquire(ctx, false); err != nil {
		return nil, err
	}
	defer r.release()

	accounts := make([]domain.Account, 0, len(r.state.Accounts))
	for card, acct := range r.state.Accounts {
		accounts = append(accounts, *acct.view(card))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CardNumber < accounts[j].CardNumber })
	return accounts, nil
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, card domain.CardNumber, limit int) ([]domain.Transaction, error) {
	if err := r.acquire(ctx, false); err != nil {
		return nil, err
	}
	defer r.release()

	var out []domain.Transaction
	for _, rec := range r.state.Transactions {
		if rec.CardNumber == card {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = ClampHistoryLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = make([]domain.Transaction, 0)
	}
	return out, nil
}

func (r *MemoryRepository) MachineCash(ctx context.Context) (decimal.Decimal, error) {
	if err := r.acquire(ctx, false); err != nil {
		return decimal.Zero, err
	}
	defer r.release()
	return r.state.CashTotal, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) Close() {}

func (r *MemoryRepository) persist(state *memoryState) error {
	if r.snapshotPath == "" {
		return nil
	}
	state.SavedAt = time.Now().UTC()
	tmp := r.snapshotPath + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return os.Rename(tmp, r.snapshotPath)
}

func (a memoryAccount) view(card domain.CardNumber) *domain.Account {
	account := &domain.Account{
		CardNumber:     card,
		Balance:        a.Balance,
		FailedAttempts: a.FailedAttempts,
	}
	if a.LockedUntil != nil {
		until := *a.LockedUntil
		account.LockedUntil = &until
	}
	return account
}

// memoryTx holds the store lock from Begin until Commit or Rollback.
type memoryTx struct {
	repo *MemoryRepository
	work *memoryState
	done bool
}

func (t *memoryTx) account(card domain.CardNumber) (memoryAccount, error) {
	if t.done {
		return memoryAccount{}, ErrTxDone
	}
	acct, ok := t.work.Accounts[card]
	if !ok {
		return memoryAccount{}, domain.ErrAccountNotFound
	}
	return acct, nil
}

func (t *memoryTx) LockCredential(_ context.Context, card domain.CardNumber) (*domain.Credential, error) {
	acct, err := t.account(card)
	if err != nil {
		return nil, err
	}
	credential := &domain.Credential{
		CardNumber:     card,
		PINHash:        acct.PINHash,
		FailedAttempts: acct.FailedAttempts,
	}
	if acct.LockedUntil != nil {
		until := *acct.LockedUntil
		credential.LockedUntil = &until
	}
	return credential, nil
}

func (t *memoryTx) SaveLoginState(_ context.Context, card domain.CardNumber, state domain.LoginState) error {
	acct, err := t.account(card)
	if err != nil {
		return err
	}
	acct.FailedAttempts = state.FailedAttempts
	acct.LockedUntil = nil
	if state.LockedUntil != nil {
		until := *state.LockedUntil
		acct.LockedUntil = &until
	}
	t.work.Accounts[card] = acct
	return nil
}

func (t *memoryTx) SetPINHash(_ context.Context, card domain.CardNumber, pinHash string) error {
	acct, err := t.account(card)
	if err != nil {
		return err
	}
	acct.PINHash = pinHash
	t.work.Accounts[card] = acct
	return nil
}

func (t *memoryTx) LockBalances(_ context.Context, cards ...domain.CardNumber) (map[domain.CardNumber]decimal.Decimal, error) {
	balances := make(map[domain.CardNumber]decimal.Decimal, len(cards))
	for _, card := range SortedCards(cards) {
		acct, err := t.account(card)
		if err != nil {
			return nil, err
		}
		balances[card] = acct.Balance
	}
	return balances, nil
}

func (t *memoryTx) SetBalance(_ context.Context, card domain.CardNumber, balance decimal.Decimal) error {
	acct, err := t.account(card)
	if err != nil {
		return err
	}
	acct.Balance = balance
	t.work.Accounts[card] = acct
	return nil
}

func (t *memoryTx) LockMachineCash(context.Context) (decimal.Decimal, error) {
	if t.done {
		return decimal.Zero, ErrTxDone
	}
	return t.work.CashTotal, nil
}

func (t *memoryTx) SetMachineCash(_ context.Context, cash decimal.Decimal) error {
	if t.done {
		return ErrTxDone
	}
	t.work.CashTotal = cash
	return nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, rec *domain.Transaction) error {
	if _, err := t.account(rec.CardNumber); err != nil {
		return err
	}
	t.work.NextID++
	rec.ID = t.work.NextID
	t.work.Transactions = append(t.work.Transactions, *rec)
	return nil
}

func (t *memoryTx) InsertAccount(_ context.Context, card domain.CardNumber, pinHash string, balance decimal.Decimal, createdAt time.Time) error {
	if t.done {
		return ErrTxDone
	}
	if _, exists := t.work.Accounts[card]; exists {
		return domain.ErrAccountExists
	}
	t.work.Accounts[card] = memoryAccount{PINHash: pinHash, Balance: balance, CreatedAt: createdAt}
	return nil
}

func (t *memoryTx) RemoveAccount(_ context.Context, card domain.CardNumber) error {
	if _, err := t.account(card); err != nil {
		return err
	}
	delete(t.work.Accounts, card)
	kept := t.work.Transactions[:0]
	for _, rec := range t.work.Transactions {
		if rec.CardNumber != card {
			kept = append(kept, rec)
		}
	}
	t.work.Transactions = kept
	return nil
}

// Commit persists the snapshot first; if that fails the previous state stays current.
func (t *memoryTx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.repo.release()

	if err := t.repo.persist(t.work); err != nil {
		return err
	}
	t.repo.state = t.work
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.release()
	return nil
}
