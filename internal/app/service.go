/**
 * @description
 * This file contains the core business logic of the ATM controller. A `Controller`
 * owns one session and runs the authentication state machine and the money
 * movement operations against the shared store.
 *
 * Key features:
 * - Every operation that writes is one atomic unit (store.WithTx): balances,
 *   machine cash and ledger records are committed together or not at all.
 * - Lockout is derived from the stored expiry at the time of each attempt.
 * - Committed operations are announced through the EventNotifier.
 *
 * @notes
 * - A Controller is not safe for concurrent use. One controller represents one
 *   cardholder at one machine; many controllers may share a repository.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Monetary values.
 * - go.uber.org/zap: Structured logging.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
	"github.com/transfa/atm-service/internal/store"
	"go.uber.org/zap"
)

// errLoginRejected aborts a login unit without writing anything.
var errLoginRejected = errors.New("login rejected")

// Option configures a Controller or an AdminService.
type Option func(*options)

type options struct {
	now    func() time.Time
	events *EventNotifier
	logger *zap.Logger
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEvents publishes committed operations through n.
func WithEvents(n *EventNotifier) Option {
	return func(o *options) { o.events = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Controller provides the session-scoped ATM operations.
type Controller struct {
	repo    store.Repository
	session Session
	now     func() time.Time
	events  *EventNotifier
	logger  *zap.Logger
}

// NewController creates an unauthenticated controller.
func NewController(repo store.Repository, opts ...Option) *Controller {
	o := buildOptions(opts)
	return &Controller{
		repo:   repo,
		now:    o.now,
		events: o.events,
		logger: o.logger.With(zap.String("component", "controller")),
	}
}

// Login runs the authentication state machine for card and binds the session on
// success. Unknown cards, PIN mismatches and active lockouts all return false with
// a nil error; a non-nil error means the store failed. Any previous session is
// ended first.
func (c *Controller) Login(ctx context.Context, rawCard, pin string) (bool, error) {
	c.session = Session{}

	card, err := domain.ParseCardNumber(rawCard)
	if err != nil || card.IsReserved() {
		c.logger.Info("login rejected", zap.String("reason", "invalid_card"))
		return false, nil
	}

	now := c.now()
	matched := false
	err = store.WithTx(ctx, c.repo, func(tx store.Tx) error {
		credential, err := tx.LockCredential(ctx, card)
		if errors.Is(err, domain.ErrAccountNotFound) {
			c.logger.Info("login rejected", zap.String("card", card.Masked()), zap.String("reason", "unknown_card"))
			return errLoginRejected
		}
		if err != nil {
			return err
		}

		if credential.IsLocked(now) {
			c.logger.Info("login rejected",
				zap.String("card", card.Masked()),
				zap.String("reason", "locked"),
				zap.Timep("locked_until", credential.LockedUntil),
			)
			return errLoginRejected
		}

		if !domain.PINMatches(pin, credential.PINHash) {
			state := credential.AfterFailure(now)
			if err := tx.SaveLoginState(ctx, card, state); err != nil {
				return err
			}
			c.logger.Info("login rejected",
				zap.String("card", card.Masked()),
				zap.String("reason", "pin_mismatch"),
				zap.Int("failed_attempts", state.FailedAttempts),
				zap.Bool("locked", state.LockedUntil != nil),
			)
			return nil
		}

		matched = true
		return tx.SaveLoginState(ctx, card, domain.Cleared())
	})
	if errors.Is(err, errLoginRejected) {
		return false, nil
	}
	if err != nil {
		c.logger.Error("login failed", zap.String("card", card.Masked()), zap.Error(err))
		return false, err
	}
	if !matched {
		return false, nil
	}

	c.session = Authenticated(card)
	c.logger.Info("login succeeded", zap.String("card", card.Masked()))
	return true, nil
}

// Logout clears the session.
func (c *Controller) Logout() {
	c.session = Session{}
}

// IsAuthenticated reports whether a card is bound to the session.
func (c *Controller) IsAuthenticated() bool {
	return c.session.IsAuthenticated()
}

// CurrentCard returns the authenticated card, if any.
func (c *Controller) CurrentCard() (domain.CardNumber, bool) {
	return c.session.Card()
}

func (c *Controller) requireSession() (domain.CardNumber, error) {
	card, ok := c.session.Card()
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	return card, nil
}

// Withdraw dispenses amount from the session's account and the machine's cash.
func (c *Controller) Withdraw(ctx context.Context, amount decimal.Decimal) (*domain.Transaction, error) {
	card, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	now := c.now()
	var rec domain.Transaction
	err = store.WithTx(ctx, c.repo, func(tx store.Tx) error {
		balances, err := tx.LockBalances(ctx, card)
		if err != nil {
			return err
		}
		balance := balances[card]
		if amount.GreaterThan(balance) {
			return domain.ErrInsufficientFunds
		}

		cash, err := tx.LockMachineCash(ctx)
		if err != nil {
			return err
		}
		if amount.GreaterThan(cash) {
			return domain.ErrInsufficientCash
		}

		balanceAfter := balance.Sub(amount)
		if err := tx.SetBalance(ctx, card, balanceAfter); err != nil {
			return err
		}
		if err := tx.SetMachineCash(ctx, cash.Sub(amount)); err != nil {
			return err
		}

		rec = domain.Transaction{CardNumber: card, Kind: domain.OpWithdraw, Amount: amount, BalanceAfter: balanceAfter, CreatedAt: now}
		return tx.AppendTransaction(ctx, &rec)
	})
	if err != nil {
		c.logOperationFailure("withdraw", card, amount, err)
		return nil, err
	}

	c.events.LedgerCommitted(ctx, domain.NewLedgerEvent(rec, ""))
	return &rec, nil
}

// Deposit credits amount to the session's account. Machine cash is unchanged.
func (c *Controller) Deposit(ctx context.Context, amount decimal.Decimal) (*domain.Transaction, error) {
	card, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	now := c.now()
	var rec domain.Transaction
	err = store.WithTx(ctx, c.repo, func(tx store.Tx) error {
		balances, err := tx.LockBalances(ctx, card)
		if err != nil {
			return err
		}
		balanceAfter := balances[card].Add(amount)
		if err := tx.SetBalance(ctx, card, balanceAfter); err != nil {
			return err
		}

		rec = domain.Transaction{CardNumber: card, Kind: domain.OpDeposit, Amount: amount, BalanceAfter: balanceAfter, CreatedAt: now}
		return tx.AppendTransaction(ctx, &rec)
	})
	if err != nil {
		c.logOperationFailure("deposit", card, amount, err)
		return nil, err
	}

	c.events.LedgerCommitted(ctx, domain.NewLedgerEvent(rec, ""))
	return &rec, nil
}

// TransferTo moves amount from the session's account to target. The target is
// trimmed; its existence is checked inside the unit. The source-side record is
// returned.
func (c *Controller) TransferTo(ctx context.Context, target domain.CardNumber, amount decimal.Decimal) (*domain.Transaction, error) {
	card, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	target = domain.CardNumber(strings.TrimSpace(target.String()))
	if err := validateCounterparties(card, target); err != nil {
		return nil, err
	}

	now := c.now()
	var out, in domain.Transaction
	err = store.WithTx(ctx, c.repo, func(tx store.Tx) error {
		var err error
		out, in, err = moveFunds(ctx, tx, card, target, amount, domain.OpTransferOut, domain.OpTransferIn, now)
		return err
	})
	if err != nil {
		c.logOperationFailure("transfer", card, amount, err)
		return nil, err
	}

	c.events.LedgerCommitted(ctx,
		domain.NewLedgerEvent(out, target),
		domain.NewLedgerEvent(in, card),
	)
	return &out, nil
}

// ChangePin replaces the PIN after checking oldPin, clears any failed attempts and
// records a zero-amount pin_change entry.
func (c *Controller) ChangePin(ctx context.Context, oldPin, newPin string) error {
	card, err := c.requireSession()
	if err != nil {
		return err
	}
	if newPin == "" {
		return domain.ErrEmptyPIN
	}

	now := c.now()
	var rec domain.Transaction
	err = store.WithTx(ctx, c.repo, func(tx store.Tx) error {
		credential, err := tx.LockCredential(ctx, card)
		if err != nil {
			return err
		}
		if !domain.PINMatches(oldPin, credential.PINHash) {
			return domain.ErrPINMismatch
		}

		balances, err := tx.LockBalances(ctx, card)
		if err != nil {
			return err
		}
		if err := tx.SetPINHash(ctx, card, domain.HashPIN(newPin)); err != nil {
			return err
		}
		if err := tx.SaveLoginState(ctx, card, domain.Cleared()); err != nil {
			return err
		}

		rec = domain.Transaction{CardNumber: card, Kind: domain.OpPINChange, Amount: decimal.Zero, BalanceAfter: balances[card], CreatedAt: now}
		return tx.AppendTransaction(ctx, &rec)
	})
	if err != nil {
		c.logOperationFailure("pin_change", card, decimal.Zero, err)
		return err
	}

	c.events.LedgerCommitted(ctx, domain.NewLedgerEvent(rec, ""))
	return nil
}

// History returns up to limit records of the session's account, newest first.
// Non-positive limits use the default of 10.
func (c *Controller) History(ctx context.Context, limit int) ([]domain.Transaction, error) {
	card, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	return c.repo.ListTransactions(ctx, card, limit)
}

// Balance returns the session account's current balance.
func (c *Controller) Balance(ctx context.Context) (decimal.Decimal, error) {
	card, err := c.requireSession()
	if err != nil {
		return decimal.Zero, err
	}
	account, err := c.repo.GetAccount(ctx, card)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func (c *Controller) logOperationFailure(op string, card domain.CardNumber, amount decimal.Decimal, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("card", card.Masked()),
		zap.String("amount", amount.StringFixed(domain.AmountScale)),
		zap.Error(err),
	}
	if isPreconditionError(err) {
		c.logger.Info("operation rejected", fields...)
		return
	}
	c.logger.Error("operation failed", fields...)
}

// isPreconditionError reports whether err is a business-rule rejection rather
// than a store failure.
func isPreconditionError(err error) bool {
	for _, target := range []error{
		domain.ErrAccountNotFound,
		domain.ErrAccountExists,
		domain.ErrInvalidCardNumber,
		domain.ErrReservedCard,
		domain.ErrInvalidPINFormat,
		domain.ErrEmptyPIN,
		domain.ErrPINMismatch,
		domain.ErrInvalidAmount,
		domain.ErrInvalidBalance,
		domain.ErrInsufficientFunds,
		domain.ErrInsufficientCash,
		domain.ErrSameAccount,
		domain.ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
