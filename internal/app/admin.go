package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
	"github.com/transfa/atm-service/internal/store"
	"go.uber.org/zap"
)

// AdminService performs back-office operations outside any cardholder session.
// Writes use the same atomic units as the Controller. The reserved admin card is
// never accepted as an account.
type AdminService struct {
	repo   store.Repository
	now    func() time.Time
	events *EventNotifier
	logger *zap.Logger
}

// NewAdminService creates an AdminService.
func NewAdminService(repo store.Repository, opts ...Option) *AdminService {
	o := buildOptions(opts)
	return &AdminService{
		repo:   repo,
		now:    o.now,
		events: o.events,
		logger: o.logger.With(zap.String("component", "admin")),
	}
}

func parseAccountCard(raw string) (domain.CardNumber, error) {
	card, err := domain.ParseCardNumber(raw)
	if err != nil {
		return "", err
	}
	if card.IsReserved() {
		return "", domain.ErrReservedCard
	}
	return card, nil
}

// CreateAccount provisions a 16-digit card with a 4-digit PIN and an opening balance.
func (s *AdminService) CreateAccount(ctx context.Context, rawCard, pin string, openingBalance decimal.Decimal) (*domain.Account, error) {
	card, err := parseAccountCard(rawCard)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateNewAccountPIN(pin); err != nil {
		return nil, err
	}
	if err := domain.ValidateBalance(openingBalance); err != nil {
		return nil, err
	}

	err = store.WithTx(ctx, s.repo, func(tx store.Tx) error {
		return tx.InsertAccount(ctx, card, domain.HashPIN(pin), openingBalance, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created", zap.String("card", card.Masked()), zap.String("balance", openingBalance.StringFixed(domain.AmountScale)))
	return &domain.Account{CardNumber: card, Balance: openingBalance}, nil
}

// DeleteAccount removes the account together with its transaction history.
func (s *AdminService) DeleteAccount(ctx context.Context, rawCard string) error {
	card, err := parseAccountCard(rawCard)
	if err != nil {
		return err
	}
	if err := store.WithTx(ctx, s.repo, func(tx store.Tx) error {
		return tx.RemoveAccount(ctx, card)
	}); err != nil {
		return err
	}

	s.logger.Info("account deleted", zap.String("card", card.Masked()))
	return nil
}

// SetBalance overwrites an account balance. No ledger record is written.
func (s *AdminService) SetBalance(ctx context.Context, rawCard string, balance decimal.Decimal) error {
	card, err := parseAccountCard(rawCard)
	if err != nil {
		return err
	}
	if err := domain.ValidateBalance(balance); err != nil {
		return err
	}

	var previous decimal.Decimal
	err = store.WithTx(ctx, s.repo, func(tx store.Tx) error {
		balances, err := tx.LockBalances(ctx, card)
		if err != nil {
			return err
		}
		previous = balances[card]
		return tx.SetBalance(ctx, card, balance)
	})
	if err != nil {
		return err
	}

	s.logger.Info("balance set",
		zap.String("card", card.Masked()),
		zap.String("previous", previous.StringFixed(domain.AmountScale)),
		zap.String("balance", balance.StringFixed(domain.AmountScale)),
	)
	return nil
}

// ResetPIN replaces the PIN (DefaultResetPIN when pin is empty) and clears the
// failed-attempt counter and any lockout.
func (s *AdminService) ResetPIN(ctx context.Context, rawCard, pin string) error {
	card, err := parseAccountCard(rawCard)
	if err != nil {
		return err
	}
	if pin == "" {
		pin = domain.DefaultResetPIN
	}
	if err := domain.ValidateNewAccountPIN(pin); err != nil {
		return err
	}

	err = store.WithTx(ctx, s.repo, func(tx store.Tx) error {
		if _, err := tx.LockCredential(ctx, card); err != nil {
			return err
		}
		if err := tx.SetPINHash(ctx, card, domain.HashPIN(pin)); err != nil {
			return err
		}
		return tx.SaveLoginState(ctx, card, domain.Cleared())
	})
	if err != nil {
		return err
	}

	s.logger.Info("pin reset", zap.String("card", card.Masked()))
	return nil
}

// Transfer moves amount between two accounts, recording admin_transfer_out and
// admin_transfer_in. It returns both records, source first.
func (s *AdminService) Transfer(ctx context.Context, rawFrom, rawTo string, amount decimal.Decimal) ([]domain.Transaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	from, err := domain.ParseCardNumber(rawFrom)
	if err != nil {
		return nil, err
	}
	to, err := domain.ParseCardNumber(rawTo)
	if err != nil {
		return nil, err
	}
	if err := validateCounterparties(from, to); err != nil {
		return nil, err
	}

	now := s.now()
	var out, in domain.Transaction
	err = store.WithTx(ctx, s.repo, func(tx store.Tx) error {
		var err error
		out, in, err = moveFunds(ctx, tx, from, to, amount, domain.OpAdminTransferOut, domain.OpAdminTransferIn, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin transfer committed",
		zap.String("from", from.Masked()),
		zap.String("to", to.Masked()),
		zap.String("amount", amount.StringFixed(domain.AmountScale)),
	)
	s.events.LedgerCommitted(ctx,
		domain.NewLedgerEvent(out, to),
		domain.NewLedgerEvent(in, from),
	)
	return []domain.Transaction{out, in}, nil
}

// Accounts lists every account.
func (s *AdminService) Accounts(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx)
}

// Account returns one account.
func (s *AdminService) Account(ctx context.Context, rawCard string) (*domain.Account, error) {
	card, err := parseAccountCard(rawCard)
	if err != nil {
		return nil, err
	}
	return s.repo.GetAccount(ctx, card)
}

// History returns up to limit records of any account, newest first.
func (s *AdminService) History(ctx context.Context, rawCard string, limit int) ([]domain.Transaction, error) {
	card, err := parseAccountCard(rawCard)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetAccount(ctx, card); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, card, limit)
}

// MachineCash returns the cash available for dispensing.
func (s *AdminService) MachineCash(ctx context.Context) (decimal.Decimal, error) {
	return s.repo.MachineCash(ctx)
}

// SetMachineCash records a replenishment or count correction.
func (s *AdminService) SetMachineCash(ctx context.Context, cash decimal.Decimal) error {
	if err := domain.ValidateBalance(cash); err != nil {
		return err
	}
	var previous decimal.Decimal
	err := store.WithTx(ctx, s.repo, func(tx store.Tx) error {
		var err error
		if previous, err = tx.LockMachineCash(ctx); err != nil {
			return err
		}
		return tx.SetMachineCash(ctx, cash)
	})
	if err != nil {
		return err
	}

	s.logger.Info("machine cash set",
		zap.String("previous", previous.StringFixed(domain.AmountScale)),
		zap.String("cash", cash.StringFixed(domain.AmountScale)),
	)
	return nil
}
