package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/transfa/atm-service/internal/domain"
)

func writeAccountsReport(w io.Writer, accounts []domain.Account, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"card_number", "balance", "failed_attempts", "locked_until"}); err != nil {
		return err
	}
	for _, a := range accounts {
		lockedUntil := ""
		if a.LockedUntil != nil && a.LockedUntil.After(now) {
			lockedUntil = a.LockedUntil.UTC().Format(time.RFC3339)
		}
		row := []string{
			a.CardNumber.String(),
			a.Balance.StringFixed(domain.AmountScale),
			strconv.Itoa(a.FailedAttempts),
			lockedUntil,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeHistoryReport(w io.Writer, records []domain.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "card_number", "kind", "amount", "balance_after", "created_at"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.CardNumber.String(),
			rec.Kind.String(),
			rec.Amount.StringFixed(domain.AmountScale),
			rec.BalanceAfter.StringFixed(domain.AmountScale),
			rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
