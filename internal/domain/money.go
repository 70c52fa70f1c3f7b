package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places carried by every monetary value.
const AmountScale = 2

// ParseAmount parses a decimal string such as "150.25".
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// ValidateAmount accepts strictly positive amounts with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateBalance accepts zero or positive values with at most two decimal places.
func ValidateBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrInvalidBalance
	}
	if !balance.Equal(balance.Round(AmountScale)) {
		return ErrInvalidBalance
	}
	return nil
}
