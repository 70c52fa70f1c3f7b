package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"0.01", true},
		{"100", true},
		{"100.50", true},
		{"0", false},
		{"-5", false},
		{"1.005", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			amount, err := ParseAmount(tt.input)
			if err != nil {
				t.Fatalf("ParseAmount returned error: %v", err)
			}
			err = ValidateAmount(amount)
			if tt.ok && err != nil {
				t.Fatalf("expected %s to be valid, got %v", tt.input, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount for %s, got %v", tt.input, err)
			}
		})
	}
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	if _, err := ParseAmount("ten"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestValidateBalanceAllowsZero(t *testing.T) {
	if err := ValidateBalance(decimal.Zero); err != nil {
		t.Fatalf("expected zero balance to be valid, got %v", err)
	}
	if err := ValidateBalance(decimal.NewFromInt(-1)); !errors.Is(err, ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
}
