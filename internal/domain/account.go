/**
 * @description
 * This file defines the account and credential models for the ATM controller,
 * together with the lockout rules applied by the authentication state machine.
 *
 * @notes
 * - Lockout is never stored as a discrete state. It is derived from the stored
 *   expiry and the current time, so an expired lockout needs no cleanup write.
 */

package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CardNumberLength is the number of digits in every card number.
	CardNumberLength = 16

	// ReservedAdminCard opens the administrative path and is never a party to a money movement.
	ReservedAdminCard CardNumber = "0000000000000000"

	// MaxFailedAttempts is the number of consecutive PIN failures that triggers a lockout.
	MaxFailedAttempts = 3

	// LockoutDuration is how long an account stays locked once MaxFailedAttempts is reached.
	LockoutDuration = 5 * time.Minute
)

// CardNumber identifies an account.
type CardNumber string

// ParseCardNumber trims surrounding whitespace and checks that exactly 16 digits remain.
func ParseCardNumber(raw string) (CardNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != CardNumberLength {
		return "", ErrInvalidCardNumber
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", ErrInvalidCardNumber
		}
	}
	return CardNumber(trimmed), nil
}

func (c CardNumber) String() string { return string(c) }

// IsReserved reports whether c is the administrative card.
func (c CardNumber) IsReserved() bool { return c == ReservedAdminCard }

// Masked returns the card number with all but the last four digits hidden.
func (c CardNumber) Masked() string {
	s := string(c)
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Account is the administrative view of one account row.
type Account struct {
	CardNumber     CardNumber      `json:"card_number"`
	Balance        decimal.Decimal `json:"balance"`
	FailedAttempts int             `json:"failed_attempts"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty"`
}

// Credential carries the authentication state for a card.
type Credential struct {
	CardNumber     CardNumber
	PINHash        string
	FailedAttempts int
	LockedUntil    *time.Time
}

// IsLocked reports whether the lockout expiry is strictly later than now.
func (c Credential) IsLocked(now time.Time) bool {
	return c.LockedUntil != nil && c.LockedUntil.After(now)
}

// LoginState is the persisted outcome of an authentication attempt.
type LoginState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// AfterFailure returns the state to persist after a PIN mismatch at time now.
func (c Credential) AfterFailure(now time.Time) LoginState {
	attempts := c.FailedAttempts + 1
	if attempts >= MaxFailedAttempts {
		until := now.Add(LockoutDuration)
		return LoginState{FailedAttempts: attempts, LockedUntil: &until}
	}
	return LoginState{FailedAttempts: attempts}
}

// Cleared is the state persisted after a successful login or a PIN change.
func Cleared() LoginState {
	return LoginState{}
}
