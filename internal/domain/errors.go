package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInvalidCardNumber = errors.New("card number must be 16 digits")
	ErrReservedCard      = errors.New("reserved card cannot take part in this operation")
	ErrInvalidPINFormat  = errors.New("pin must be 4 digits")
	ErrEmptyPIN          = errors.New("new pin must not be empty")
	ErrPINMismatch       = errors.New("pin does not match")
	ErrInvalidAmount     = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidBalance    = errors.New("balance must be non-negative with at most two decimal places")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientCash  = errors.New("insufficient cash in machine")
	ErrSameAccount       = errors.New("source and target accounts must differ")
	ErrUnauthenticated   = errors.New("no authenticated session")
	ErrUnknownOperation  = errors.New("unknown operation kind")
)
