package domain

import (
	"errors"

	"github.com/smallbiznis/ledgerd/pkg/db"
)

var (
	ErrInvalidWallet    = errors.New("invalid_wallet")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidAttempt   = errors.New("invalid_payment_attempt")
	ErrWalletNotFound   = errors.New("wallet_not_found")
	ErrDuplicateAttempt = errors.New("duplicate_payment_attempt_credit")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient_funds")

	ErrOutcomeUnknown = db.ErrOutcomeUnknown
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidWallet) ||
		errors.Is(err, ErrInvalidCustomer) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAttempt)
}
