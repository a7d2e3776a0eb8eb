package domain

import (
	"errors"

	"github.com/smallbiznis/ledgerd/pkg/db"
)

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidDescription  = errors.New("invalid_description")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrMissingSubscription = errors.New("subscription_required")

	ErrAccountNotFound = errors.New("billing_account_not_found")
	ErrEntryNotFound   = errors.New("account_entry_not_found")

	// ErrDuplicatePeriodInvoice is returned when an invoice entry already
	// exists for the same subscription and period.
	ErrDuplicatePeriodInvoice = errors.New("duplicate_period_invoice")
	// ErrDuplicateExternalRef is returned instead of a replay when the caller
	// asked for strict external_ref handling, or when the stored entry under
	// the ref differs in account, type or amount.
	ErrDuplicateExternalRef = errors.New("duplicate_external_ref")

	ErrOutcomeUnknown = db.ErrOutcomeUnknown
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidCustomer) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrInvalidEntryType) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDescription) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrMissingSubscription)
}
