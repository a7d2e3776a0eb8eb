package domain

import "errors"

var (
	ErrInvalidPair  = errors.New("invalid_currency_pair")
	ErrInvalidRate  = errors.New("invalid_rate")
	ErrInvalidDate  = errors.New("invalid_rate_date")
	ErrInvalidRange = errors.New("invalid_date_range")

	// ErrRateUnavailable means no fixing exists on or before the requested
	// date. Callers omit the converted figure; they never substitute zero.
	ErrRateUnavailable = errors.New("rate_unavailable")
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidPair) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidRange)
}
