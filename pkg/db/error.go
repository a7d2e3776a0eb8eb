package db

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrOutcomeUnknown is returned when a write timed out or was cancelled
// before its commit was observed. Callers must retry with the same
// idempotency key.
var ErrOutcomeUnknown = errors.New("outcome_unknown")

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// DuplicateKeyMentions reports whether a duplicate-key error names the given
// index or column. Used to tell apart which uniqueness rule fired.
func DuplicateKeyMentions(err error, names ...string) bool {
	if !IsDuplicateKeyErr(err) {
		return false
	}
	msg := err.Error()
	for _, name := range names {
		if name != "" && strings.Contains(msg, name) {
			return true
		}
	}
	return false
}

// WrapTimeout converts context expiry into ErrOutcomeUnknown while keeping
// the original cause in the chain.
func WrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrOutcomeUnknown, err)
	}
	return err
}
