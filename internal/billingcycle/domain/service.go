package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Bootstrap loads the stored policy, persisting the configured defaults
	// when no row exists yet.
	Bootstrap(ctx context.Context) (Policy, error)
	// Current returns the last loaded policy without touching storage.
	Current() Policy
	Update(ctx context.Context, policy Policy) (Policy, error)
	// Refresh reloads the stored policy, picking up changes made by other
	// instances.
	Refresh(ctx context.Context) (Policy, error)
}

var (
	ErrInvalidAnchorDay       = errors.New("invalid_anchor_day")
	ErrInvalidPrebillLeadDays = errors.New("invalid_prebill_lead_days")
	ErrInvalidCutoffDays      = errors.New("invalid_cutoff_days_before_anchor")
	ErrPolicyNotFound         = errors.New("billing_config_not_found")
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAnchorDay) ||
		errors.Is(err, ErrInvalidPrebillLeadDays) ||
		errors.Is(err, ErrInvalidCutoffDays)
}
