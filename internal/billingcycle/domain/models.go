package domain

import (
	"time"

	"github.com/smallbiznis/ledgerd/internal/config"
)

// PolicyRowID is the primary key of the single policy row.
const PolicyRowID = 1

// Policy is the billing cycle policy consumed by the external cycle
// scheduler. Exactly one row exists.
type Policy struct {
	ID                        int       `gorm:"primaryKey;autoIncrement:false" json:"-"`
	AnchorDay                 int       `gorm:"not null" json:"anchor_day"`
	PrebillLeadDays           int       `gorm:"not null" json:"prebill_lead_days"`
	CutoffDaysBeforeAnchor    int       `gorm:"not null" json:"cutoff_days_before_anchor"`
	AutoSuspendOnCutoff       bool      `gorm:"not null" json:"auto_suspend_on_cutoff"`
	AutoApplyWallet           bool      `gorm:"not null" json:"auto_apply_wallet"`
	AlignFirstCycleToAnchor   bool      `gorm:"not null" json:"align_first_cycle_to_anchor"`
	FirstCycleIncludedInOrder bool      `gorm:"not null" json:"first_cycle_included_in_order"`
	UpdatedAt                 time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Policy) TableName() string { return "billing_configs" }

// Validate enforces the numeric ranges of the policy.
func (p Policy) Validate() error {
	if p.AnchorDay < 1 || p.AnchorDay > 28 {
		return ErrInvalidAnchorDay
	}
	if p.PrebillLeadDays < 0 || p.PrebillLeadDays > 30 {
		return ErrInvalidPrebillLeadDays
	}
	if p.CutoffDaysBeforeAnchor < 0 || p.CutoffDaysBeforeAnchor > 30 {
		return ErrInvalidCutoffDays
	}
	return nil
}

// PolicyFromDefaults builds the policy seeded from billing.yml.
func PolicyFromDefaults(d config.CycleDefaults) Policy {
	return Policy{
		ID:                        PolicyRowID,
		AnchorDay:                 d.AnchorDay,
		PrebillLeadDays:           d.PrebillLeadDays,
		CutoffDaysBeforeAnchor:    d.CutoffDaysBeforeAnchor,
		AutoSuspendOnCutoff:       d.AutoSuspendOnCutoff,
		AutoApplyWallet:           d.AutoApplyWallet,
		AlignFirstCycleToAnchor:   d.AlignFirstCycleToAnchor,
		FirstCycleIncludedInOrder: d.FirstCycleIncludedInOrder,
	}
}
