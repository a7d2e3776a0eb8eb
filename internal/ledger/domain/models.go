package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

// EntryType classifies an account entry. The sign of the amount is fixed by
// the type: charges are positive, money received or credited is negative.
type EntryType string

const (
	EntryTypeInvoice    EntryType = "invoice"
	EntryTypePayment    EntryType = "payment"
	EntryTypeCreditNote EntryType = "credit_note"
	EntryTypeAdjustment EntryType = "adjustment"
	EntryTypeTax        EntryType = "tax"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeInvoice, EntryTypePayment, EntryTypeCreditNote, EntryTypeAdjustment, EntryTypeTax:
		return true
	default:
		return false
	}
}

// CheckSign enforces the per-type sign rule.
func (t EntryType) CheckSign(amount money.Money) error {
	switch t {
	case EntryTypeInvoice, EntryTypeTax:
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}
	case EntryTypePayment, EntryTypeCreditNote:
		if !amount.IsNegative() {
			return ErrInvalidAmount
		}
	case EntryTypeAdjustment:
		if amount.IsZero() {
			return ErrInvalidAmount
		}
	default:
		return ErrInvalidEntryType
	}
	return nil
}

// SnapshotSource records where an entry's dimensional snapshot came from.
type SnapshotSource string

const (
	SnapshotSourceRequest  SnapshotSource = "request"
	SnapshotSourceResolved SnapshotSource = "resolved"
	SnapshotSourceNone     SnapshotSource = "none"
)

// BillingAccount is the per-customer ledger. It has no stored balance.
type BillingAccount struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:ux_billing_accounts_customer" json:"customer_id"`
	Currency   string       `gorm:"type:text;not null" json:"currency"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (BillingAccount) TableName() string { return "billing_accounts" }

// AccountEntry is an immutable money movement against a billing account.
type AccountEntry struct {
	ID                 snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID          snowflake.ID   `gorm:"not null;index:ix_account_entries_account_created,priority:1" json:"account_id"`
	EntryType          EntryType      `gorm:"type:varchar(32);not null;index" json:"entry_type"`
	Amount             money.Money    `gorm:"type:bigint;not null" json:"amount"`
	Description        string         `gorm:"type:text;not null" json:"description"`
	OrderID            *snowflake.ID  `gorm:"index" json:"order_id,omitempty"`
	SubscriptionID     *snowflake.ID  `gorm:"index" json:"subscription_id,omitempty"`
	PaymentID          *snowflake.ID  `json:"payment_id,omitempty"`
	RegionSnapshot     *string        `gorm:"type:text" json:"region_snapshot,omitempty"`
	SalesAgentSnapshot *string        `gorm:"type:text" json:"sales_agent_snapshot,omitempty"`
	SnapshotSource     SnapshotSource `gorm:"type:text;not null" json:"snapshot_source"`
	PeriodStart        *time.Time     `json:"period_start,omitempty"`
	PeriodEnd          *time.Time     `json:"period_end,omitempty"`
	ExternalRef        *string        `gorm:"type:varchar(191);uniqueIndex:ux_account_entries_external_ref" json:"external_ref,omitempty"`
	InvoicePeriodKey   *string        `gorm:"type:varchar(191);uniqueIndex:ux_account_entries_invoice_period_key" json:"-"`
	CreatedAt          time.Time      `gorm:"not null;index:ix_account_entries_account_created,priority:2" json:"created_at"`
}

func (AccountEntry) TableName() string { return "account_entries" }

// PeriodKey identifies the recurring-billing period an invoice entry covers.
func PeriodKey(subscriptionID snowflake.ID, start, end time.Time) string {
	return fmt.Sprintf("%d:%s:%s", subscriptionID,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano))
}
