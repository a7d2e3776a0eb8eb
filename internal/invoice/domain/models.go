// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusIssued, InvoiceStatusCancelled},
	InvoiceStatusIssued:  {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue: {InvoiceStatusPaid, InvoiceStatusCancelled},
}

// CanTransition reports whether an invoice in status s may move to next.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Billed reports whether the invoice counts as a receivable.
func (s InvoiceStatus) Billed() bool {
	return s == InvoiceStatusIssued || s == InvoiceStatusPaid || s == InvoiceStatusOverdue
}

type TaxRegime string

const (
	TaxRegimeStandard TaxRegime = "standard"
	TaxRegimeExempt   TaxRegime = "exempt"
)

func (r TaxRegime) Valid() bool {
	return r == TaxRegimeStandard || r == TaxRegimeExempt
}

type LineKind string

const (
	LineKindProduct      LineKind = "product"
	LineKindService      LineKind = "service"
	LineKindEquipment    LineKind = "equipment"
	LineKindSubscription LineKind = "subscription"
	LineKindFee          LineKind = "fee"
	LineKindDiscount     LineKind = "discount"
)

func (k LineKind) Valid() bool {
	switch k {
	case LineKindProduct, LineKindService, LineKindEquipment, LineKindSubscription, LineKindFee, LineKindDiscount:
		return true
	}
	return false
}

// Invoice is a frozen billing document. Legal fields and rates are copied
// at creation and totals are never recomputed afterwards.
type Invoice struct {
	ID                    snowflake.ID      `gorm:"primaryKey" json:"id"`
	Number                string            `gorm:"type:varchar(64);not null;uniqueIndex:ux_invoices_number" json:"number"`
	CustomerID            snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	SubscriptionID        *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	PeriodStart           *time.Time        `json:"period_start,omitempty"`
	PeriodEnd             *time.Time        `json:"period_end,omitempty"`
	BillingPeriodKey      *string           `gorm:"type:varchar(191);uniqueIndex:ux_invoices_billing_period_key" json:"-"`
	Currency              string            `gorm:"type:text;not null" json:"currency"`
	Status                InvoiceStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	BillToName            string            `gorm:"type:text;not null" json:"bill_to_name"`
	BillToAddress         string            `gorm:"type:text" json:"bill_to_address,omitempty"`
	TaxID                 *string           `gorm:"type:text" json:"tax_id,omitempty"`
	TaxRegime             TaxRegime         `gorm:"type:text;not null" json:"tax_regime"`
	VATRate               decimal.Decimal   `gorm:"column:vat_rate;type:numeric(9,4);not null" json:"vat_rate"`
	ExciseRate            decimal.Decimal   `gorm:"type:numeric(9,4);not null" json:"excise_rate"`
	RegionSnapshot        *string           `gorm:"type:text" json:"region_snapshot,omitempty"`
	IssuedAt              *time.Time        `gorm:"index" json:"issued_at,omitempty"`
	DueAt                 *time.Time        `json:"due_at,omitempty"`
	PaidAt                *time.Time        `json:"paid_at,omitempty"`
	CancelledAt           *time.Time        `json:"cancelled_at,omitempty"`
	Subtotal              money.Money       `gorm:"type:bigint;not null" json:"subtotal"`
	ExciseAmount          money.Money       `gorm:"type:bigint;not null" json:"excise_amount"`
	VATAmount             money.Money       `gorm:"column:vat_amount;type:bigint;not null" json:"vat_amount"`
	TaxTotal              money.Money       `gorm:"type:bigint;not null" json:"tax_total"`
	GrandTotal            money.Money       `gorm:"type:bigint;not null" json:"grand_total"`
	ConsolidatedInvoiceID *snowflake.ID     `gorm:"index" json:"consolidated_invoice_id,omitempty"`
	LedgerEntryID         *snowflake.ID     `json:"ledger_entry_id,omitempty"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt             time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"not null" json:"updated_at"`

	Lines    []InvoiceLine    `gorm:"-" json:"lines,omitempty"`
	TaxLines []InvoiceTaxLine `gorm:"-" json:"tax_lines,omitempty"`
	Orders   []InvoiceOrder   `gorm:"-" json:"orders,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine represents a line on an invoice. LineTotal is always derived
// from UnitPrice and Quantity.
type InvoiceLine struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null" json:"position"`
	Kind        LineKind        `gorm:"type:text;not null" json:"kind"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"quantity"`
	UnitPrice   money.Money     `gorm:"type:bigint;not null" json:"unit_price"`
	LineTotal   money.Money     `gorm:"type:bigint;not null" json:"line_total"`
	OrderID     *snowflake.ID   `gorm:"index" json:"order_id,omitempty"`
	OrderLineID *snowflake.ID   `json:"order_line_id,omitempty"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// InvoiceOrder links an invoice to an order it covers, optionally for part
// of the order amount.
type InvoiceOrder struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID     snowflake.ID `gorm:"not null;uniqueIndex:ux_invoice_orders_invoice_order,priority:1" json:"invoice_id"`
	OrderID       snowflake.ID `gorm:"not null;uniqueIndex:ux_invoice_orders_invoice_order,priority:2;index" json:"order_id"`
	AmountExclTax *money.Money `gorm:"type:bigint" json:"amount_excl_tax,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceOrder) TableName() string { return "invoice_orders" }

// ConsolidatedInvoice groups child invoices under one customer-facing number.
type ConsolidatedInvoice struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Number     string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_consolidated_invoices_number" json:"number"`
	CustomerID snowflake.ID `gorm:"not null;index" json:"customer_id"`
	Currency   string       `gorm:"type:text;not null" json:"currency"`
	GrandTotal money.Money  `gorm:"type:bigint;not null" json:"grand_total"`
	ChildCount int          `gorm:"not null" json:"child_count"`
	IssuedAt   time.Time    `gorm:"not null" json:"issued_at"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`

	Children []Invoice `gorm:"-" json:"children,omitempty"`
}

// TableName sets the database table name.
func (ConsolidatedInvoice) TableName() string { return "consolidated_invoices" }

// InvoiceSequence holds the last number handed out for a numbering scope.
type InvoiceSequence struct {
	Scope     string    `gorm:"primaryKey;type:varchar(128)" json:"scope"`
	LastValue int64     `gorm:"not null" json:"last_value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }
