package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

// LegalSnapshot is copied onto the invoice and never looked up again.
type LegalSnapshot struct {
	BillToName    string
	BillToAddress string
	TaxID         string
	TaxRegime     TaxRegime
	VATRate       decimal.Decimal
	ExciseRate    decimal.Decimal
}

type LineInput struct {
	Kind        LineKind
	Description string
	Quantity    decimal.Decimal
	UnitPrice   money.Money
	OrderID     *snowflake.ID
	OrderLineID *snowflake.ID
}

type OrderLink struct {
	OrderID       snowflake.ID
	AmountExclTax *money.Money
}

type CreateInvoiceRequest struct {
	CustomerID     snowflake.ID
	Currency       string
	SubscriptionID *snowflake.ID
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Legal          LegalSnapshot
	Region         string
	Lines          []LineInput
	Orders         []OrderLink

	// Status is draft or issued; blank means issued.
	Status   InvoiceStatus
	IssuedAt *time.Time
	DueAt    *time.Time
	Metadata map[string]any

	// PostToLedger posts the grand total as an invoice entry on the
	// customer's billing account once the invoice is issued.
	PostToLedger bool
}

type CreateInvoiceResult struct {
	Invoice  Invoice
	Replayed bool
}

type ConsolidateRequest struct {
	InvoiceIDs []snowflake.ID
	IssuedAt   *time.Time
}

type LinkOrderRequest struct {
	InvoiceID     snowflake.ID
	OrderID       snowflake.ID
	AmountExclTax *money.Money
}

type LinkOrderResult struct {
	Link     InvoiceOrder
	Replayed bool
}

type DetachOrderResult struct {
	RemovedLinks int64
	ClearedLines int64
}

type ListInvoiceRequest struct {
	PageToken  string
	PageSize   int
	CustomerID *snowflake.ID
	Status     *InvoiceStatus
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*CreateInvoiceResult, error)
	Consolidate(ctx context.Context, req ConsolidateRequest) (*ConsolidatedInvoice, error)
	LinkOrder(ctx context.Context, req LinkOrderRequest) (*LinkOrderResult, error)
	// DetachOrder removes every link to orderID and clears line
	// traceability. Invoices themselves are left untouched.
	DetachOrder(ctx context.Context, orderID snowflake.ID) (*DetachOrderResult, error)
	UpdateStatus(ctx context.Context, invoiceID snowflake.ID, status InvoiceStatus) (*Invoice, error)
	// PostToLedger posts an issued invoice to the customer's billing
	// account. Repeated calls replay the first entry.
	PostToLedger(ctx context.Context, invoiceID snowflake.ID) (*ledgerdomain.PostEntryResult, error)
	GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*Invoice, error)
	GetConsolidated(ctx context.Context, consolidatedID snowflake.ID) (*ConsolidatedInvoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	// MarkOverdue moves up to limit issued invoices whose due date is
	// before asOf to overdue and returns how many changed.
	MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error)
}

var (
	ErrInvalidInvoiceID    = errors.New("invalid_invoice_id")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidLines        = errors.New("invalid_lines")
	ErrInvalidLineKind     = errors.New("invalid_line_kind")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidUnitPrice    = errors.New("invalid_unit_price")
	ErrInvalidDescription  = errors.New("invalid_description")
	ErrInvalidTaxRegime    = errors.New("invalid_tax_regime")
	ErrInvalidTaxRate      = errors.New("invalid_tax_rate")
	ErrInvalidBillTo       = errors.New("invalid_bill_to")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidDueDate      = errors.New("invalid_due_date")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrMissingSubscription = errors.New("subscription_required")
	ErrEmptyConsolidation  = errors.New("empty_consolidation")

	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrConsolidatedNotFound = errors.New("consolidated_invoice_not_found")

	ErrInvalidTransition   = errors.New("invalid_status_transition")
	ErrCustomerMismatch    = errors.New("customer_mismatch")
	ErrCurrencyMismatch    = errors.New("currency_mismatch")
	ErrNotConsolidatable   = errors.New("invoice_not_consolidatable")
	ErrAlreadyConsolidated = errors.New("invoice_already_consolidated")
	ErrInvoiceCancelled    = errors.New("invoice_cancelled")
	ErrInvoiceNotPostable  = errors.New("invoice_not_postable")

	ErrOutcomeUnknown = db.ErrOutcomeUnknown
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInvoiceID) ||
		errors.Is(err, ErrInvalidCustomer) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrInvalidLines) ||
		errors.Is(err, ErrInvalidLineKind) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidUnitPrice) ||
		errors.Is(err, ErrInvalidDescription) ||
		errors.Is(err, ErrInvalidTaxRegime) ||
		errors.Is(err, ErrInvalidTaxRate) ||
		errors.Is(err, ErrInvalidBillTo) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidDueDate) ||
		errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingSubscription) ||
		errors.Is(err, ErrEmptyConsolidation)
}

// IsConflict reports errors caused by the invoice's current state rather
// than by the request itself.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCustomerMismatch) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrNotConsolidatable) ||
		errors.Is(err, ErrAlreadyConsolidated) ||
		errors.Is(err, ErrInvoiceCancelled) ||
		errors.Is(err, ErrInvoiceNotPostable)
}
