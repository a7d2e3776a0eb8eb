package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type TaxKind string

const (
	TaxKindExcise TaxKind = "excise"
	TaxKindVAT    TaxKind = "vat"
)

// InvoiceTaxLine captures one tax component applied when the invoice was
// created: the rate, the base it applied to and the resulting amount.
type InvoiceTaxLine struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Kind      TaxKind         `gorm:"type:text;not null" json:"kind"`
	Rate      decimal.Decimal `gorm:"type:numeric(9,4);not null" json:"rate"`
	Base      money.Money     `gorm:"type:bigint;not null" json:"base"`
	Amount    money.Money     `gorm:"type:bigint;not null" json:"amount"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceTaxLine) TableName() string { return "invoice_tax_lines" }
