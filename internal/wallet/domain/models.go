package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// Wallet is a stored-value balance. Balance changes only together with an
// appended WalletTransaction.
type Wallet struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:ux_wallets_customer" json:"customer_id"`
	Balance    money.Money  `gorm:"type:bigint;not null" json:"balance"`
	Currency   string       `gorm:"type:text;not null" json:"currency"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// WalletTransaction is an immutable balance movement. AttemptKey is set on
// credits tied to a payment attempt and is unique, so one attempt can top up
// a wallet at most once.
type WalletTransaction struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	WalletID         snowflake.ID    `gorm:"not null;index:ix_wallet_transactions_wallet_created,priority:1" json:"wallet_id"`
	Type             TransactionType `gorm:"type:text;not null" json:"type"`
	Amount           money.Money     `gorm:"type:bigint;not null" json:"amount"`
	Note             string          `gorm:"type:text;not null" json:"note"`
	OrderID          *snowflake.ID   `json:"order_id,omitempty"`
	PaymentAttemptID *string         `gorm:"type:text" json:"payment_attempt_id,omitempty"`
	AttemptKey       *string         `gorm:"type:varchar(191);uniqueIndex:ux_wallet_transactions_attempt_key" json:"-"`
	BalanceAfter     money.Money     `gorm:"type:bigint;not null" json:"balance_after"`
	CreatedAt        time.Time       `gorm:"not null;index:ix_wallet_transactions_wallet_created,priority:2" json:"created_at"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func AttemptKey(walletID snowflake.ID, attemptID string) string {
	return walletID.String() + ":" + attemptID
}
