package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"gorm.io/gorm"
)

type MovementRequest struct {
	WalletID         snowflake.ID
	Amount           money.Money
	Note             string
	OrderID          *snowflake.ID
	PaymentAttemptID string
}

type CreditForAttemptResult struct {
	Credited bool        `json:"credited"`
	Balance  money.Money `json:"balance"`
}

type ListTransactionsRequest struct {
	WalletID  snowflake.ID
	PageToken string
	Limit     int
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []WalletTransaction `json:"transactions"`
}

type Service interface {
	Credit(ctx context.Context, req MovementRequest) (money.Money, error)
	Debit(ctx context.Context, req MovementRequest) (money.Money, error)
	CreditForAttempt(ctx context.Context, req MovementRequest) (*CreditForAttemptResult, error)

	GetWallet(ctx context.Context, walletID snowflake.ID) (*Wallet, error)
	GetWalletByCustomer(ctx context.Context, customerID snowflake.ID) (*Wallet, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (*ListTransactionsResponse, error)

	EnsureWallet(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, currency string) (*Wallet, error)
}
