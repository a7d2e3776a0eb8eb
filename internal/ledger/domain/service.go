package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"gorm.io/gorm"
)

type PostEntryRequest struct {
	AccountID      snowflake.ID
	EntryType      EntryType
	Amount         money.Money
	Description    string
	OrderID        *snowflake.ID
	SubscriptionID *snowflake.ID
	PaymentID      *snowflake.ID
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	ExternalRef    string

	// Explicit snapshot values win over the resolver.
	RegionSnapshot     *string
	SalesAgentSnapshot *string

	// StrictExternalRef rejects a repeated external_ref with
	// ErrDuplicateExternalRef instead of replaying the stored entry. A ref
	// reused for a different account, type or amount is always rejected.
	StrictExternalRef bool
}

type PostEntryResult struct {
	Entry    AccountEntry
	Replayed bool
}

// Snapshot holds the dimensional values frozen onto an entry.
type Snapshot struct {
	Region     *string
	SalesAgent *string
}

type SnapshotQuery struct {
	AccountID      snowflake.ID
	OrderID        *snowflake.ID
	SubscriptionID *snowflake.ID
}

// SnapshotResolver reads the current region and sales agent of the order,
// subscription or customer behind an entry.
type SnapshotResolver interface {
	ResolveSnapshot(ctx context.Context, q SnapshotQuery) (Snapshot, error)
}

type Service interface {
	PostEntry(ctx context.Context, req PostEntryRequest) (*PostEntryResult, error)
	GetBalance(ctx context.Context, accountID snowflake.ID) (money.Money, error)
	GetEntry(ctx context.Context, entryID snowflake.ID) (*AccountEntry, error)
	GetAccount(ctx context.Context, accountID snowflake.ID) (*BillingAccount, error)
	GetAccountByCustomer(ctx context.Context, customerID snowflake.ID) (*BillingAccount, error)

	// EnsureAccount provisions the customer's account inside tx. A nil tx
	// runs on the service's own handle.
	EnsureAccount(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, currency string) (*BillingAccount, error)
}
