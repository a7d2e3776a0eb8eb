package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
)

// Service is the read side over the ledger and invoices. Nothing here
// takes locks or writes.
type Service interface {
	ListLedger(ctx context.Context, req ListLedgerRequest) (ListLedgerResponse, error)
	GetStatement(ctx context.Context, customerID snowflake.ID, from, to time.Time) (*Statement, error)
	GetRevenueSummary(ctx context.Context, req RevenueRequest) (RevenueSummary, error)
	GetRevenueTable(ctx context.Context, req RevenueTableRequest) (RevenueTableResponse, error)
}

var (
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidRange       = errors.New("invalid_date_range")
	ErrInvalidEntryType   = errors.New("invalid_entry_type")
	ErrInvalidPerspective = errors.New("invalid_perspective")
	ErrInvalidGroupBy     = errors.New("invalid_group_by")
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCustomer) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidEntryType) ||
		errors.Is(err, ErrInvalidPerspective) ||
		errors.Is(err, ErrInvalidGroupBy) ||
		errors.Is(err, pagination.ErrInvalidPageToken)
}
