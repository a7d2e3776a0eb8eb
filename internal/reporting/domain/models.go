package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type Perspective string

const (
	PerspectiveInvoiced  Perspective = "invoiced"
	PerspectiveCollected Perspective = "collected"
)

func (p Perspective) Valid() bool {
	return p == PerspectiveInvoiced || p == PerspectiveCollected
}

type GroupBy string

const (
	GroupByDay    GroupBy = "day"
	GroupByWeek   GroupBy = "week"
	GroupByMonth  GroupBy = "month"
	GroupByRegion GroupBy = "region"
)

func (g GroupBy) Valid() bool {
	switch g {
	case GroupByDay, GroupByWeek, GroupByMonth, GroupByRegion:
		return true
	}
	return false
}

// LedgerFilter narrows ledger queries. Region matches the frozen region
// snapshot; Unassigned matches entries without one and overrides Region.
type LedgerFilter struct {
	AccountID  *snowflake.ID
	CustomerID *snowflake.ID
	EntryTypes []ledgerdomain.EntryType
	From       *time.Time
	To         *time.Time
	Region     string
	Unassigned bool
}

type ListLedgerRequest struct {
	Filter    LedgerFilter
	PageToken string
	PageSize  int
}

type ListLedgerResponse struct {
	pagination.PageInfo
	Entries []ledgerdomain.AccountEntry `json:"entries"`
}

type StatementRow struct {
	EntryID        snowflake.ID           `json:"entry_id"`
	CreatedAt      time.Time              `json:"created_at"`
	EntryType      ledgerdomain.EntryType `json:"entry_type"`
	Description    string                 `json:"description"`
	Amount         money.Money            `json:"amount"`
	RunningBalance money.Money            `json:"running_balance"`
}

type StatementTotals struct {
	Debits  money.Money `json:"debits"`
	Credits money.Money `json:"credits"`
	Closing money.Money `json:"closing_balance"`
}

type AgingBucket struct {
	Label string      `json:"label"`
	Total money.Money `json:"total"`
	Count int         `json:"count"`
}

// CDFEquivalents are present only when a rate exists for the statement end.
type CDFEquivalents struct {
	Rate           decimal.Decimal `json:"rate"`
	OpeningBalance money.Money     `json:"opening_balance"`
	ClosingBalance money.Money     `json:"closing_balance"`
}

type Statement struct {
	CustomerID     snowflake.ID    `json:"customer_id"`
	AccountID      snowflake.ID    `json:"billing_account_id"`
	Currency       string          `json:"currency"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	OpeningBalance money.Money     `json:"opening_balance"`
	Rows           []StatementRow  `json:"rows"`
	Totals         StatementTotals `json:"totals"`
	Aging          []AgingBucket   `json:"aging"`
	CDF            *CDFEquivalents `json:"cdf_equivalents,omitempty"`
}

type RevenueRequest struct {
	From        time.Time
	To          time.Time
	Perspective Perspective
	Region      string
	Unassigned  bool
}

type RevenueSummary struct {
	Perspective Perspective  `json:"perspective"`
	Currency    string       `json:"currency"`
	Total       money.Money  `json:"total"`
	TotalCDF    *money.Money `json:"total_cdf,omitempty"`
	Count       int          `json:"count"`
}

type RevenueTableRequest struct {
	From        time.Time
	To          time.Time
	GroupBy     GroupBy
	Perspective Perspective
	Region      string
	Unassigned  bool
	PageToken   string
	PageSize    int
}

// RevenueGroup is one row of a revenue table. When grouping by region, rows
// without a region snapshot share the empty key and carry Unassigned.
type RevenueGroup struct {
	Key        string       `json:"key"`
	Unassigned bool         `json:"unassigned,omitempty"`
	Total      money.Money  `json:"total"`
	TotalCDF   *money.Money `json:"total_cdf,omitempty"`
	Count      int          `json:"count"`
}

type RevenueTableResponse struct {
	pagination.PageInfo
	Perspective Perspective    `json:"perspective"`
	GroupBy     GroupBy        `json:"group_by"`
	Currency    string         `json:"currency"`
	Groups      []RevenueGroup `json:"groups"`
}
