package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/ledgerd/internal/config"
	fxratedomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/internal/reporting/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	FxSvc     fxratedomain.Service        `optional:"true"`
	Billing   *config.BillingConfigHolder `optional:"true"`
	Config    config.Config               `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	ledgerSvc    ledgerdomain.Service
	fxSvc        fxratedomain.Service
	billing      *config.BillingConfigHolder
	baseCurrency string
	fxPair       string
}

func NewService(p Params) domain.Service {
	svc := &Service{
		db:           p.DB,
		log:          p.Log.Named("reporting.service"),
		ledgerSvc:    p.LedgerSvc,
		fxSvc:        p.FxSvc,
		billing:      p.Billing,
		baseCurrency: strings.ToUpper(strings.TrimSpace(p.Config.BaseCurrency)),
	}
	if svc.billing == nil {
		svc.billing = config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	}
	if svc.baseCurrency == "" {
		svc.baseCurrency = "USD"
	}
	quote := strings.ToUpper(strings.TrimSpace(p.Config.QuoteCurrency))
	if quote == "" {
		quote = "CDF"
	}
	svc.fxPair = svc.baseCurrency + "/" + quote
	return svc
}

func (s *Service) ListLedger(ctx context.Context, req domain.ListLedgerRequest) (domain.ListLedgerResponse, error) {
	filter := req.Filter
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.ListLedgerResponse{}, domain.ErrInvalidRange
	}

	types := make([]string, 0, len(filter.EntryTypes))
	for _, t := range filter.EntryTypes {
		t = ledgerdomain.EntryType(strings.ToLower(strings.TrimSpace(string(t))))
		if !t.Valid() {
			return domain.ListLedgerResponse{}, domain.ErrInvalidEntryType
		}
		types = append(types, string(t))
	}

	limit := pagination.NormalizeLimit(req.PageSize)
	createdAt, id, ok, err := pagination.DecodeTimeCursor(req.PageToken)
	if err != nil {
		return domain.ListLedgerResponse{}, err
	}

	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.AccountEntry{})
	if filter.AccountID != nil {
		stmt = stmt.Where("account_id = ?", *filter.AccountID)
	}
	if filter.CustomerID != nil {
		stmt = stmt.Where("account_id IN (SELECT id FROM billing_accounts WHERE customer_id = ?)", *filter.CustomerID)
	}
	if len(types) > 0 {
		stmt = stmt.Where("entry_type IN ?", types)
	}
	if filter.From != nil {
		stmt = stmt.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("created_at <= ?", filter.To.UTC())
	}
	stmt = whereRegion(stmt, "region_snapshot", filter.Region, filter.Unassigned)
	if ok {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var entries []ledgerdomain.AccountEntry
	if err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&entries).Error; err != nil {
		return domain.ListLedgerResponse{}, err
	}

	entries, pageInfo, err := pagination.BuildCursorPageInfo(entries, limit, func(e ledgerdomain.AccountEntry) pagination.Cursor {
		return pagination.TimeCursor(e.CreatedAt, int64(e.ID))
	})
	if err != nil {
		return domain.ListLedgerResponse{}, err
	}
	return domain.ListLedgerResponse{PageInfo: pageInfo, Entries: entries}, nil
}

func whereRegion(stmt *gorm.DB, column, region string, unassigned bool) *gorm.DB {
	region = strings.TrimSpace(region)
	switch {
	case unassigned:
		return stmt.Where(column + " IS NULL")
	case region == "":
		return stmt
	default:
		return stmt.Where(column+" = ?", region)
	}
}
