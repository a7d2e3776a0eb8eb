package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	fxratedomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/internal/reporting/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

// contribution is one invoice or entry counted towards revenue, already
// signed for the requested perspective.
type contribution struct {
	At     time.Time
	Amount money.Money
	Region *string
}

func (s *Service) GetRevenueSummary(ctx context.Context, req domain.RevenueRequest) (domain.RevenueSummary, error) {
	perspective, err := normalizePerspective(req.Perspective)
	if err != nil {
		return domain.RevenueSummary{}, err
	}
	rows, err := s.contributions(ctx, perspective, req.From, req.To, req.Region, req.Unassigned)
	if err != nil {
		return domain.RevenueSummary{}, err
	}

	rates := s.newRateBook()
	total, totalCDF, err := s.sum(ctx, rates, rows)
	if err != nil {
		return domain.RevenueSummary{}, err
	}

	return domain.RevenueSummary{
		Perspective: perspective,
		Currency:    s.baseCurrency,
		Total:       total,
		TotalCDF:    totalCDF,
		Count:       len(rows),
	}, nil
}

func (s *Service) GetRevenueTable(ctx context.Context, req domain.RevenueTableRequest) (domain.RevenueTableResponse, error) {
	perspective, err := normalizePerspective(req.Perspective)
	if err != nil {
		return domain.RevenueTableResponse{}, err
	}
	groupBy := domain.GroupBy(strings.ToLower(strings.TrimSpace(string(req.GroupBy))))
	if !groupBy.Valid() {
		return domain.RevenueTableResponse{}, domain.ErrInvalidGroupBy
	}

	limit := pagination.NormalizeLimit(req.PageSize)
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.RevenueTableResponse{}, err
	}

	rows, err := s.contributions(ctx, perspective, req.From, req.To, req.Region, req.Unassigned)
	if err != nil {
		return domain.RevenueTableResponse{}, err
	}

	grouped := make(map[string][]contribution)
	for _, row := range rows {
		key := groupKey(groupBy, row)
		grouped[key] = append(grouped[key], row)
	}
	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		if cursor != nil && key <= cursor.Key {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > limit+1 {
		keys = keys[:limit+1]
	}

	rates := s.newRateBook()
	groups := make([]domain.RevenueGroup, 0, len(keys))
	for _, key := range keys {
		total, totalCDF, err := s.sum(ctx, rates, grouped[key])
		if err != nil {
			return domain.RevenueTableResponse{}, err
		}
		groups = append(groups, domain.RevenueGroup{
			Key:        key,
			Unassigned: groupBy == domain.GroupByRegion && key == "",
			Total:      total,
			TotalCDF:   totalCDF,
			Count:      len(grouped[key]),
		})
	}

	groups, pageInfo, err := pagination.BuildCursorPageInfo(groups, limit, func(g domain.RevenueGroup) pagination.Cursor {
		return pagination.Cursor{Key: g.Key}
	})
	if err != nil {
		return domain.RevenueTableResponse{}, err
	}

	return domain.RevenueTableResponse{
		PageInfo:    pageInfo,
		Perspective: perspective,
		GroupBy:     groupBy,
		Currency:    s.baseCurrency,
		Groups:      groups,
	}, nil
}

// contributions loads the base-currency rows behind a revenue figure.
// Invoiced revenue is billed invoices issued in the window plus signed
// credit notes and adjustments. Collected revenue is negated payments.
func (s *Service) contributions(ctx context.Context, perspective domain.Perspective, from, to time.Time, region string, unassigned bool) ([]contribution, error) {
	from = from.UTC()
	to = to.UTC()
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, domain.ErrInvalidRange
	}

	var rows []contribution
	if perspective == domain.PerspectiveInvoiced {
		var invoiced []contribution
		stmt := s.db.WithContext(ctx).
			Model(&invoicedomain.Invoice{}).
			Select("issued_at AS at, grand_total AS amount, region_snapshot AS region").
			Where("currency = ? AND status IN ? AND issued_at >= ? AND issued_at <= ?", s.baseCurrency,
				[]string{
					string(invoicedomain.InvoiceStatusIssued),
					string(invoicedomain.InvoiceStatusPaid),
					string(invoicedomain.InvoiceStatusOverdue),
				}, from, to)
		if err := whereRegion(stmt, "region_snapshot", region, unassigned).Scan(&invoiced).Error; err != nil {
			return nil, err
		}
		rows = append(rows, invoiced...)
	}

	entryTypes := []string{string(ledgerdomain.EntryTypePayment)}
	if perspective == domain.PerspectiveInvoiced {
		entryTypes = []string{string(ledgerdomain.EntryTypeCreditNote), string(ledgerdomain.EntryTypeAdjustment)}
	}

	var entries []contribution
	stmt := s.db.WithContext(ctx).
		Table("account_entries AS e").
		Joins("JOIN billing_accounts AS a ON a.id = e.account_id").
		Select("e.created_at AS at, e.amount AS amount, e.region_snapshot AS region").
		Where("a.currency = ? AND e.entry_type IN ? AND e.created_at >= ? AND e.created_at <= ?", s.baseCurrency, entryTypes, from, to)
	if err := whereRegion(stmt, "e.region_snapshot", region, unassigned).Scan(&entries).Error; err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if perspective == domain.PerspectiveCollected {
			entry.Amount = entry.Amount.Neg()
		}
		rows = append(rows, entry)
	}

	return rows, nil
}

// sum totals rows in the base currency and, when every row has a rate on
// its own date, in the quote currency.
func (s *Service) sum(ctx context.Context, rates *rateBook, rows []contribution) (money.Money, *money.Money, error) {
	total := money.Zero()
	converted := money.Zero()
	complete := s.fxSvc != nil
	for _, row := range rows {
		total = total.Add(row.Amount)
		if !complete {
			continue
		}
		rate, ok, err := rates.get(ctx, row.At)
		if err != nil {
			return money.Zero(), nil, err
		}
		if !ok {
			complete = false
			continue
		}
		converted = converted.Add(row.Amount.MulDecimal(rate))
	}
	if !complete {
		return total, nil, nil
	}
	return total, &converted, nil
}

type rateBook struct {
	svc   fxratedomain.Service
	pair  string
	cache map[time.Time]*decimal.Decimal
}

func (s *Service) newRateBook() *rateBook {
	return &rateBook{svc: s.fxSvc, pair: s.fxPair, cache: make(map[time.Time]*decimal.Decimal)}
}

func (b *rateBook) get(ctx context.Context, at time.Time) (decimal.Decimal, bool, error) {
	day := truncateDay(at)
	if cached, ok := b.cache[day]; ok {
		if cached == nil {
			return decimal.Zero, false, nil
		}
		return *cached, true, nil
	}
	rate, err := b.svc.GetRate(ctx, day, b.pair)
	if err != nil {
		if errors.Is(err, fxratedomain.ErrRateUnavailable) {
			b.cache[day] = nil
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	b.cache[day] = &rate
	return rate, true, nil
}

func groupKey(groupBy domain.GroupBy, row contribution) string {
	at := row.At.UTC()
	switch groupBy {
	case domain.GroupByDay:
		return at.Format("2006-01-02")
	case domain.GroupByWeek:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case domain.GroupByMonth:
		return at.Format("2006-01")
	default:
		if row.Region == nil {
			return ""
		}
		return strings.TrimSpace(*row.Region)
	}
}

func normalizePerspective(p domain.Perspective) (domain.Perspective, error) {
	p = domain.Perspective(strings.ToLower(strings.TrimSpace(string(p))))
	if !p.Valid() {
		return "", domain.ErrInvalidPerspective
	}
	return p, nil
}
