package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	fxratedomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/internal/reporting/domain"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"go.uber.org/zap"
)

func (s *Service) GetStatement(ctx context.Context, customerID snowflake.ID, from, to time.Time) (*domain.Statement, error) {
	if customerID == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	from = from.UTC()
	to = to.UTC()
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, domain.ErrInvalidRange
	}

	account, err := s.ledgerSvc.GetAccountByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var opening money.Money
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM account_entries WHERE account_id = ? AND created_at < ?`,
		account.ID, from,
	).Row().Scan(&opening); err != nil {
		return nil, err
	}

	var entries []ledgerdomain.AccountEntry
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND created_at >= ? AND created_at <= ?", account.ID, from, to).
		Order("created_at asc, id asc").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	statement := &domain.Statement{
		CustomerID:     customerID,
		AccountID:      account.ID,
		Currency:       account.Currency,
		From:           from,
		To:             to,
		OpeningBalance: opening,
		Rows:           make([]domain.StatementRow, 0, len(entries)),
	}

	running := opening
	debits := money.Zero()
	credits := money.Zero()
	for _, entry := range entries {
		running = running.Add(entry.Amount)
		if entry.Amount.IsPositive() {
			debits = debits.Add(entry.Amount)
		} else {
			credits = credits.Add(entry.Amount.Abs())
		}
		statement.Rows = append(statement.Rows, domain.StatementRow{
			EntryID:        entry.ID,
			CreatedAt:      entry.CreatedAt,
			EntryType:      entry.EntryType,
			Description:    entry.Description,
			Amount:         entry.Amount,
			RunningBalance: running,
		})
	}
	statement.Totals = domain.StatementTotals{Debits: debits, Credits: credits, Closing: running}

	statement.Aging, err = s.aging(ctx, customerID, account.Currency, to)
	if err != nil {
		return nil, err
	}

	if account.Currency == s.baseCurrency && s.fxSvc != nil {
		rate, err := s.fxSvc.GetRate(ctx, to, s.fxPair)
		switch {
		case err == nil:
			statement.CDF = &domain.CDFEquivalents{
				Rate:           rate,
				OpeningBalance: opening.MulDecimal(rate),
				ClosingBalance: running.MulDecimal(rate),
			}
		case errors.Is(err, fxratedomain.ErrRateUnavailable):
			s.log.Debug("statement without fx equivalents",
				zap.String("customer_id", customerID.String()),
				zap.Time("to", to),
			)
		default:
			return nil, err
		}
	}

	return statement, nil
}

// aging buckets the grand totals of unpaid invoices by whole days past due
// as of asOf. Invoices with days_past_due <= 0 are left out.
func (s *Service) aging(ctx context.Context, customerID snowflake.ID, currency string, asOf time.Time) ([]domain.AgingBucket, error) {
	defs := s.billing.Get().AgingBuckets
	buckets := make([]domain.AgingBucket, len(defs))
	for i, def := range defs {
		buckets[i] = domain.AgingBucket{Label: def.Label, Total: money.Zero()}
	}

	var invoices []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).
		Select("id", "due_at", "grand_total").
		Where("customer_id = ? AND currency = ? AND status IN ? AND due_at IS NOT NULL", customerID, currency,
			[]string{string(invoicedomain.InvoiceStatusIssued), string(invoicedomain.InvoiceStatusOverdue)}).
		Find(&invoices).Error; err != nil {
		return nil, err
	}

	asOfDate := truncateDay(asOf)
	for _, inv := range invoices {
		days := int(asOfDate.Sub(truncateDay(*inv.DueAt)).Hours() / 24)
		if days <= 0 {
			continue
		}
		for i, def := range defs {
			if def.Contains(days) {
				buckets[i].Total = buckets[i].Total.Add(inv.GrandTotal)
				buckets[i].Count++
				break
			}
		}
	}
	return buckets, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
