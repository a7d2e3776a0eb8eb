package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"go.uber.org/zap"
)

// PostToLedger records an issued invoice's grand total as an invoice entry
// on the customer's billing account. It reads only the frozen invoice
// snapshot. The entry's external_ref is derived from the invoice ID, so
// retries replay instead of double-billing.
func (s *Service) PostToLedger(ctx context.Context, invoiceID snowflake.ID) (*ledgerdomain.PostEntryResult, error) {
	invoice, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.Billed() || !invoice.GrandTotal.IsPositive() {
		return nil, invoicedomain.ErrInvoiceNotPostable
	}

	if invoice.LedgerEntryID != nil {
		entry, err := s.ledgerSvc.GetEntry(ctx, *invoice.LedgerEntryID)
		if err != nil {
			return nil, err
		}
		return &ledgerdomain.PostEntryResult{Entry: *entry, Replayed: true}, nil
	}

	account, err := s.ledgerSvc.GetAccountByCustomer(ctx, invoice.CustomerID)
	if err != nil {
		return nil, err
	}
	if account.Currency != invoice.Currency {
		return nil, invoicedomain.ErrCurrencyMismatch
	}

	res, err := s.ledgerSvc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
		AccountID:      account.ID,
		EntryType:      ledgerdomain.EntryTypeInvoice,
		Amount:         invoice.GrandTotal,
		Description:    fmt.Sprintf("Invoice %s", invoice.Number),
		SubscriptionID: invoice.SubscriptionID,
		PeriodStart:    invoice.PeriodStart,
		PeriodEnd:      invoice.PeriodEnd,
		ExternalRef:    ledgerExternalRef(invoice.ID),
		RegionSnapshot: invoice.RegionSnapshot,
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND ledger_entry_id IS NULL", invoice.ID).
		UpdateColumn("ledger_entry_id", res.Entry.ID).Error; err != nil {
		return nil, err
	}

	s.log.Info("posted invoice to ledger",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("entry_id", res.Entry.ID.String()),
		zap.String("grand_total", invoice.GrandTotal.String()),
		zap.Bool("replayed", res.Replayed),
	)
	return res, nil
}

func ledgerExternalRef(invoiceID snowflake.ID) string {
	return "invoice:" + invoiceID.String()
}
