package service

import (
	"context"
	"errors"
	"sort"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	"github.com/smallbiznis/ledgerd/internal/invoice/format"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Service) Consolidate(ctx context.Context, req invoicedomain.ConsolidateRequest) (*invoicedomain.ConsolidatedInvoice, error) {
	ids := make([]snowflake.ID, 0, len(req.InvoiceIDs))
	seen := make(map[snowflake.ID]struct{}, len(req.InvoiceIDs))
	for _, id := range req.InvoiceIDs {
		if id == 0 {
			return nil, invoicedomain.ErrInvalidInvoiceID
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, invoicedomain.ErrEmptyConsolidation
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	now := s.now()
	issuedAt := now
	if req.IssuedAt != nil {
		issuedAt = req.IssuedAt.UTC()
	}

	var consolidated invoicedomain.ConsolidatedInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var children []invoicedomain.Invoice
		if err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id asc").
			Find(&children).Error; err != nil {
			return err
		}
		if len(children) != len(ids) {
			return invoicedomain.ErrInvoiceNotFound
		}

		first := children[0]
		total := money.Zero()
		for _, child := range children {
			if child.CustomerID != first.CustomerID {
				return invoicedomain.ErrCustomerMismatch
			}
			if child.Currency != first.Currency {
				return invoicedomain.ErrCurrencyMismatch
			}
			if !child.Status.Billed() {
				return invoicedomain.ErrNotConsolidatable
			}
			if child.ConsolidatedInvoiceID != nil {
				return invoicedomain.ErrAlreadyConsolidated
			}
			total = total.Add(child.GrandTotal)
		}

		number, err := s.nextNumber(ctx, tx, format.ConsolidatedScheme(s.billing.Get().Numbering), issuedAt)
		if err != nil {
			return err
		}

		consolidated = invoicedomain.ConsolidatedInvoice{
			ID:         s.genID.Generate(),
			Number:     number,
			CustomerID: first.CustomerID,
			Currency:   first.Currency,
			GrandTotal: total,
			ChildCount: len(children),
			IssuedAt:   issuedAt,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&consolidated).Error; err != nil {
			return err
		}

		res := tx.WithContext(ctx).
			Model(&invoicedomain.Invoice{}).
			Where("id IN ? AND consolidated_invoice_id IS NULL", ids).
			UpdateColumn("consolidated_invoice_id", consolidated.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return invoicedomain.ErrAlreadyConsolidated
		}

		for i := range children {
			children[i].ConsolidatedInvoiceID = &consolidated.ID
		}
		consolidated.Children = children
		return nil
	})
	if err != nil {
		return nil, db.WrapTimeout(err)
	}

	s.log.Info("invoices consolidated",
		zap.String("consolidated_id", consolidated.ID.String()),
		zap.String("number", consolidated.Number),
		zap.Int("child_count", consolidated.ChildCount),
		zap.String("grand_total", consolidated.GrandTotal.String()),
	)
	return &consolidated, nil
}

func (s *Service) GetConsolidated(ctx context.Context, consolidatedID snowflake.ID) (*invoicedomain.ConsolidatedInvoice, error) {
	if consolidatedID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	var consolidated invoicedomain.ConsolidatedInvoice
	if err := s.db.WithContext(ctx).Take(&consolidated, "id = ?", consolidatedID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrConsolidatedNotFound
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Where("consolidated_invoice_id = ?", consolidatedID).
		Find(&consolidated.Children).Error; err != nil {
		return nil, err
	}
	sort.Slice(consolidated.Children, func(i, j int) bool {
		return consolidated.Children[i].ID < consolidated.Children[j].ID
	})
	return &consolidated, nil
}
