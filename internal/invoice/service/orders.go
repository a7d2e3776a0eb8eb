package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) LinkOrder(ctx context.Context, req invoicedomain.LinkOrderRequest) (*invoicedomain.LinkOrderResult, error) {
	if req.InvoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	if req.OrderID == 0 {
		return nil, invoicedomain.ErrInvalidOrder
	}
	if req.AmountExclTax != nil && req.AmountExclTax.IsNegative() {
		return nil, invoicedomain.ErrInvalidAmount
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	link := invoicedomain.InvoiceOrder{
		ID:            s.genID.Generate(),
		InvoiceID:     req.InvoiceID,
		OrderID:       req.OrderID,
		AmountExclTax: quantizedOrNil(req.AmountExclTax),
		CreatedAt:     s.now(),
	}

	var result invoicedomain.LinkOrderResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == invoicedomain.InvoiceStatusCancelled {
			return invoicedomain.ErrInvoiceCancelled
		}

		existing, err := s.findLink(ctx, tx, req.InvoiceID, req.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = invoicedomain.LinkOrderResult{Link: *existing, Replayed: true}
			return nil
		}

		if err := tx.WithContext(ctx).Create(&link).Error; err != nil {
			return err
		}
		result = invoicedomain.LinkOrderResult{Link: link}
		return nil
	})
	if err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, db.WrapTimeout(err)
		}
		existing, findErr := s.findLink(ctx, s.db, req.InvoiceID, req.OrderID)
		if findErr != nil {
			return nil, db.WrapTimeout(findErr)
		}
		if existing == nil {
			return nil, err
		}
		result = invoicedomain.LinkOrderResult{Link: *existing, Replayed: true}
	}

	if result.Replayed {
		s.obsMetrics.RecordReplay(ctx, "invoice.link_order")
	} else {
		s.log.Info("order linked to invoice",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("order_id", req.OrderID.String()),
		)
	}
	return &result, nil
}

func (s *Service) DetachOrder(ctx context.Context, orderID snowflake.ID) (*invoicedomain.DetachOrderResult, error) {
	if orderID == 0 {
		return nil, invoicedomain.ErrInvalidOrder
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	var result invoicedomain.DetachOrderResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed := tx.WithContext(ctx).
			Where("order_id = ?", orderID).
			Delete(&invoicedomain.InvoiceOrder{})
		if removed.Error != nil {
			return removed.Error
		}

		cleared := tx.WithContext(ctx).
			Model(&invoicedomain.InvoiceLine{}).
			Where("order_id = ?", orderID).
			Updates(map[string]any{"order_id": nil, "order_line_id": nil})
		if cleared.Error != nil {
			return cleared.Error
		}

		result = invoicedomain.DetachOrderResult{
			RemovedLinks: removed.RowsAffected,
			ClearedLines: cleared.RowsAffected,
		}
		return nil
	})
	if err != nil {
		return nil, db.WrapTimeout(err)
	}

	s.log.Info("order detached from invoices",
		zap.String("order_id", orderID.String()),
		zap.Int64("removed_links", result.RemovedLinks),
		zap.Int64("cleared_lines", result.ClearedLines),
	)
	return &result, nil
}

func (s *Service) findLink(ctx context.Context, conn *gorm.DB, invoiceID, orderID snowflake.ID) (*invoicedomain.InvoiceOrder, error) {
	var link invoicedomain.InvoiceOrder
	err := conn.WithContext(ctx).
		Where("invoice_id = ? AND order_id = ?", invoiceID, orderID).
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}
