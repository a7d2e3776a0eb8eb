package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultOverdueBatch = 100

func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	if limit <= 0 {
		limit = defaultOverdueBatch
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	var ids []snowflake.ID
	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Model(&invoicedomain.Invoice{}).
			Where("status = ? AND due_at IS NOT NULL AND due_at < ?", invoicedomain.InvoiceStatusIssued, asOf.UTC()).
			Order("due_at asc, id asc").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		// Status is re-checked so a concurrent payment wins.
		res := tx.WithContext(ctx).
			Model(&invoicedomain.Invoice{}).
			Where("id IN ? AND status = ?", ids, invoicedomain.InvoiceStatusIssued).
			Updates(map[string]any{
				"status":     invoicedomain.InvoiceStatusOverdue,
				"updated_at": s.now(),
			})
		changed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, db.WrapTimeout(err)
	}

	for i := int64(0); i < changed; i++ {
		s.obsMetrics.RecordInvoice(ctx, string(invoicedomain.InvoiceStatusOverdue))
	}
	if changed > 0 {
		s.log.Info("invoices marked overdue",
			zap.Int64("count", changed),
			zap.Time("as_of", asOf),
		)
	}
	return int(changed), nil
}
