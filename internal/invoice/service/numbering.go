package service

import (
	"context"
	"time"

	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	"github.com/smallbiznis/ledgerd/internal/invoice/format"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// nextNumber advances the scheme's counter inside tx and formats the result.
// The counter row stays locked until tx ends, so concurrent issuers
// serialize and a rolled back invoice returns its number.
func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, scheme format.Scheme, at time.Time) (string, error) {
	scope := scheme.Scope(at)
	now := s.now()

	seed := invoicedomain.InvoiceSequence{Scope: scope, LastValue: 0, UpdatedAt: now}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "scope"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return "", err
	}

	if err := tx.WithContext(ctx).
		Model(&invoicedomain.InvoiceSequence{}).
		Where("scope = ?", scope).
		Updates(map[string]any{
			"last_value": gorm.Expr("last_value + 1"),
			"updated_at": now,
		}).Error; err != nil {
		return "", err
	}

	var value int64
	if err := tx.WithContext(ctx).
		Model(&invoicedomain.InvoiceSequence{}).
		Select("last_value").
		Where("scope = ?", scope).
		Scan(&value).Error; err != nil {
		return "", err
	}

	return scheme.Format(at, value)
}
