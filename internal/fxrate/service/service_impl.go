package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/fxrate/cache"
	fxdomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock     `optional:"true"`
	Cache cache.RateCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cache cache.RateCache
}

func NewService(p Params) fxdomain.Service {
	svc := &Service{
		db:    p.DB,
		log:   p.Log.Named("fxrate.service"),
		genID: p.GenID,
		clock: p.Clock,
		cache: p.Cache,
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	if svc.cache == nil {
		svc.cache = cache.Noop{}
	}
	return svc
}

func (s *Service) SetRate(ctx context.Context, date time.Time, pair string, rate decimal.Decimal) (*fxdomain.FxRate, error) {
	if date.IsZero() {
		return nil, fxdomain.ErrInvalidDate
	}
	pair, err := fxdomain.NormalizePair(pair)
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, fxdomain.ErrInvalidRate
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	row := fxdomain.FxRate{
		ID:        s.genID.Generate(),
		RateDate:  fxdomain.NormalizeDate(date),
		Pair:      pair,
		Rate:      rate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rate_date"}, {Name: "pair"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, pair); err != nil {
		s.log.Warn("fx cache invalidation failed", zap.String("pair", pair), zap.Error(err))
	}

	var stored fxdomain.FxRate
	if err := s.db.WithContext(ctx).
		Where("rate_date = ? AND pair = ?", row.RateDate, pair).
		Take(&stored).Error; err != nil {
		return nil, err
	}

	s.log.Info("fx rate stored",
		zap.String("pair", pair),
		zap.String("rate_date", stored.RateDate.Format("2006-01-02")),
		zap.String("rate", stored.Rate.String()),
	)
	return &stored, nil
}

func (s *Service) GetRate(ctx context.Context, date time.Time, pair string) (decimal.Decimal, error) {
	if date.IsZero() {
		return decimal.Zero, fxdomain.ErrInvalidDate
	}
	pair, err := fxdomain.NormalizePair(pair)
	if err != nil {
		return decimal.Zero, err
	}
	day := fxdomain.NormalizeDate(date)

	rate, ok, found, cacheKey := s.cache.Get(ctx, pair, day)
	if found {
		if !ok {
			return decimal.Zero, fxdomain.ErrRateUnavailable
		}
		return rate, nil
	}

	var row fxdomain.FxRate
	err = s.db.WithContext(ctx).
		Where("pair = ? AND rate_date <= ?", pair, day).
		Order("rate_date DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.cache.Set(ctx, cacheKey, decimal.Zero, false)
			return decimal.Zero, fxdomain.ErrRateUnavailable
		}
		return decimal.Zero, err
	}

	s.cache.Set(ctx, cacheKey, row.Rate, true)
	return row.Rate, nil
}

func (s *Service) Convert(ctx context.Context, date time.Time, pair string, amount money.Money) (money.Money, error) {
	rate, err := s.GetRate(ctx, date, pair)
	if err != nil {
		return money.Zero(), err
	}
	return amount.MulDecimal(rate), nil
}

func (s *Service) ListRates(ctx context.Context, pair string, from, to time.Time) ([]fxdomain.FxRate, error) {
	pair, err := fxdomain.NormalizePair(pair)
	if err != nil {
		return nil, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fxdomain.ErrInvalidRange
	}

	stmt := s.db.WithContext(ctx).Where("pair = ?", pair)
	if !from.IsZero() {
		stmt = stmt.Where("rate_date >= ?", fxdomain.NormalizeDate(from))
	}
	if !to.IsZero() {
		stmt = stmt.Where("rate_date <= ?", fxdomain.NormalizeDate(to))
	}

	var rows []fxdomain.FxRate
	if err := stmt.Order("rate_date ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
