package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/pkg/money"
)

type Service interface {
	SetRate(ctx context.Context, date time.Time, pair string, rate decimal.Decimal) (*FxRate, error)
	GetRate(ctx context.Context, date time.Time, pair string) (decimal.Decimal, error)
	Convert(ctx context.Context, date time.Time, pair string, amount money.Money) (money.Money, error)
	ListRates(ctx context.Context, pair string, from, to time.Time) ([]FxRate, error)
}
