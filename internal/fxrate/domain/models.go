package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var pairPattern = regexp.MustCompile(`^[A-Z]{3}/[A-Z]{3}$`)

// FxRate is the daily fixing for a currency pair. A rate stays in effect
// until a later fixing for the same pair is stored.
type FxRate struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	RateDate  time.Time       `gorm:"not null;uniqueIndex:ux_fx_rates_date_pair,priority:1" json:"rate_date"`
	Pair      string          `gorm:"type:varchar(16);not null;uniqueIndex:ux_fx_rates_date_pair,priority:2;index" json:"pair"`
	Rate      decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"rate"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

func (FxRate) TableName() string { return "fx_rates" }

// NormalizeDate truncates t to its UTC calendar day.
func NormalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizePair upper-cases and validates an "AAA/BBB" pair.
func NormalizePair(pair string) (string, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if !pairPattern.MatchString(pair) {
		return "", ErrInvalidPair
	}
	if pair[:3] == pair[4:] {
		return "", ErrInvalidPair
	}
	return pair, nil
}
