// Package money provides the fixed-point amount type shared by the ledger,
// wallet, invoice and reporting packages.
//
// Every Money value carries exactly two fractional digits. Any operation that
// could produce more digits (percentages, FX multiplication) re-rounds with
// round-half-up (half away from zero for negative values).
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept by Money.
const Places = 2

// ErrInvalidAmount is returned when an amount cannot be parsed.
var ErrInvalidAmount = errors.New("invalid_amount")

var hundred = decimal.NewFromInt(100)

// Money is an immutable two-decimal amount.
type Money struct {
	d decimal.Decimal
}

// Quantize rounds x half-up to two places.
func Quantize(x decimal.Decimal) Money {
	return Money{d: x.Round(Places)}
}

// Zero returns 0.00.
func Zero() Money { return Money{d: decimal.Zero} }

// FromCents builds Money from minor units.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -Places)}
}

// Parse reads a decimal string such as "10.5" or "-3.005" and quantizes it.
func Parse(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return Quantize(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Money {
	m, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return m.d.Shift(Places).IntPart()
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{d: m.d.Add(o.d)}
}

func (m Money) Sub(o Money) Money {
	return Money{d: m.d.Sub(o.d)}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{d: m.d.Neg()}
}

func (m Money) Abs() Money {
	return Money{d: m.d.Abs()}
}

// MulDecimal multiplies by an arbitrary factor and re-quantizes.
func (m Money) MulDecimal(factor decimal.Decimal) Money {
	return Quantize(m.d.Mul(factor))
}

// Percent returns rate percent of m, quantized. Percent(16) of 100.00 is 16.00.
func (m Money) Percent(rate decimal.Decimal) Money {
	return Quantize(m.d.Mul(rate).Div(hundred))
}

// Cmp compares m and o like decimal.Decimal.Cmp.
func (m Money) Cmp(o Money) int {
	return m.d.Cmp(o.d)
}

func (m Money) Equal(o Money) bool {
	return m.d.Equal(o.d)
}

func (m Money) LessThan(o Money) bool {
	return m.d.LessThan(o.d)
}

func (m Money) GreaterThan(o Money) bool {
	return m.d.GreaterThan(o.d)
}

func (m Money) IsZero() bool {
	return m.d.IsZero()
}

func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// String renders the amount with exactly two decimals.
func (m Money) String() string {
	return m.d.StringFixed(Places)
}

// Sum adds all values, returning 0.00 for an empty list.
func Sum(values ...Money) Money {
	total := Zero()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON encodes the amount as a string to avoid float precision loss.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "10.00" and 10.00.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Zero()
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as BIGINT minor units.
func (m Money) Value() (driver.Value, error) {
	return m.Cents(), nil
}

// Scan reads BIGINT minor units. Drivers that hand back floats or text for
// numeric columns are accepted as long as they hold an integral cent count.
func (m *Money) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = Zero()
	case int64:
		*m = FromCents(v)
	case int32:
		*m = FromCents(int64(v))
	case int:
		*m = FromCents(int64(v))
	case float64:
		*m = Quantize(decimal.NewFromFloat(v).Shift(-Places))
	case []byte:
		return m.scanString(string(v))
	case string:
		return m.scanString(v)
	default:
		return fmt.Errorf("money: unsupported scan type %T", value)
	}
	return nil
}

func (m *Money) scanString(raw string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("money: scan %q: %w", raw, err)
	}
	*m = Quantize(d.Shift(-Places))
	return nil
}
