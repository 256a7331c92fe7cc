package models

import (
	"database/sql/driver"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Amount is a monetary value in integer minor units (nanotons). It is backed
// by an arbitrary-precision integer; no floating point is involved anywhere.
//
// The zero value is uninitialized and panics in arithmetic and comparisons.
// Construct through NewAmount, ZeroAmount, AmountFromString, or Scan.
type Amount struct {
	sdkmath.Int
}

// NewAmount creates an Amount from int64 minor units.
func NewAmount(v int64) Amount {
	return Amount{sdkmath.NewInt(v)}
}

// ZeroAmount returns the zero value usable in arithmetic.
func ZeroAmount() Amount {
	return Amount{sdkmath.ZeroInt()}
}

// AmountFromString parses a base-10 integer string.
func AmountFromString(s string) (Amount, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return Amount{v}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{a.Int.Add(b.Int)} }
func (a Amount) Sub(b Amount) Amount { return Amount{a.Int.Sub(b.Int)} }

func (a Amount) Equal(b Amount) bool { return a.Int.Equal(b.Int) }
func (a Amount) GTE(b Amount) bool   { return a.Int.GTE(b.Int) }
func (a Amount) GT(b Amount) bool    { return a.Int.GT(b.Int) }
func (a Amount) LT(b Amount) bool    { return a.Int.LT(b.Int) }

// MulBps multiplies by a basis-point fraction, truncating toward zero.
func (a Amount) MulBps(bps int64) Amount {
	return Amount{a.Int.MulRaw(bps).QuoRaw(10000)}
}

// WithinTolerance reports whether received is at least
// (10000 - toleranceBps)/10000 of expected. Exact integer arithmetic.
func WithinTolerance(received, expected Amount, toleranceBps int64) bool {
	return received.Int.MulRaw(10000).GTE(expected.Int.MulRaw(10000 - toleranceBps))
}

// Value implements driver.Valuer so Amount maps onto NUMERIC columns.
func (a Amount) Value() (driver.Value, error) {
	if a.Int.IsNil() {
		return nil, fmt.Errorf("amount is uninitialized")
	}
	return a.Int.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return fmt.Errorf("amount column is NULL")
	case int64:
		a.Int = sdkmath.NewInt(v)
		return nil
	case []byte:
		return a.scanString(string(v))
	case string:
		return a.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}

func (a *Amount) scanString(s string) error {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return fmt.Errorf("invalid amount value %q", s)
	}
	a.Int = v
	return nil
}
