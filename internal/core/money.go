// Package core provides money parsing and handling utilities.
//
// Money is fixed at two fractional digits and backed by shopspring/decimal so
// arithmetic never goes through floating point. Storage uses integer cents.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount mirrors the NUMERIC(10,2) ceiling of the ledger columns.
var MaxAmount = Money{d: decimal.RequireFromString("99999999.99")}

type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// MoneyFromCents builds a Money from an integer number of cents.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// MoneyFromDecimal rounds d to cents.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d: d.Round(2)}
}

// MustParseMoney is for constants and tests.
func MustParseMoney(s string) Money {
	return Money{d: decimal.RequireFromString(s).Round(2)}
}

// ParseAmount converts a user supplied decimal string into a strictly positive
// Money value.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Unlike a
// display parser it never rounds: more than two fractional digits is an error,
// as are signs, exponents, zero and values above MaxAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,3")   -> 12.30, nil
//	ParseAmount("12.345") -> error
//	ParseAmount("0")      -> error
func ParseAmount(s string) (Money, error) {
	const op = "core.ParseAmount"
	invalid := NewValidation(op, CodeInvalidAmount, "amount")

	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, invalid
	}
	s = strings.ReplaceAll(s, ",", ".")

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, invalid
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
		if fracPart == "" {
			return Money{}, invalid
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return Money{}, invalid
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return Money{}, invalid
		}
	}
	// Bound the digit count before handing it to decimal.
	if len(strings.TrimLeft(intPart, "0")) > 8 {
		return Money{}, invalid
	}

	d, err := decimal.NewFromString(intPart + "." + fracPart + "0")
	if err != nil {
		return Money{}, invalid
	}
	m := Money{d: d.Round(2)}
	if !m.IsPositive() || m.GreaterThan(MaxAmount) {
		return Money{}, invalid
	}
	return m, nil
}

// Cents returns the value as an integer number of cents.
func (m Money) Cents() int64 {
	return m.d.Shift(2).Round(0).IntPart()
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

func (m Money) Cmp(o Money) int          { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsZero() bool             { return m.d.IsZero() }

// String renders the amount with exactly two fractional digits.
func (m Money) String() string { return m.d.StringFixed(2) }

// Scale returns m * num / den rounded to cents. den must be non-zero.
func (m Money) Scale(num, den Money) Money {
	return Money{d: m.d.Mul(num.d).Div(den.d).Round(2)}
}

// MarshalJSON renders the amount as a fixed two-digit string ("12.30").
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*m = Money{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decode money %q: %w", s, err)
	}
	*m = Money{d: d.Round(2)}
	return nil
}
