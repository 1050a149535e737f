// Package types provides the numeric types used by the ledger.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
type Money = decimal.Decimal

// Quantity is a stock quantity. Restaurants stock fractional units (kg, l),
// so quantities are decimals rather than integers.
type Quantity = decimal.Decimal

const (
	// QuantityPlaces matches NUMERIC(18,4) in storage.
	QuantityPlaces int32 = 4
	// PricePlaces is the precision of unit and average prices.
	PricePlaces int32 = 4
	// ValuePlaces is the precision of total stock value.
	ValuePlaces int32 = 4
)

// Zero returns the zero decimal.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// MustDecimal parses s and panics on error. Use only for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseQuantity parses a quantity and rounds it to QuantityPlaces.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return RoundQuantity(d), nil
}

// RoundQuantity rounds q to storage precision.
func RoundQuantity(q Quantity) Quantity {
	return q.Round(QuantityPlaces)
}

// RoundMoney rounds m to storage precision.
func RoundMoney(m Money) Money {
	return m.Round(ValuePlaces)
}

// Extend returns qty * price rounded to value precision.
func Extend(qty Quantity, price Money) Money {
	return qty.Mul(price).Round(ValuePlaces)
}

// AveragePrice returns value/qty, or zero when qty is not positive.
func AveragePrice(value Money, qty Quantity) Money {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return value.DivRound(qty, PricePlaces)
}
