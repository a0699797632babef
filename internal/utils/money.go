package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// CurrencyScale is the number of minor-unit digits for an ISO 4217 code
// (2 for USD, 0 for JPY, 3 for KWD).
func CurrencyScale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// ToMinorUnits converts an amount to the gateway's integer representation.
// Amounts with more precision than the currency allows are rejected.
func ToMinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	if !amount.Equal(amount.Round(scale)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals for %s", amount, scale, code)
	}
	return amount.Shift(scale).IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, code string) (decimal.Decimal, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -scale), nil
}

// FormatAmount renders an amount with the currency's fixed decimals.
func FormatAmount(amount decimal.Decimal, code string) string {
	scale, err := CurrencyScale(code)
	if err != nil {
		scale = 2
	}
	return amount.StringFixed(scale)
}
