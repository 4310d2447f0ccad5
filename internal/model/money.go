package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places stored in minor units.
// The engine assumes two-decimal currencies, like the backends it talks to.
const minorUnitExponent = 2

// MinorUnits converts a major-unit amount (e.g. 19.99) to int64 minor units (1999).
// Rounds half away from zero so 0.005 becomes 1.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(minorUnitExponent).Round(0).IntPart()
}

// ParseCents converts decimal string amounts (dollars) to cents (int64).
// Examples: "99.00" → 9900, "1234.56" → 123456, "" → 0, "abc" → 0
func ParseCents(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return MinorUnits(d)
}

// FormatMinor renders minor units for display, e.g. (1999, "usd") → "19.99 USD".
func FormatMinor(amount int64, currency string) string {
	s := decimal.New(amount, -minorUnitExponent).StringFixed(minorUnitExponent)
	if currency == "" {
		return s
	}
	return s + " " + strings.ToUpper(currency)
}
