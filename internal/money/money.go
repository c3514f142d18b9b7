// Package money converts between the decimal-string amounts used by the
// Shopify Admin API and the integer minor-unit encoding used on the UCP wire.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const defaultDecimals = 2

// minorUnitOverrides lists the ISO 4217 currencies whose minor unit is not
// the default two digits. Every currency absent from this table uses two.
var minorUnitOverrides = map[string]int{
	// Zero-decimal currencies.
	"BIF": 0,
	"CLP": 0,
	"DJF": 0,
	"GNF": 0,
	"ISK": 0,
	"JPY": 0,
	"KMF": 0,
	"KRW": 0,
	"PYG": 0,
	"RWF": 0,
	"UGX": 0,
	"VND": 0,
	"VUV": 0,
	"XAF": 0,
	"XOF": 0,
	"XPF": 0,
	// Three-decimal currencies.
	"BHD": 3,
	"IQD": 3,
	"JOD": 3,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"TND": 3,
	// Four-decimal currencies.
	"CLF": 4,
	"UYW": 4,
}

// Decimals reports the number of minor-unit digits for the given currency
// code. Unrecognised codes fall back to two digits.
func Decimals(code string) int {
	if digits, ok := minorUnitOverrides[Normalize(code)]; ok {
		return digits
	}
	return defaultDecimals
}

// Normalize upper-cases a currency code and, where the code parses as ISO
// 4217, returns its canonical form. Unknown codes pass through upper-cased so
// that conversion never fails on exotic input.
func Normalize(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return ""
	}
	if unit, err := currency.ParseISO(trimmed); err == nil {
		return unit.String()
	}
	return trimmed
}

// ToMinorUnits converts a decimal-string amount into integer minor units for
// the currency, rounding half away from zero. Non-numeric input yields 0;
// callers treat that as a lossy-but-safe default rather than an error.
func ToMinorUnits(amount, code string) int64 {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0
	}
	return value.Shift(int32(Decimals(code))).Round(0).IntPart()
}

// FromMinorUnits renders integer minor units as a decimal string carrying the
// currency's full precision, e.g. 2500 USD minor units become "25.00".
func FromMinorUnits(units int64, code string) string {
	digits := Decimals(code)
	return decimal.New(units, -int32(digits)).StringFixed(int32(digits))
}
