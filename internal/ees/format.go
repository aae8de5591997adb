package ees

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatValue renders a cell value with a fixed number of decimals.
// Null and empty values render as "", and strings that are not numbers
// are returned unchanged. Numbers round half away from zero from their
// shortest decimal form, so 1.005 at two places is "1.01" rather than the
// "1.00" that rounding the binary value would give.
func FormatValue(v Value, decimalPlaces int) string {
	if decimalPlaces < 0 {
		decimalPlaces = 0
	}
	switch v.Kind {
	case ValueNumber:
		return decimal.NewFromFloat(v.Number).StringFixed(int32(decimalPlaces))
	case ValueText:
		s := strings.TrimSpace(v.Text)
		if s == "" {
			return ""
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return v.Text
		}
		return d.StringFixed(int32(decimalPlaces))
	default:
		return ""
	}
}
