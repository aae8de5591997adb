package ees

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// quotedNumber matches a number wrapped in double quotes inside a larger
// string, e.g. `indicator_col: "1.27"`.
var quotedNumber = regexp.MustCompile(`"(-?\d+(\.\d+)?)"`)

// lookupStep returns the raw value for an indicator from one place in a record.
type lookupStep func(rec Record, ind Indicator) RawValue

// coerceStep tries to read a raw value as a finite number.
type coerceStep func(raw RawValue) (float64, bool)

// Keyed lookups treat JSON null as absent so the next key is tried.
var lookupChain = []lookupStep{
	func(rec Record, ind Indicator) RawValue { return rec.Lookup(ind.ID) },
	func(rec Record, ind Indicator) RawValue {
		if ind.Column == "" {
			return RawValue{}
		}
		return rec.Lookup(ind.Column)
	},
}

var coerceChain = []coerceStep{
	finiteNumber,
	quotedNumberInText,
	wholeTextNumber,
}

func lookupRaw(rec Record, ind Indicator) RawValue {
	for _, step := range lookupChain {
		if raw := step(rec, ind); raw.Present() {
			return raw
		}
	}
	return rec.First()
}

func coerce(raw RawValue) (float64, bool) {
	for _, step := range coerceChain {
		if f, ok := step(raw); ok {
			return f, true
		}
	}
	return 0, false
}

func finiteNumber(raw RawValue) (float64, bool) {
	if raw.Kind != RawNumber || math.IsNaN(raw.Number) || math.IsInf(raw.Number, 0) {
		return 0, false
	}
	return raw.Number, true
}

func quotedNumberInText(raw RawValue) (float64, bool) {
	if raw.Kind != RawText {
		return 0, false
	}
	m := quotedNumber.FindStringSubmatch(raw.Text)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func wholeTextNumber(raw RawValue) (float64, bool) {
	if raw.Kind != RawText {
		return 0, false
	}
	s := strings.TrimSpace(raw.Text)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ExtractTrendValue reads the indicator's value from a record as a number.
// Anything that cannot be read as a finite number yields nil.
func ExtractTrendValue(rec Record, ind Indicator) *float64 {
	f, ok := coerce(lookupRaw(rec, ind))
	if !ok {
		return nil
	}
	return &f
}

// ExtractPageValue reads the indicator's value for a table cell. It follows
// the same chain as ExtractTrendValue but keeps an unparseable string as-is
// instead of discarding it.
func ExtractPageValue(rec Record, ind Indicator) Value {
	raw := lookupRaw(rec, ind)
	if f, ok := coerce(raw); ok {
		return NumberValue(f)
	}
	if raw.Kind == RawText {
		return TextValue(raw.Text)
	}
	return NullValue()
}

// NormalizeRow converts an upstream record into a display row.
func NormalizeRow(rec Record, sel Selection) NormalizedRow {
	v := ExtractPageValue(rec, sel.Indicator)
	return NormalizedRow{
		Location:   LocationLabel(rec, sel.Location),
		TimePeriod: TimePeriodLabel(rec, sel.TimePeriod),
		Value:      v,
		Display:    FormatValue(v, sel.Indicator.DisplayDecimals()),
		Raw:        rec.Raw,
	}
}

// NormalizePage converts a parsed query response into a page result.
// Rows keep the upstream order and the total is passed through unchanged.
func NormalizePage(resp QueryResponse, sel Selection) PageResult {
	rows := make([]NormalizedRow, 0, len(resp.Records))
	for _, rec := range resp.Records {
		rows = append(rows, NormalizeRow(rec, sel))
	}
	return PageResult{Rows: rows, Total: resp.Total}
}
