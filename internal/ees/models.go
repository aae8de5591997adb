package ees

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Indicator identifies a measured quantity in a data set.
// Column, when set, is an alternate key under which values may appear.
type Indicator struct {
	ID            string `json:"id" validate:"required"`
	Column        string `json:"column,omitempty"`
	Label         string `json:"label,omitempty"`
	DecimalPlaces *int   `json:"decimalPlaces,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// DisplayDecimals returns the precision used when rendering values of this indicator.
func (i Indicator) DisplayDecimals() int {
	if i.DecimalPlaces == nil {
		return 2
	}
	return *i.DecimalPlaces
}

// TimePeriod is a reporting period such as an academic year.
type TimePeriod struct {
	Code   string `json:"code" validate:"required"`
	Period string `json:"period" validate:"required"`
	Label  string `json:"label,omitempty"`
}

// Key returns a canonical string key for the period.
func (t TimePeriod) Key() string {
	return t.Code + "|" + t.Period
}

// OptionLabel is the text shown when offering this period for selection.
func (t TimePeriod) OptionLabel() string {
	if t.Label != "" {
		return t.Label
	}
	return t.Period + " (" + t.Code + ")"
}

// Location is a geographic or administrative unit at a given level.
type Location struct {
	Level   string `json:"level" validate:"required"`
	Code    string `json:"code" validate:"required"`
	ID      string `json:"id,omitempty"`
	Label   string `json:"label,omitempty"`
	OldCode string `json:"oldCode,omitempty"`
}

// Key returns a canonical string key for the location.
func (l Location) Key() string {
	return l.Level + "|" + l.Code
}

// SortDirection is the wire form of a sort direction.
type SortDirection string

const (
	SortAsc  SortDirection = "Asc"
	SortDesc SortDirection = "Desc"
)

// Sort orders a page query by a single field.
type Sort struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// ParseSort converts a grid sort model entry (column id plus "asc"/"desc")
// into a Sort. An empty field yields nil.
func ParseSort(field, dir string) *Sort {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	d := SortAsc
	if strings.EqualFold(dir, "desc") {
		d = SortDesc
	}
	return &Sort{Field: field, Direction: d}
}

// Selection is the user's current choice of indicator, period and location.
type Selection struct {
	Indicator  Indicator  `json:"indicator"`
	TimePeriod TimePeriod `json:"timePeriod"`
	Location   Location   `json:"location"`
}

// Fingerprint identifies one page window. Two requests with equal
// fingerprints are served by the same cached result.
type Fingerprint struct {
	DataSetID       string
	IndicatorID     string
	IndicatorColumn string
	TimePeriodCode  string
	TimePeriod      string
	LocationLevel   string
	LocationCode    string
	Page            int
	PageSize        int
	SortField       string
	SortDirection   SortDirection
}

// NewFingerprint builds the fingerprint for a page of the given selection.
func NewFingerprint(dataSetID string, sel Selection, page, pageSize int, sort *Sort) Fingerprint {
	fp := Fingerprint{
		DataSetID:       dataSetID,
		IndicatorID:     sel.Indicator.ID,
		IndicatorColumn: sel.Indicator.Column,
		TimePeriodCode:  sel.TimePeriod.Code,
		TimePeriod:      sel.TimePeriod.Period,
		LocationLevel:   sel.Location.Level,
		LocationCode:    sel.Location.Code,
		Page:            page,
		PageSize:        pageSize,
	}
	if sort != nil {
		fp.SortField = sort.Field
		fp.SortDirection = sort.Direction
	}
	return fp
}

// SelectionKey identifies the window family this fingerprint belongs to:
// everything except the page number.
func (f Fingerprint) SelectionKey() string {
	return strings.Join([]string{
		"rows",
		f.DataSetID,
		f.IndicatorID,
		f.IndicatorColumn,
		f.TimePeriodCode,
		f.TimePeriod,
		f.LocationLevel,
		f.LocationCode,
		strconv.Itoa(f.PageSize),
		f.SortField,
		string(f.SortDirection),
	}, "\x1f")
}

// Key is the cache key for this page window.
func (f Fingerprint) Key() string {
	return f.SelectionKey() + "\x1f" + strconv.Itoa(f.Page)
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueText
)

// Value is a cell value: a number, a raw string the normalizer could not
// read as a number, or null.
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
}

func NullValue() Value { return Value{} }

func NumberValue(f float64) Value { return Value{Kind: ValueNumber, Number: f} }

func TextValue(s string) Value { return Value{Kind: ValueText, Text: s} }

func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Float returns the numeric value and whether the value holds a number.
func (v Value) Float() (float64, bool) { return v.Number, v.Kind == ValueNumber }

// MarshalJSON encodes the value as a JSON number, string or null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return strconv.AppendFloat(nil, v.Number, 'f', -1, 64), nil
	case ValueText:
		return sonic.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

// NormalizedRow is one display row of the paginated table.
type NormalizedRow struct {
	Location   string         `json:"location"`
	TimePeriod string         `json:"timePeriod"`
	Value      Value          `json:"value"`
	Display    string         `json:"display"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// PageResult is one window of normalized rows plus the total row count
// reported by the upstream for the whole filtered set.
type PageResult struct {
	Rows  []NormalizedRow `json:"rows"`
	Total int             `json:"total"`
	// StaleData is set when the rows come from an expired cache entry
	// because the upstream is unavailable.
	StaleData bool `json:"staleData,omitempty"`
}

// TrendPoint is a single (period, value) pair on a trend series.
// A nil Value marks a period with no usable reading.
type TrendPoint struct {
	Period string   `json:"period"`
	Value  *float64 `json:"value"`
}
