package ees

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    Value
		dp   int
		want string
	}{
		{NumberValue(1.27), 1, "1.3"},
		{NumberValue(1.25), 0, "1"},
		{NumberValue(3), 2, "3.00"},
		{NumberValue(-0.5), 1, "-0.5"},
		{TextValue("12.345"), 2, "12.35"},
		{TextValue(" 4 "), 1, "4.0"},
		{TextValue("c"), 2, "c"},
		{TextValue(""), 2, ""},
		{TextValue("   "), 2, ""},
		{NullValue(), 2, ""},
		{NumberValue(2.5), -1, "3"},
		{NumberValue(1.005), 2, "1.01"},
		{NumberValue(-1.005), 2, "-1.01"},
		{TextValue("1.005"), 2, "1.01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.v, tt.dp), "%+v dp=%d", tt.v, tt.dp)
	}
}

func TestIndicatorDisplayDecimals(t *testing.T) {
	assert.Equal(t, 2, Indicator{ID: "a"}.DisplayDecimals())
	zero := 0
	assert.Equal(t, 0, Indicator{ID: "a", DecimalPlaces: &zero}.DisplayDecimals())
}
