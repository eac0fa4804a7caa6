package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse(" 12.50 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))

	_, err = Parse("0")
	assert.ErrorIs(t, err, ErrNotPositive)
	_, err = Parse("-3")
	assert.ErrorIs(t, err, ErrNotPositive)
	_, err = Parse("1.005")
	assert.ErrorIs(t, err, ErrTooPrecise)
	_, err = Parse("twelve")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1250), ToMinor(decimal.RequireFromString("12.50")))
	assert.Equal(t, int64(1), ToMinor(decimal.RequireFromString("0.01")))
	assert.True(t, FromMinor(1250).Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "12.50", FromMinor(1250).StringFixed(2))
}

func TestNormalizeCurrency(t *testing.T) {
	c, err := NormalizeCurrency("gbp")
	require.NoError(t, err)
	assert.Equal(t, "GBP", c)

	_, err = NormalizeCurrency("XYZQ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestFormat(t *testing.T) {
	out := Format(decimal.RequireFromString("12.5"), "GBP")
	assert.Contains(t, out, "£")
	assert.Contains(t, out, "12.50")
	assert.NotContains(t, out, "NaN")

	out = Format(decimal.RequireFromString("1234.5"), "GBP")
	assert.Contains(t, out, "1,234.50")

	assert.Equal(t, "3.00 ZZZ", Format(decimal.NewFromInt(3), "ZZZ"))
}
