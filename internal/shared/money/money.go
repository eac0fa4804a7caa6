// Package money keeps prescription amounts in decimal pounds and converts
// them to the processor's minor units at the boundary.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	DefaultCurrency = "GBP"
	minorDigits     = 2
)

var (
	ErrNotPositive     = errors.New("amount must be greater than zero")
	ErrTooPrecise      = errors.New("amount has more than two decimal places")
	ErrMalformed       = errors.New("amount is not a number")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Parse reads a user-supplied amount such as "12.50".
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrMalformed
	}
	return d, ValidatePrice(d)
}

// ValidatePrice enforces a positive amount with at most pence precision.
func ValidatePrice(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	if !d.Equal(d.Round(minorDigits)) {
		return ErrTooPrecise
	}
	return nil
}

// ToMinor converts pounds to pence.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(minorDigits).Round(0).IntPart()
}

// FromMinor converts pence to pounds.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorDigits)
}

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	u, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return u.String(), nil
}

// Format renders an amount for humans, e.g. "£ 12.50".
func Format(d decimal.Decimal, code string) string {
	u, err := currency.ParseISO(code)
	if err != nil {
		return d.StringFixed(minorDigits) + " " + code
	}
	// x/text formats numbers only; a string amount renders as NaN.
	p := message.NewPrinter(language.BritishEnglish)
	return p.Sprint(currency.Symbol(u.Amount(d.Round(minorDigits).InexactFloat64())))
}
