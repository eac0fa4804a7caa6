package view

import (
	"time"

	"github.com/shopspring/decimal"

	"globlept.co.uk/app/internal/shared/money"
)

// Money is an amount as the API shows it: a fixed two-decimal string plus a
// display form for humans.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

func NewMoney(d decimal.Decimal, currency string) Money {
	return Money{Amount: d.StringFixed(2), Currency: currency, Display: money.Format(d, currency)}
}

// Page wraps a list response.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func timePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
