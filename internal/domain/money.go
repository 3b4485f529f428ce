package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a specific currency. Amounts use
// shopspring/decimal to avoid floating point errors; a value is always
// rounded to its currency's minor-unit scale.
type Money struct {
	Amount   decimal.Decimal
	Currency string // ISO 4217
}

// Minor-unit scales per ISO 4217. Currencies not listed default to 2.
var currencyScales = map[string]int32{
	"MXN": 2,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"JPY": 0,
	"COP": 2,
	"GTQ": 2,
}

// CurrencyScale returns the minor-unit precision for a currency code.
func CurrencyScale(currency string) int32 {
	if scale, ok := currencyScales[currency]; ok {
		return scale
	}
	return 2
}

// NewMoney creates a Money rounded to the currency's minor-unit scale.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount.Round(CurrencyScale(currency)),
		Currency: currency,
	}
}

// Convert applies an FX rate and returns the value in the target currency,
// rounded half-up to the target's minor-unit scale. The rate is
// target-per-source.
func (m Money) Convert(targetCurrency string, rate decimal.Decimal) Money {
	converted := m.Amount.Mul(rate).Round(CurrencyScale(targetCurrency))
	return Money{Amount: converted, Currency: targetCurrency}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(CurrencyScale(m.Currency)), m.Currency)
}
