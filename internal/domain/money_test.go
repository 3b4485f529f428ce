package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyRoundsToCurrencyScale(t *testing.T) {
	m := NewMoney(decimal.RequireFromString("100.005"), "MXN")
	require.Equal(t, "100.01 MXN", m.String())

	m = NewMoney(decimal.RequireFromString("1234.4"), "JPY")
	require.Equal(t, "1234 JPY", m.String())

	// Unknown currencies fall back to two decimals.
	m = NewMoney(decimal.RequireFromString("9.999"), "XXX")
	require.Equal(t, "10.00 XXX", m.String())
}

func TestConvertRoundsToTargetScale(t *testing.T) {
	sent := NewMoney(decimal.NewFromInt(1000), "MXN")
	got := sent.Convert("USD", decimal.RequireFromString("0.058"))
	require.Equal(t, "USD", got.Currency)
	require.True(t, got.Amount.Equal(decimal.RequireFromString("58.00")), "got %s", got.Amount)

	got = sent.Convert("JPY", decimal.RequireFromString("8.6675"))
	require.True(t, got.Amount.Equal(decimal.NewFromInt(8668)), "got %s", got.Amount)
}

func TestCurrencyScale(t *testing.T) {
	require.Equal(t, int32(2), CurrencyScale("USD"))
	require.Equal(t, int32(0), CurrencyScale("JPY"))
	require.Equal(t, int32(2), CurrencyScale("ZZZ"))
}
