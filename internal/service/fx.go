package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/store"
)

// FxResolver selects the applicable exchange rate for a currency pair: the
// most recent rate not newer than the requested time. Rate rows are
// append-only snapshots from the external feed; the resolver never computes
// rates itself.
type FxResolver struct {
	rates   store.RateStore
	timeout time.Duration
}

func NewFxResolver(rates store.RateStore, timeout time.Duration) *FxResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &FxResolver{rates: rates, timeout: timeout}
}

// Resolve returns the rate converting source into target as of asOf.
// domain.ErrRateNotFound is a transient precondition failure: the caller
// leaves the transfer PENDING and retries later.
func (r *FxResolver) Resolve(ctx context.Context, sourceCurrency, targetCurrency string, asOf time.Time) (models.ExchangeRate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rate, err := r.rates.LatestNotAfter(ctx, sourceCurrency, targetCurrency, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.ExchangeRate{}, fmt.Errorf("%s/%s at %s: %w",
				sourceCurrency, targetCurrency, asOf.Format(time.RFC3339), domain.ErrRateNotFound)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ExchangeRate{}, fmt.Errorf("rate lookup timed out: %w", domain.ErrTransientUnavailable)
		}
		return models.ExchangeRate{}, fmt.Errorf("rate lookup: %w", err)
	}
	return rate, nil
}

// SeedRates loads exchange rates from a JSON file into the store in one
// batch. Meant for local runs where no external feed is wired; existing
// (base, asset, date) rows are left untouched.
func SeedRates(ctx context.Context, rates store.RateStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rate seed file: %w", err)
	}
	var seed []models.ExchangeRate
	if err := json.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse rate seed file %s: %w", path, err)
	}
	if len(seed) == 0 {
		return 0, nil
	}
	if err := rates.InsertBatch(ctx, seed); err != nil {
		return 0, err
	}
	return len(seed), nil
}
