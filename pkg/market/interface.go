package market

import (
	"context"
	"time"
)

// Provider exposes upstream candle data behind a source-agnostic contract.
type Provider interface {
	// Resolve maps an operator-entered ticker to the provider's canonical
	// identifier. Returns ErrSymbolNotFound when no candidate validates.
	Resolve(ctx context.Context, symbol string) (string, error)

	// Fetch returns the candle rows missing after the watermark for the given
	// symbol and granularity, normalized to market-local time in ascending
	// order. A nil watermark requests the bootstrap window. An empty slice
	// with a nil error means "no new data". Fetch returns ErrThrottled when
	// the per-symbol minimum spacing has not elapsed, and never issues an
	// upstream call for Intraday outside market hours.
	Fetch(ctx context.Context, symbol string, g Granularity, watermark *time.Time) ([]Candle, error)
}
