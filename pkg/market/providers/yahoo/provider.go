// Package yahoo implements the candle provider contract against the public
// v8 finance chart API, with symbol resolution tuned for Indian tickers.
package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candlesync/pkg/market"
	"candlesync/pkg/retry"
)

const (
	defaultThrottleIntraday  = time.Minute
	defaultThrottleDaily     = 5 * time.Minute
	defaultProbeSpacing      = 100 * time.Millisecond
	defaultBootstrapIntraday = 30 * time.Minute
	defaultBootstrapDaily    = 30 // days
)

// Provider fetches missing candle rows, owning the per-symbol throttle state.
// The throttle map is mutated only by the provider's own fetch path.
type Provider struct {
	client *Client
	clock  *market.Clock

	throttle          map[market.Granularity]time.Duration
	probeSpacing      time.Duration
	bootstrapIntraday time.Duration
	bootstrapDays     int

	nowFn func() time.Time

	mu        sync.Mutex
	lastFetch map[string]time.Time
	lastProbe time.Time
}

// ProviderOption customises the provider.
type ProviderOption func(*Provider)

// WithClientOptions passes options to the underlying chart client.
func WithClientOptions(options ...Option) ProviderOption {
	return func(p *Provider) {
		p.client = NewClient(options...)
	}
}

// WithThrottle sets the minimum spacing between fetches for a granularity.
func WithThrottle(g market.Granularity, spacing time.Duration) ProviderOption {
	return func(p *Provider) {
		if spacing >= 0 {
			p.throttle[g] = spacing
		}
	}
}

// WithProbeSpacing sets the minimum gap between validation probes.
func WithProbeSpacing(spacing time.Duration) ProviderOption {
	return func(p *Provider) {
		if spacing >= 0 {
			p.probeSpacing = spacing
		}
	}
}

// WithBootstrapWindows sets the catch-up spans used when a table has no
// watermark yet.
func WithBootstrapWindows(intraday time.Duration, dailyDays int) ProviderOption {
	return func(p *Provider) {
		if intraday > 0 {
			p.bootstrapIntraday = intraday
		}
		if dailyDays > 0 {
			p.bootstrapDays = dailyDays
		}
	}
}

// WithNowFunc overrides the time source. Test hook.
func WithNowFunc(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		if now != nil {
			p.nowFn = now
		}
	}
}

// NewProvider constructs a chart-API candle provider gated on the given
// market clock.
func NewProvider(clock *market.Clock, opts ...ProviderOption) *Provider {
	if clock == nil {
		clock = market.DefaultClock()
	}
	p := &Provider{
		client: NewClient(),
		clock:  clock,
		throttle: map[market.Granularity]time.Duration{
			market.Intraday: defaultThrottleIntraday,
			market.Daily:    defaultThrottleDaily,
		},
		probeSpacing:      defaultProbeSpacing,
		bootstrapIntraday: defaultBootstrapIntraday,
		bootstrapDays:     defaultBootstrapDaily,
		nowFn:             time.Now,
		lastFetch:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch returns rows newer than the watermark for (symbol, granularity),
// normalized to market-local ascending order.
func (p *Provider) Fetch(ctx context.Context, symbol string, g market.Granularity, watermark *time.Time) ([]market.Candle, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("yahoo: unsupported granularity %q", g)
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	now := p.nowFn()
	if g == market.Intraday && !p.clock.IsOpen(now) {
		// Intraday data is provider-side meaningless outside market hours;
		// skip without touching the network.
		logx.WithContext(ctx).Debugf("yahoo: market closed, skipping intraday fetch for %s", symbol)
		return nil, nil
	}
	if err := p.checkThrottle(symbol, g, now); err != nil {
		return nil, err
	}

	resolved, err := p.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	start, end := p.window(g, watermark, now)
	rows, err := p.client.Chart(ctx, resolved, g.Interval(), start, end)
	if err != nil {
		return nil, err
	}
	p.markFetched(symbol, g)

	rows = market.Normalize(rows, p.clock.Location())
	return market.FilterAfter(rows, watermark), nil
}

// window computes the upstream query span. With a watermark the window starts
// there (exclusive via post-filter); without one it falls back to the bounded
// bootstrap span for the granularity.
func (p *Provider) window(g market.Granularity, watermark *time.Time, now time.Time) (time.Time, time.Time) {
	if watermark != nil {
		return *watermark, now
	}
	if g == market.Daily {
		return now.AddDate(0, 0, -p.bootstrapDays), now
	}
	return now.Add(-p.bootstrapIntraday), now
}

func (p *Provider) checkThrottle(symbol string, g market.Granularity, now time.Time) error {
	spacing := p.throttle[g]
	if spacing <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastFetch[throttleKey(symbol, g)]; ok && now.Sub(last) < spacing {
		return fmt.Errorf("yahoo: %s %s fetched %s ago: %w", symbol, g, now.Sub(last).Round(time.Millisecond), market.ErrThrottled)
	}
	return nil
}

// markFetched records the last successful upstream request for the pair.
func (p *Provider) markFetched(symbol string, g market.Granularity) {
	p.mu.Lock()
	p.lastFetch[throttleKey(symbol, g)] = p.nowFn()
	p.mu.Unlock()
}

func throttleKey(symbol string, g market.Granularity) string {
	return symbol + "|" + string(g)
}

func init() {
	market.RegisterProvider("yahoo", func(name string, cfg *market.ProviderConfig, clock *market.Clock) (market.Provider, error) {
		clientOptions := []Option{}
		if cfg.BaseURL != "" {
			clientOptions = append(clientOptions, WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPTimeout > 0 {
			clientOptions = append(clientOptions, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		if cfg.MaxRetries > 0 {
			clientOptions = append(clientOptions, WithRetryPolicy(retry.Policy{
				MaxAttempts: cfg.MaxRetries,
				IsRetryable: market.IsRetryable,
				IsRateLimit: market.IsRateLimit,
			}))
		}

		opts := []ProviderOption{WithClientOptions(clientOptions...)}
		if cfg.ThrottleIntraday > 0 {
			opts = append(opts, WithThrottle(market.Intraday, cfg.ThrottleIntraday))
		}
		if cfg.ThrottleDaily > 0 {
			opts = append(opts, WithThrottle(market.Daily, cfg.ThrottleDaily))
		}
		if cfg.ProbeSpacing > 0 {
			opts = append(opts, WithProbeSpacing(cfg.ProbeSpacing))
		}
		if cfg.BootstrapIntraday > 0 || cfg.BootstrapDailyDays > 0 {
			opts = append(opts, WithBootstrapWindows(cfg.BootstrapIntraday, cfg.BootstrapDailyDays))
		}
		return NewProvider(clock, opts...), nil
	})
}
