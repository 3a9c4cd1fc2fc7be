package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candlesync/pkg/market"
)

// indianIndices maps well-known benchmark indices to their provider codes.
// Trusted: no validation probe is issued for these.
var indianIndices = map[string]string{
	"NSEI":    "^NSEI",    // Nifty 50
	"BSESN":   "^BSESN",   // Sensex
	"NSEBANK": "^NSEBANK", // Nifty Bank
}

// trustedNSE lists liquid NSE tickers that resolve straight to the .NS form
// without a probe, saving one upstream round trip per sync cycle.
var trustedNSE = map[string]bool{
	"RELIANCE": true, "TCS": true, "INFY": true, "HDFCBANK": true,
	"ICICIBANK": true, "ITC": true, "LT": true, "SBIN": true,
	"BHARTIARTL": true, "ASIANPAINT": true, "WIPRO": true, "KOTAKBANK": true,
}

// suffixCandidates is the fallback chain for bare tickers: primary domestic
// exchange, secondary domestic exchange, then the raw international form.
var suffixCandidates = []string{".NS", ".BO", ""}

const probeRange = "1d" // one day of daily candles; non-empty means the symbol exists

// Resolve maps an operator-entered ticker to the chart API's canonical symbol.
// The candidate space is searched in a fixed order, short-circuiting on the
// first validated match; probe failures are non-fatal and just advance to the
// next candidate.
func (p *Provider) Resolve(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("yahoo: empty symbol: %w", market.ErrSymbolNotFound)
	}

	if mapped, ok := indianIndices[symbol]; ok {
		return mapped, nil
	}

	// Already fully qualified (exchange suffix or index marker).
	if strings.Contains(symbol, ".") || strings.HasPrefix(symbol, "^") {
		return symbol, nil
	}

	if trustedNSE[symbol] {
		return symbol + ".NS", nil
	}

	tried := make([]string, 0, len(suffixCandidates))
	for _, suffix := range suffixCandidates {
		candidate := symbol + suffix
		tried = append(tried, candidate)

		if err := p.waitProbeSpacing(ctx); err != nil {
			return "", err
		}
		rows, err := p.client.ChartRange(ctx, candidate, market.Daily.Interval(), probeRange)
		if err != nil {
			if !errors.Is(err, market.ErrSymbolNotFound) {
				logx.WithContext(ctx).Infof("yahoo: probe %s failed: %v", candidate, err)
			}
			continue
		}
		if len(rows) > 0 {
			return candidate, nil
		}
	}

	logx.WithContext(ctx).Errorf("yahoo: symbol %s not found, tried %s", symbol, strings.Join(tried, ", "))
	return "", fmt.Errorf("yahoo: %s (tried %s): %w", symbol, strings.Join(tried, ", "), market.ErrSymbolNotFound)
}

// waitProbeSpacing enforces the minimum gap between consecutive validation
// probes so a batch of unknown symbols cannot trip upstream throttling.
func (p *Provider) waitProbeSpacing(ctx context.Context) error {
	if p.probeSpacing <= 0 {
		return nil
	}
	p.mu.Lock()
	now := p.nowFn()
	wait := p.probeSpacing - now.Sub(p.lastProbe)
	if wait < 0 {
		wait = 0
	}
	p.lastProbe = now.Add(wait)
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
