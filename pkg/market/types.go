// Package market defines the candle domain model shared by providers,
// persistence, and the sync engine: granularities, candle rows, the provider
// contract, the market-hours clock, and provider configuration.
package market

import (
	"fmt"
	"strings"
	"time"
)

// Granularity identifies one candle cadence. The string value doubles as the
// table-name suffix payload, so it is part of the persisted contract.
type Granularity string

const (
	// Intraday is the 5-minute cadence.
	Intraday Granularity = "5M"
	// Daily is the one-bar-per-session cadence.
	Daily Granularity = "DAILY"
)

// Granularities lists every supported cadence in sweep order.
var Granularities = []Granularity{Intraday, Daily}

// Valid reports whether g is a supported cadence.
func (g Granularity) Valid() bool {
	return g == Intraday || g == Daily
}

// Suffix returns the table-name suffix for the cadence, e.g. "_5M".
func (g Granularity) Suffix() string {
	return "_" + string(g)
}

// Interval returns the upstream chart-API interval code.
func (g Granularity) Interval() string {
	if g == Daily {
		return "1d"
	}
	return "5m"
}

// ParseGranularity maps user-facing spellings onto a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "5M", "INTRADAY":
		return Intraday, nil
	case "DAILY", "1D":
		return Daily, nil
	default:
		return "", fmt.Errorf("market: unknown granularity %q", s)
	}
}

// Candle is one OHLCV bar keyed by its opening timestamp.
type Candle struct {
	Datetime time.Time `db:"datetime" json:"datetime"`
	Open     float64   `db:"open" json:"open"`
	High     float64   `db:"high" json:"high"`
	Low      float64   `db:"low" json:"low"`
	Close    float64   `db:"close" json:"close"`
	Volume   float64   `db:"volume" json:"volume"`
}
