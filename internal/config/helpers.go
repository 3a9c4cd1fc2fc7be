package config

import (
	"candlesync/pkg/market"
)

// MustLoadProvider loads etc/provider.yaml from the project root and panics on
// error. It isolates provider config so tests that only need providers do not
// have to assemble a full application config.
func MustLoadProvider() *market.Config {
	return market.MustLoad()
}

// MustBuildProviders loads provider config from the default path and builds
// provider instances against the given clock; returns the map and the default
// provider name.
func MustBuildProviders(clock *market.Clock) (map[string]market.Provider, string) {
	cfg := MustLoadProvider()
	providers, err := cfg.BuildProviders(clock)
	if err != nil {
		panic(err)
	}
	return providers, cfg.Default
}
