package market

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"candlesync/pkg/confkit"
)

// Config describes the candle data providers available to the application.
type Config struct {
	Default   string                     `yaml:"default"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig represents configuration for a single candle provider.
type ProviderConfig struct {
	Type string `yaml:"type"`

	BaseURL string `yaml:"base_url"`

	HTTPTimeoutRaw string        `yaml:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-"`
	MaxRetries     int           `yaml:"max_retries"`

	// Minimum spacing between consecutive fetches for the same
	// (symbol, granularity) pair. Zero disables the throttle.
	ThrottleIntradayRaw string        `yaml:"throttle_intraday"`
	ThrottleIntraday    time.Duration `yaml:"-"`
	ThrottleDailyRaw    string        `yaml:"throttle_daily"`
	ThrottleDaily       time.Duration `yaml:"-"`

	// Minimum spacing between symbol-validation probes.
	ProbeSpacingRaw string        `yaml:"probe_spacing"`
	ProbeSpacing    time.Duration `yaml:"-"`

	// Catch-up window when a table has no watermark yet. Bounded on purpose:
	// a brand-new table must not attempt unbounded backfill in one call.
	BootstrapIntradayRaw string        `yaml:"bootstrap_intraday"`
	BootstrapIntraday    time.Duration `yaml:"-"`
	BootstrapDailyDays   int           `yaml:"bootstrap_daily_days"`
}

// ProviderBuilder constructs a Provider from configuration. The clock carries
// the market session the provider gates intraday fetches on.
type ProviderBuilder func(name string, cfg *ProviderConfig, clock *Clock) (Provider, error)

var (
	providerRegistry   = make(map[string]ProviderBuilder)
	providerRegistryMu sync.RWMutex
)

// RegisterProvider registers a candle provider constructor.
func RegisterProvider(typeName string, builder ProviderBuilder) {
	providerRegistryMu.Lock()
	defer providerRegistryMu.Unlock()
	providerRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupProviderBuilder(typeName string) (ProviderBuilder, bool) {
	providerRegistryMu.RLock()
	defer providerRegistryMu.RUnlock()
	builder, ok := providerRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// MustLoad loads etc/provider.yaml from the project root and panics on error.
func MustLoad() *Config {
	cfg, err := LoadConfig(confkit.MustProjectPath("etc/provider.yaml"))
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads provider configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open provider config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal provider config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	for name, provider := range c.Providers {
		if provider == nil {
			provider = &ProviderConfig{}
			c.Providers[name] = provider
		}
		provider.expandEnv()
		if err := provider.parseDurations(name); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProviderConfig) expandEnv() {
	p.Type = strings.TrimSpace(os.ExpandEnv(p.Type))
	p.BaseURL = strings.TrimSpace(os.ExpandEnv(p.BaseURL))
	p.HTTPTimeoutRaw = strings.TrimSpace(os.ExpandEnv(p.HTTPTimeoutRaw))
	p.ThrottleIntradayRaw = strings.TrimSpace(os.ExpandEnv(p.ThrottleIntradayRaw))
	p.ThrottleDailyRaw = strings.TrimSpace(os.ExpandEnv(p.ThrottleDailyRaw))
	p.ProbeSpacingRaw = strings.TrimSpace(os.ExpandEnv(p.ProbeSpacingRaw))
	p.BootstrapIntradayRaw = strings.TrimSpace(os.ExpandEnv(p.BootstrapIntradayRaw))
}

func (p *ProviderConfig) parseDurations(name string) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		what string
	}{
		{p.HTTPTimeoutRaw, &p.HTTPTimeout, "http_timeout"},
		{p.ThrottleIntradayRaw, &p.ThrottleIntraday, "throttle_intraday"},
		{p.ThrottleDailyRaw, &p.ThrottleDaily, "throttle_daily"},
		{p.ProbeSpacingRaw, &p.ProbeSpacing, "probe_spacing"},
		{p.BootstrapIntradayRaw, &p.BootstrapIntraday, "bootstrap_intraday"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("provider %s: invalid %s %q: %w", name, f.what, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("provider %s: %s must be positive, got %s", name, f.what, d)
		}
		*f.dst = d
	}
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("provider config: providers cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Providers[c.Default]; !ok {
			return fmt.Errorf("provider config: default provider %q not defined", c.Default)
		}
	}
	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("provider config: provider name cannot be empty")
		}
		if provider == nil {
			return fmt.Errorf("provider config: provider %s is nil", name)
		}
		if strings.TrimSpace(provider.Type) == "" {
			return fmt.Errorf("provider config: provider %s must specify type", name)
		}
		if _, ok := lookupProviderBuilder(provider.Type); !ok {
			return fmt.Errorf("provider config: provider %s has unsupported type %q", name, provider.Type)
		}
		if provider.BootstrapDailyDays < 0 {
			return fmt.Errorf("provider config: provider %s bootstrap_daily_days must not be negative", name)
		}
	}
	return nil
}

// BuildProviders instantiates candle providers according to configuration.
func (c *Config) BuildProviders(clock *Clock) (map[string]Provider, error) {
	result := make(map[string]Provider, len(c.Providers))
	for name, providerCfg := range c.Providers {
		builder, ok := lookupProviderBuilder(providerCfg.Type)
		if !ok {
			return nil, fmt.Errorf("provider %s: unsupported type %q", name, providerCfg.Type)
		}
		provider, err := builder(name, providerCfg, clock)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		result[name] = provider
	}
	return result, nil
}
