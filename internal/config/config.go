// Package config defines all configuration for the feed watcher.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via FEED_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"polymarket-feed/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Market  MarketConfig  `mapstructure:"market"`
	User    UserConfig    `mapstructure:"user"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// APIConfig holds Polymarket endpoints and the L2 credentials the user feed
// authenticates with. Credentials come from FEED_API_KEY, FEED_API_SECRET and
// FEED_PASSPHRASE when not set in the file.
type APIConfig struct {
	WSBaseURL    string `mapstructure:"ws_base_url"`
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// FeedConfig tunes connection management shared by both channels.
//
//   - DialsPerSecond/DialBurst/DialConcurrency: the dial gate. Zero values
//     keep the built-in 5/5/5 defaults.
//   - ReapInterval: how often drained groups are dropped and dead groups
//     redialed.
type FeedConfig struct {
	DialsPerSecond  float64       `mapstructure:"dials_per_second"`
	DialBurst       int           `mapstructure:"dial_burst"`
	DialConcurrency int           `mapstructure:"dial_concurrency"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
}

// MarketConfig controls the public market-data channel.
//
//   - Assets: static asset IDs to subscribe on startup (in addition to
//     whatever the scanner selects).
//   - MaxPerSocket: asset IDs per connection, 0 = unbounded.
//   - InitialDump: request book snapshots with each subscription.
//   - BootstrapBooks: seed book replicas over REST after subscribing, for
//     feeds running with InitialDump off.
type MarketConfig struct {
	Assets         []string `mapstructure:"assets"`
	MaxPerSocket   int      `mapstructure:"max_per_socket"`
	InitialDump    bool     `mapstructure:"initial_dump"`
	BootstrapBooks bool     `mapstructure:"bootstrap_books"`
}

// UserConfig controls the authenticated user channel.
//
//   - Markets: condition IDs to watch for own-order and fill activity.
//   - SubscribeAll: pin one subscription covering every market the account
//     touches instead of (or alongside) the explicit list.
type UserConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	SubscribeAll bool     `mapstructure:"subscribe_all"`
	Markets      []string `mapstructure:"markets"`
	MaxPerSocket int      `mapstructure:"max_per_socket"`
}

// ScannerConfig controls market discovery. When enabled, the scanner polls
// the Gamma API and the watcher subscribes the busiest markets automatically.
type ScannerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MinLiquidity float64       `mapstructure:"min_liquidity"`
	MinVolume24h float64       `mapstructure:"min_volume_24h"`
	MaxMarkets   int           `mapstructure:"max_markets"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig controls the HTTP endpoint serving /metrics and /healthz, and
// the resource-usage sampler.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: FEED_API_KEY, FEED_API_SECRET, FEED_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("market.initial_dump", true)
	v.SetDefault("server.addr", ":9090")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("FEED_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("FEED_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("FEED_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}

	return &cfg, nil
}

// Auth returns the credential triplet the user channel subscribes with.
func (c *Config) Auth() types.Auth {
	return types.Auth{
		ApiKey:     c.API.ApiKey,
		Secret:     c.API.Secret,
		Passphrase: c.API.Passphrase,
	}
}

// HasCredentials reports whether a complete L2 credential triplet is set.
func (c *Config) HasCredentials() bool {
	return c.API.ApiKey != "" && c.API.Secret != "" && c.API.Passphrase != ""
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.User.Enabled && !c.HasCredentials() {
		return fmt.Errorf("user feed requires api.api_key, api.secret and api.passphrase (set FEED_API_KEY, FEED_API_SECRET, FEED_PASSPHRASE)")
	}
	if c.User.SubscribeAll && !c.User.Enabled {
		return fmt.Errorf("user.subscribe_all requires user.enabled")
	}
	if len(c.Market.Assets) == 0 && !c.Scanner.Enabled && !c.User.Enabled {
		return fmt.Errorf("nothing to watch: set market.assets, enable the scanner, or enable the user feed")
	}
	if c.Feed.DialsPerSecond < 0 {
		return fmt.Errorf("feed.dials_per_second must be >= 0")
	}
	if c.Market.MaxPerSocket < 0 {
		return fmt.Errorf("market.max_per_socket must be >= 0")
	}
	if c.User.MaxPerSocket < 0 {
		return fmt.Errorf("user.max_per_socket must be >= 0")
	}
	return nil
}
