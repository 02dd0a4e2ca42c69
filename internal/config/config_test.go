package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
api:
  ws_base_url: wss://example.test
  clob_base_url: https://clob.example.test
  gamma_base_url: https://gamma.example.test
feed:
  dials_per_second: 4
  dial_burst: 8
  dial_concurrency: 2
  reap_interval: 10s
market:
  assets: ["tok1", "tok2"]
  max_per_socket: 50
  initial_dump: false
  bootstrap_books: true
user:
  enabled: false
scanner:
  enabled: true
  poll_interval: 1m
  min_liquidity: 10000
  min_volume_24h: 5000
  max_markets: 20
logging:
  level: debug
  format: json
server:
  addr: ":8081"
  sample_interval: 30s
`

func TestLoadParsesFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.WSBaseURL != "wss://example.test" {
		t.Errorf("ws_base_url = %q", cfg.API.WSBaseURL)
	}
	if cfg.Feed.DialsPerSecond != 4 || cfg.Feed.DialBurst != 8 || cfg.Feed.DialConcurrency != 2 {
		t.Errorf("dial gate = %+v", cfg.Feed)
	}
	if cfg.Feed.ReapInterval != 10*time.Second {
		t.Errorf("reap_interval = %v, want 10s", cfg.Feed.ReapInterval)
	}
	if len(cfg.Market.Assets) != 2 || cfg.Market.Assets[0] != "tok1" {
		t.Errorf("assets = %v", cfg.Market.Assets)
	}
	if cfg.Market.InitialDump {
		t.Error("initial_dump = true, file sets false")
	}
	if !cfg.Market.BootstrapBooks || cfg.Market.MaxPerSocket != 50 {
		t.Errorf("market = %+v", cfg.Market)
	}
	if !cfg.Scanner.Enabled || cfg.Scanner.PollInterval != time.Minute || cfg.Scanner.MaxMarkets != 20 {
		t.Errorf("scanner = %+v", cfg.Scanner)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Server.Addr != ":8081" || cfg.Server.SampleInterval != 30*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "market:\n  assets: [\"tok1\"]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Market.InitialDump {
		t.Error("initial_dump must default to true")
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want :9090", cfg.Server.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	t.Setenv("FEED_API_KEY", "env-key")
	t.Setenv("FEED_API_SECRET", "env-secret")
	t.Setenv("FEED_PASSPHRASE", "env-pass")

	// sampleYAML carries no credentials, so the env triplet must win.
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.ApiKey != "env-key" || cfg.API.Secret != "env-secret" || cfg.API.Passphrase != "env-pass" {
		t.Errorf("credentials = %+v, want the env triplet", cfg.API)
	}

	auth := cfg.Auth()
	if auth.ApiKey != "env-key" || auth.Secret != "env-secret" || auth.Passphrase != "env-pass" {
		t.Errorf("auth = %+v", auth)
	}
	if !cfg.HasCredentials() {
		t.Error("HasCredentials() = false with a full triplet")
	}
}

func TestHasCredentialsRequiresFullTriplet(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.API.ApiKey = "key"
	cfg.API.Secret = "secret"
	if cfg.HasCredentials() {
		t.Error("HasCredentials() = true without a passphrase")
	}
	cfg.API.Passphrase = "pass"
	if !cfg.HasCredentials() {
		t.Error("HasCredentials() = false with a full triplet")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	withAssets := func(mutate func(*Config)) *Config {
		cfg := &Config{}
		cfg.Market.Assets = []string{"tok1"}
		mutate(cfg)
		return cfg
	}

	cases := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "market assets only",
			cfg:     withAssets(func(*Config) {}),
			wantErr: false,
		},
		{
			name: "scanner only",
			cfg: func() *Config {
				cfg := &Config{}
				cfg.Scanner.Enabled = true
				return cfg
			}(),
			wantErr: false,
		},
		{
			name: "user feed with credentials",
			cfg: func() *Config {
				cfg := &Config{}
				cfg.User.Enabled = true
				cfg.User.SubscribeAll = true
				cfg.API.ApiKey, cfg.API.Secret, cfg.API.Passphrase = "k", "s", "p"
				return cfg
			}(),
			wantErr: false,
		},
		{
			name: "user feed without credentials",
			cfg: func() *Config {
				cfg := &Config{}
				cfg.User.Enabled = true
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "subscribe_all without user feed",
			cfg: withAssets(func(cfg *Config) {
				cfg.User.SubscribeAll = true
			}),
			wantErr: true,
		},
		{
			name:    "nothing to watch",
			cfg:     &Config{},
			wantErr: true,
		},
		{
			name: "negative dial rate",
			cfg: withAssets(func(cfg *Config) {
				cfg.Feed.DialsPerSecond = -1
			}),
			wantErr: true,
		},
		{
			name: "negative market keys per socket",
			cfg: withAssets(func(cfg *Config) {
				cfg.Market.MaxPerSocket = -1
			}),
			wantErr: true,
		},
		{
			name: "negative user keys per socket",
			cfg: withAssets(func(cfg *Config) {
				cfg.User.MaxPerSocket = -1
			}),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
