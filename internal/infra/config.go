package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/frank120121/bpa/internal/domain"
)

// Config holds the full application configuration.
// Secrets can be overridden through environment variables after load.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	// Venue is the exchange whose order book feeds the reference price.
	Venue struct {
		WSURL          string `yaml:"ws_url"`
		RestURL        string `yaml:"rest_url"`
		Book           string `yaml:"book"`
		TargetNotional string `yaml:"target_notional"`
	} `yaml:"venue"`

	// Exchange is the C2C venue carrying the managed listings.
	Exchange struct {
		RestURL string `yaml:"rest_url"`
	} `yaml:"exchange"`

	Accounts map[string]struct {
		Key    string `yaml:"key"`
		Secret string `yaml:"secret"`
	} `yaml:"accounts"`

	Quote struct {
		IntervalMS         int      `yaml:"interval_ms"`
		MinRatio           string   `yaml:"min_ratio"`
		MaxRatio           string   `yaml:"max_ratio"`
		RatioAdjustment    string   `yaml:"ratio_adjustment"`
		DiffThreshold      string   `yaml:"diff_threshold"`
		Epsilon            string   `yaml:"epsilon"`
		DefaultTransAmount string   `yaml:"default_trans_amount"`
		MaxSearchPages     int      `yaml:"max_search_pages"`
		SkipAds            []string `yaml:"skip_ads"`
	} `yaml:"quote"`

	Thresholds struct {
		Buy               string `yaml:"buy"`
		Sell              string `yaml:"sell"`
		Special           string `yaml:"special"`
		MinDelta          string `yaml:"min_delta"`
		UpdateIntervalSec int    `yaml:"update_interval_sec"`
		InventoryUSD      string `yaml:"inventory_usd"`
	} `yaml:"thresholds"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Redis struct {
		Addr    string `yaml:"addr"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`
}

// LoadConfig reads and parses the config file, then applies env overrides
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Venue.WSURL == "" || (!strings.HasPrefix(c.Venue.WSURL, "ws://") && !strings.HasPrefix(c.Venue.WSURL, "wss://")) {
		return fmt.Errorf("invalid venue WS URL: %s", c.Venue.WSURL)
	}
	if c.Venue.Book == "" {
		return fmt.Errorf("venue book is required")
	}
	if !strings.HasPrefix(c.Venue.RestURL, "http") {
		return fmt.Errorf("invalid venue REST URL: %s", c.Venue.RestURL)
	}
	if !strings.HasPrefix(c.Exchange.RestURL, "http") {
		return fmt.Errorf("invalid exchange REST URL: %s", c.Exchange.RestURL)
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	if c.Quote.IntervalMS <= 0 {
		return fmt.Errorf("quote interval must be positive")
	}
	return nil
}

// Credentials implements domain.CredentialsProvider on top of the loaded
// config (with env overrides already applied).
func (c *Config) Credentials(account string) (domain.Credentials, error) {
	acct, ok := c.Accounts[account]
	if !ok {
		return domain.Credentials{}, fmt.Errorf("unknown account: %s", account)
	}
	if acct.Key == "" || acct.Secret == "" {
		return domain.Credentials{}, fmt.Errorf("account %s has no credentials configured", account)
	}
	return domain.Credentials{Key: acct.Key, Secret: acct.Secret}, nil
}

// overrideWithEnv applies environment variable overrides. Env vars take
// precedence over file values so keys can stay out of the config file.
// Per-account variables: BPA_<ACCOUNT>_KEY and BPA_<ACCOUNT>_SECRET.
func overrideWithEnv(cfg *Config) {
	for name, acct := range cfg.Accounts {
		prefix := "BPA_" + strings.ToUpper(name) + "_"
		if key := os.Getenv(prefix + "KEY"); key != "" {
			acct.Key = key
		}
		if secret := os.Getenv(prefix + "SECRET"); secret != "" {
			acct.Secret = secret
		}
		cfg.Accounts[name] = acct
	}

	if addr := os.Getenv("BPA_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
}
