// Package cfg loads and validates the engine's configuration: trading
// pairs, accounts, and connection intervals. Loading follows the
// teacher's layered approach — a YAML file first, then environment
// variables as overrides — and every field is validated before the
// engine composition root ever sees it.
package cfg

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"perpmomentum/internal/common"
)

// PairConfig is one trading pair's immutable configuration, §3.
type PairConfig struct {
	Symbol                  string  `yaml:"symbol"`
	Threshold               float64 `yaml:"threshold"`
	FeesExemptionPercentage float64 `yaml:"fees_exemption_percentage"`
	NumPreviousCandles      int     `yaml:"num_previous_candles"`
	USDTAmount              float64 `yaml:"usdt_amount"`
	WebhookURL              string  `yaml:"webhook_url,omitempty"`
	Leverage                int     `yaml:"leverage,omitempty"`
	MarginMode              string  `yaml:"margin_mode,omitempty"`
}

// AccountConfig is one trading account's immutable configuration, §3.
type AccountConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Config is the fully validated, process-lifetime-immutable configuration
// snapshot.
type Config struct {
	OrderURL          string          `yaml:"order_url"`
	WebsocketInterval string          `yaml:"websocket_interval"`
	APIInterval       time.Duration   `yaml:"-"`
	APIIntervalRaw    string          `yaml:"api_interval"`
	Pairs             []PairConfig    `yaml:"pairs"`
	Accounts          []AccountConfig `yaml:"accounts"`
}

// Load reads the config file named by path (or common.EnvConfigFile if
// path is empty), applies environment overrides, validates the result,
// and returns it. godotenv.Load is attempted first so a local .env file
// populates os.Getenv the way the teacher's entrypoint does; a missing
// .env file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(common.EnvConfigFile)
	}
	if path == "" {
		return Config{}, fmt.Errorf("cfg: no config file path given and %s is not set", common.EnvConfigFile)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cfg: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("cfg: parse %s: %w", path, err)
	}

	applyEnvOverrides(&c)

	if c.WebsocketInterval == "" {
		c.WebsocketInterval = common.DefaultWebsocketInterval
	}
	if c.APIIntervalRaw == "" {
		c.APIInterval = common.DefaultAPIInterval
	} else {
		d, err := time.ParseDuration(c.APIIntervalRaw)
		if err != nil {
			return Config{}, fmt.Errorf("cfg: invalid api_interval %q: %w", c.APIIntervalRaw, err)
		}
		c.APIInterval = d
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv(common.EnvOrderURL); v != "" {
		c.OrderURL = v
	}
	for i := range c.Accounts {
		acct := &c.Accounts[i]
		if acct.APIKey == "" {
			if v := os.Getenv(acct.Name + "_API_KEY"); v != "" {
				acct.APIKey = v
			}
		}
		if acct.APISecret == "" {
			if v := os.Getenv(acct.Name + "_API_SECRET"); v != "" {
				acct.APISecret = v
			}
		}
	}
}

// Validate runs every per-concern validation, §4.8's startup checklist.
func (c Config) Validate() error {
	if err := validateOrderURL(c); err != nil {
		return err
	}
	if err := validatePairs(c.Pairs); err != nil {
		return err
	}
	if err := validateAccounts(c.Accounts); err != nil {
		return err
	}
	return nil
}

func validateOrderURL(c Config) error {
	if c.OrderURL == "" {
		return fmt.Errorf("cfg: %s", common.ErrMsgOrderURLRequired)
	}
	return nil
}

func validatePairs(pairs []PairConfig) error {
	if len(pairs) == 0 {
		return fmt.Errorf("cfg: %s", common.ErrMsgNoPairs)
	}
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		if seen[p.Symbol] {
			return fmt.Errorf("cfg: %s: %s", common.ErrMsgDuplicateSymbol, p.Symbol)
		}
		seen[p.Symbol] = true

		if p.NumPreviousCandles <= 0 || p.NumPreviousCandles > common.HistoryCapacity {
			return fmt.Errorf("cfg: %s: %s", p.Symbol, common.ErrMsgBadHistoryCap)
		}
		if p.USDTAmount <= 0 {
			return fmt.Errorf("cfg: %s: %s", p.Symbol, common.ErrMsgBadUSDTAmount)
		}
		if p.Threshold <= 0 {
			return fmt.Errorf("cfg: %s: %s", p.Symbol, common.ErrMsgBadThreshold)
		}
		if p.FeesExemptionPercentage < 0 {
			return fmt.Errorf("cfg: %s: %s", p.Symbol, common.ErrMsgBadFeesExemption)
		}
	}
	return nil
}

func validateAccounts(accounts []AccountConfig) error {
	if len(accounts) == 0 {
		return fmt.Errorf("cfg: %s", common.ErrMsgNoAccounts)
	}
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if seen[a.Name] {
			return fmt.Errorf("cfg: %s: %s", common.ErrMsgDuplicateAccount, a.Name)
		}
		seen[a.Name] = true
		if a.APIKey == "" || a.APISecret == "" {
			return fmt.Errorf("cfg: %s: %s", a.Name, common.ErrMsgMissingCreds)
		}
	}
	return nil
}
