// Package config loads the relay's deployment configuration from a
// single YAML file: the listen address, the public stream URL handed
// to the carrier, tax rate, menu, the AI channel settings, and the
// delivery sinks. The file is the single source of truth; the only
// environment lookups are the secrets it names by reference.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentplexus/orderline"
	"github.com/agentplexus/orderline/realtime"
)

// Config is the root configuration for orderlined.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `yaml:"listen"`

	// PublicStreamURL is the externally reachable wss:// URL of the
	// media-stream endpoint, handed to the carrier in TwiML.
	PublicStreamURL string `yaml:"public_stream_url"`

	// ShopName is spoken by the AI in its greeting.
	ShopName string `yaml:"shop_name"`

	// TaxRate is the sales tax rate applied to subtotals.
	TaxRate float64 `yaml:"tax_rate"`

	Realtime RealtimeConfig `yaml:"realtime"`
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Menu overrides the built-in catalog when non-empty.
	Menu []MenuItem `yaml:"menu"`

	// MenuSheet names a spreadsheet to load the catalog from at
	// startup, taking priority over both Menu and the built-in
	// catalog.
	MenuSheet SheetConfig `yaml:"menu_sheet"`
}

// RealtimeConfig configures the AI conversational channel.
type RealtimeConfig struct {
	// URL overrides the provider endpoint.
	URL string `yaml:"url"`

	// Model selects the realtime model.
	Model string `yaml:"model"`

	// Voice selects the synthesized voice.
	Voice string `yaml:"voice"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: OPENAI_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the API key from the environment.
func (c RealtimeConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// DispatchConfig configures order delivery.
type DispatchConfig struct {
	// MaxAttempts is the per-sink retry budget.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoffMS is the wait in milliseconds before the second
	// attempt; it doubles each attempt up to MaxBackoffMS.
	BaseBackoffMS int `yaml:"base_backoff_ms"`
	MaxBackoffMS  int `yaml:"max_backoff_ms"`

	// WebhookURL enables the webhook sink.
	WebhookURL string `yaml:"webhook_url"`

	// Sheet enables the spreadsheet sink.
	Sheet SheetConfig `yaml:"sheet"`

	// AMQP enables the message-broker sink.
	AMQP AMQPConfig `yaml:"amqp"`

	// PostgresDSN enables the database sink.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BaseBackoff returns the base backoff as a duration.
func (c DispatchConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMS) * time.Millisecond
}

// MaxBackoff returns the backoff cap as a duration.
func (c DispatchConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// SheetConfig names one spreadsheet. The sink or menu loader is
// enabled when SpreadsheetID is non-empty.
type SheetConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`

	// TokenEnv names the environment variable holding the API token.
	// Default: SHEETS_API_TOKEN.
	TokenEnv string `yaml:"token_env"`

	// Range is the A1 range to read the menu from; only used by
	// menu_sheet. Default: "Menu!A:C".
	Range string `yaml:"range"`
}

// Token resolves the API token from the environment.
func (c SheetConfig) Token() string {
	return os.Getenv(c.TokenEnv)
}

// AMQPConfig configures the message-broker sink, enabled when URL is
// non-empty.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// MenuItem is one catalog entry in the config file.
type MenuItem struct {
	Name   string             `yaml:"name"`
	Sizes  []string           `yaml:"sizes"`
	Prices map[string]float64 `yaml:"prices"`
}

// Default returns the built-in configuration: listen on :8080, the
// default tax rate, the default realtime endpoint, no sinks.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		ShopName: "the shop",
		TaxRate:  orderline.DefaultTaxRate,
		Realtime: RealtimeConfig{
			URL:       realtime.DefaultURL,
			Model:     realtime.DefaultModel,
			Voice:     "alloy",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Dispatch: DispatchConfig{
			MaxAttempts:   3,
			BaseBackoffMS: 1000,
			MaxBackoffMS:  30000,
		},
		MenuSheet: SheetConfig{
			TokenEnv: "SHEETS_API_TOKEN",
			Range:    "Menu!A:C",
		},
	}
}

// Load reads the file at path over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.TaxRate < 0 || c.TaxRate >= 1 {
		errs = append(errs, fmt.Errorf("tax_rate %v out of range [0, 1)", c.TaxRate))
	}
	if c.PublicStreamURL != "" && !strings.HasPrefix(c.PublicStreamURL, "wss://") && !strings.HasPrefix(c.PublicStreamURL, "ws://") {
		errs = append(errs, fmt.Errorf("public_stream_url must be a ws:// or wss:// URL"))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_attempts must be at least 1"))
	}
	if c.Dispatch.BaseBackoffMS < 0 || c.Dispatch.MaxBackoffMS < 0 {
		errs = append(errs, fmt.Errorf("dispatch backoffs must not be negative"))
	}
	for i, item := range c.Menu {
		if item.Name == "" {
			errs = append(errs, fmt.Errorf("menu[%d]: name is required", i))
		}
		if len(item.Prices) == 0 {
			errs = append(errs, fmt.Errorf("menu[%d] (%s): at least one price is required", i, item.Name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
