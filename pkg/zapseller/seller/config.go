package seller

import (
	"fmt"
	"time"

	"github.com/jholhewres/zapseller/pkg/zapseller/channels/whatsapp"
)

// Config is the root configuration for zapseller.
type Config struct {
	// Logging controls log output.
	Logging LoggingConfig `yaml:"logging"`

	// API configures the generative text provider.
	API APIConfig `yaml:"api"`

	// WhatsApp configures the messaging channel.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	// Responder configures reply generation.
	Responder ResponderConfig `yaml:"responder"`

	// HistorySize is the per-customer conversation history cap.
	HistorySize int `yaml:"history_size"`

	// Catalog is the product list. Empty uses the built-in catalog.
	Catalog []Product `yaml:"catalog"`

	// Routines configures the background maintenance schedules.
	Routines RoutinesConfig `yaml:"routines"`

	// Gateway configures the HTTP admin surface.
	Gateway GatewayConfig `yaml:"gateway"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// APIConfig configures the OpenAI-compatible completion endpoint.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// RoutinesConfig holds the cron schedules for background maintenance.
type RoutinesConfig struct {
	// HealthInterval is how often a status snapshot is logged.
	HealthInterval time.Duration `yaml:"health_interval"`
	// AbandonedScanInterval is how often carts are scanned for abandonment.
	AbandonedScanInterval time.Duration `yaml:"abandoned_scan_interval"`
	// AbandonedThreshold is the inactivity window before a cart counts as
	// abandoned.
	AbandonedThreshold time.Duration `yaml:"abandoned_threshold"`
	// PruneTTL bounds in-memory growth: profiles/histories idle longer than
	// this are dropped by the daily prune.
	PruneTTL time.Duration `yaml:"prune_ttl"`
}

// GatewayConfig configures the HTTP admin surface.
type GatewayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   400,
			Temperature: 0.7,
		},
		WhatsApp:    whatsapp.DefaultConfig(),
		Responder:   ResponderConfig{Timeout: 15 * time.Second},
		HistorySize: defaultHistoryCap,
		Routines: RoutinesConfig{
			HealthInterval:        60 * time.Second,
			AbandonedScanInterval: 300 * time.Second,
			AbandonedThreshold:    2 * time.Hour,
			PruneTTL:              7 * 24 * time.Hour,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8920",
		},
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func (c *Config) Validate() error {
	if c.API.Model == "" {
		return fmt.Errorf("api.model must be set")
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative")
	}
	if c.Routines.AbandonedThreshold < 0 {
		return fmt.Errorf("routines.abandoned_threshold must not be negative")
	}
	// The cron specs register whole seconds; anything below truncates to
	// "@every 0s".
	if c.Routines.HealthInterval < time.Second {
		return fmt.Errorf("routines.health_interval must be at least 1s")
	}
	if c.Routines.AbandonedScanInterval < time.Second {
		return fmt.Errorf("routines.abandoned_scan_interval must be at least 1s")
	}
	if c.Gateway.Enabled && c.Gateway.Listen == "" {
		return fmt.Errorf("gateway.listen must be set when the gateway is enabled")
	}
	return nil
}
