package chatgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModel is the upstream model used when the config names none.
const DefaultModel = "claude-sonnet-4-20250514"

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    Limits          `yaml:"limits"`
	Pricing   Pricing         `yaml:"pricing"`
	Provider  ProviderConfig  `yaml:"provider"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Billing   BillingConfig   `yaml:"billing"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig selects and configures the upstream generation API.
type ProviderConfig struct {
	Kind    string        `yaml:"kind"` // "anthropic", "openaicompat" or "gemini"
	BaseURL string        `yaml:"base_url"`
	Auth    Auth          `yaml:"auth"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects the account store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory", "postgres", "redis" or "sqlite"
	DSN    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	PublicKeyPEM string `yaml:"public_key_pem"`
	Issuer       string `yaml:"issuer"`
	Audience     string `yaml:"audience"`
}

// BillingConfig configures the payment provider.
type BillingConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	PriceID       string `yaml:"price_id"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// TelemetryConfig configures OTLP metric export. An empty endpoint leaves
// the global meter provider as a no-op.
type TelemetryConfig struct {
	OTLPEndpoint string        `yaml:"otlp_endpoint"` // e.g. "localhost:4317"
	Insecure     bool          `yaml:"insecure"`
	Interval     time.Duration `yaml:"interval"`
	ServiceName  string        `yaml:"service_name"`
}

// DefaultConfig returns a config that runs with an in-memory store.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Limits:  DefaultLimits(),
		Pricing: DefaultPricing(),
		Provider: ProviderConfig{
			Kind:    "anthropic",
			Model:   DefaultModel,
			Timeout: 120 * time.Second,
		},
		Store: StoreConfig{Driver: "memory"},
		Log:   LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Interval:    15 * time.Second,
			ServiceName: "chatgate",
		},
	}
}

// LoadConfig reads and parses a YAML config file on top of DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("chatgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("chatgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("chatgate: config: server.addr is required")
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Pricing.Validate(); err != nil {
		return err
	}

	switch c.Provider.Kind {
	case "anthropic", "openaicompat", "gemini":
	default:
		return fmt.Errorf("chatgate: config: provider.kind: invalid value %q", c.Provider.Kind)
	}
	if c.Provider.Kind == "openaicompat" && c.Provider.BaseURL == "" {
		return fmt.Errorf("chatgate: config: provider.base_url is required for openaicompat")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("chatgate: config: provider.model is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres", "redis", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("chatgate: config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("chatgate: config: store.driver: invalid value %q", c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" && c.Auth.PublicKeyPEM == "" {
		return fmt.Errorf("chatgate: config: auth: jwt_secret or public_key_pem is required")
	}

	if c.Telemetry.OTLPEndpoint != "" && c.Telemetry.Interval <= 0 {
		return fmt.Errorf("chatgate: config: telemetry.interval must be positive")
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("chatgate: config: log.format: invalid value %q", c.Log.Format)
	}

	return nil
}
