// Package config handles gateway configuration: an optional YAML file with
// environment variable expansion, overlaid by the well-known environment
// variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Auth       AuthConfig      `yaml:"auth"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Pricing    PricingConfig   `yaml:"pricing"`

	// DefaultProvider is consulted when neither the X-LLM-Provider header
	// nor the path names a provider (env LLM_BACKEND).
	DefaultProvider string `yaml:"default_provider"`

	Providers []ProviderEntry `yaml:"providers"`

	Debug bool `yaml:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"` // env ADMIN_API_KEY
}

// RateLimitConfig holds default per-DID rate limiting settings.
type RateLimitConfig struct {
	DefaultRPM int64 `yaml:"default_rpm"` // 0 = unlimited
	DefaultTPM int64 `yaml:"default_tpm"` // 0 = unlimited
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// PricingConfig holds cost computation settings.
type PricingConfig struct {
	Multiplier float64 `yaml:"multiplier"` // env PRICING_MULTIPLIER, default 1.0
	Version    string  `yaml:"version"`    // env OPENAI_PRICING_VERSION
	Overrides  string  `yaml:"overrides"`  // env PRICING_OVERRIDES, JSON
}

// ProviderEntry is a provider definition in the config file. The five
// built-in providers are seeded from their environment variables; file
// entries override or extend them.
type ProviderEntry struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Enabled *bool  `yaml:"enabled"`
	Hosting string `yaml:"hosting"` // "", "vertex"
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load builds the configuration: defaults, then the YAML file when path is
// non-empty, then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute, // streams may run long
			ShutdownTimeout: 30 * time.Second,
			UpstreamTimeout: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN: "farebox.db",
		},
		RateLimits: RateLimitConfig{
			DefaultRPM: 60,
			DefaultTPM: 100_000,
		},
		Pricing: PricingConfig{
			Multiplier: 1.0,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providerEnv maps built-in provider names to their credential and base-URL
// environment variables.
var providerEnv = []struct {
	name, keyVar, urlVar string
}{
	{"openai", "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{"openrouter", "OPENROUTER_API_KEY", ""},
	{"litellm", "LITELLM_MASTER_KEY", "LITELLM_BASE_URL"},
	{"claude", "ANTHROPIC_API_KEY", ""},
	{"google", "GOOGLE_API_KEY", "GOOGLE_BASE_URL"},
}

// applyEnv overlays the recognized environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("LLM_BACKEND"); v != "" {
		c.DefaultProvider = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		c.Auth.AdminKey = v
	}
	if v := os.Getenv("FAREBOX_DB"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = v != "0" && v != "false"
	}
	if v := os.Getenv("PRICING_OVERRIDES"); v != "" {
		c.Pricing.Overrides = v
	}
	if v := os.Getenv("OPENAI_PRICING_VERSION"); v != "" {
		c.Pricing.Version = v
	}
	if v := os.Getenv("PRICING_MULTIPLIER"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m < 0 {
			return fmt.Errorf("invalid PRICING_MULTIPLIER %q", v)
		}
		c.Pricing.Multiplier = m
	}

	for _, pe := range providerEnv {
		key := os.Getenv(pe.keyVar)
		var baseURL string
		if pe.urlVar != "" {
			baseURL = os.Getenv(pe.urlVar)
		}
		if key == "" && baseURL == "" {
			continue
		}
		if existing := c.provider(pe.name); existing != nil {
			if key != "" {
				existing.APIKey = key
			}
			if baseURL != "" {
				existing.BaseURL = baseURL
			}
			continue
		}
		c.Providers = append(c.Providers, ProviderEntry{
			Name:    pe.name,
			BaseURL: baseURL,
			APIKey:  key,
		})
	}
	return nil
}

func (c *Config) provider(name string) *ProviderEntry {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}
