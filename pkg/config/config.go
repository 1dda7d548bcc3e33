// Package config provides the unified configuration system for the connector
// runtime. It defines a single RuntimeConfig structure that every connector
// instance uses, ensuring consistent configuration across all data sources.
//
// The configuration is organized into logical sections:
//   - Cache: On-disk response cache location and TTL
//   - Reliability: Retry logic and rate limiting
//   - Timeouts: Connection and request timeouts
//   - Logging: Structured log output
//
// Example usage:
//
//	cfg := config.NewRuntimeConfig("fred")
//	cfg.Cache.DefaultTTL = time.Hour
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/logger"
)

// Rate budgets applied when the connector does not configure its own.
// Keyless access to most public data APIs is heavily restricted, so the
// anonymous budget is deliberately small.
const (
	// DefaultRateWindow is the fixed rate-limit window
	DefaultRateWindow = 24 * time.Hour
	// DefaultKeyedBudget is the per-window request budget with a credential
	DefaultKeyedBudget = 5000
	// DefaultAnonymousBudget is the per-window request budget without a credential
	DefaultAnonymousBudget = 25
)

// RuntimeConfig is the single unified configuration structure used by every
// connector instance. Connectors may embed it with the yaml inline tag.
type RuntimeConfig struct {
	// Name identifies the connector instance (also the cache namespace)
	Name string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Cache settings control the on-disk response cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Reliability settings for retry and rate limiting
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Timeouts define outbound call timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Logging configures the structured logger
	Logging logger.Config `yaml:"logging" json:"logging"`
}

// CacheConfig contains on-disk cache settings.
type CacheConfig struct {
	// Dir is the cache root directory; empty selects the user cache dir
	Dir string `yaml:"dir" json:"dir"`
	// DefaultTTL applies to entries stored without an explicit TTL
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	// Disabled bypasses the cache entirely
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// ReliabilityConfig contains retry and rate-limiting settings.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum attempts for transient failures
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RetryJitter randomizes backoff by this factor (0.0-1.0)
	RetryJitter float64 `yaml:"retry_jitter" json:"retry_jitter"`
	// RateWindow is the fixed rate-limit window duration
	RateWindow time.Duration `yaml:"rate_window" json:"rate_window"`
	// RateBudget is the request budget per window (0 = derive from credential)
	RateBudget int `yaml:"rate_budget" json:"rate_budget"`
	// FailFast makes Acquire return an error instead of blocking
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
}

// TimeoutConfig contains outbound call timeout settings.
type TimeoutConfig struct {
	// Request timeout for a complete HTTP exchange
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// KeepAlive interval for connection health checks
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

// NewRuntimeConfig creates a RuntimeConfig with production-ready defaults.
// The name parameter identifies the connector instance and doubles as the
// cache namespace.
func NewRuntimeConfig(name string) *RuntimeConfig {
	return &RuntimeConfig{
		Name:    name,
		Version: "1.0.0",
		Cache: CacheConfig{
			Dir:        DefaultCacheDir(),
			DefaultTTL: time.Hour,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   30 * time.Second,
			RetryJitter:     0.25,
			RateWindow:      DefaultRateWindow,
			RateBudget:      0,
			FailFast:        false,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			KeepAlive:  30 * time.Second,
		},
		Logging: logger.DefaultConfig(),
	}
}

// DefaultCacheDir returns the per-user cache root, falling back to the
// system temp directory when the user cache dir cannot be determined.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "krl-connectors")
	}
	return filepath.Join(os.TempDir(), "krl-connectors")
}

// Validate validates the configuration for correctness.
// Connectors should call this after loading configuration to catch errors early.
func (rc *RuntimeConfig) Validate() error {
	if rc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if rc.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache default_ttl cannot be negative")
	}
	if rc.Reliability.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	if rc.Reliability.RetryMultiplier < 1.0 {
		return fmt.Errorf("retry_multiplier must be at least 1.0")
	}
	if rc.Reliability.RetryJitter < 0 || rc.Reliability.RetryJitter > 1 {
		return fmt.Errorf("retry_jitter must be between 0.0 and 1.0")
	}
	if rc.Reliability.RateWindow <= 0 {
		return fmt.Errorf("rate_window must be positive")
	}
	if rc.Reliability.RateBudget < 0 {
		return fmt.Errorf("rate_budget cannot be negative")
	}
	if rc.Timeouts.Request <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

// BudgetFor returns the per-window request budget, deriving it from
// credential presence when not configured explicitly.
func (r *ReliabilityConfig) BudgetFor(hasCredential bool) int {
	if r.RateBudget > 0 {
		return r.RateBudget
	}
	if hasCredential {
		return DefaultKeyedBudget
	}
	return DefaultAnonymousBudget
}
