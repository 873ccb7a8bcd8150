// Package bootstrapconfig loads the process-level bootstrap configuration:
// where to listen, where the data directory lives, and the handful of
// security-relevant tunables (retention window, pairing TTL, rate-limit
// parameters) an operator might want to override without a rebuild. This
// is distinct from the runtime SyncConfiguration, which is mutated live
// by the UI and the engine and lives in the relational store instead.
package bootstrapconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root of the TOML bootstrap file.
type Config struct {
	Listen    ListenConfig    `toml:"listen"`
	Storage   StorageConfig   `toml:"storage"`
	Pairing   PairingConfig   `toml:"pairing"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Audit     AuditConfig     `toml:"audit"`
}

// ListenConfig controls the TLS listener's bind address and advertisement.
type ListenConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	AdvertiseMDNS bool   `toml:"advertise_mdns"`
}

// StorageConfig names the data directory all durable state lives under.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// PairingConfig tunes the pairing ceremony's time-to-live.
type PairingConfig struct {
	CodeTTL  time.Duration `toml:"code_ttl"`
	TokenTTL time.Duration `toml:"token_ttl"`
}

// RateLimitConfig tunes the per-token sliding-window limiter.
type RateLimitConfig struct {
	WindowSeconds int `toml:"window_seconds"`
	MaxRequests   int `toml:"max_requests"`
}

// AuditConfig tunes the audit log's retention sweep.
type AuditConfig struct {
	RetentionDays int `toml:"retention_days"`
}

func defaults() Config {
	return Config{
		Listen: ListenConfig{
			Host:          "0.0.0.0",
			Port:          8443,
			AdvertiseMDNS: true,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Pairing: PairingConfig{
			CodeTTL:  5 * time.Minute,
			TokenTTL: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			MaxRequests:   60,
		},
		Audit: AuditConfig{
			RetentionDays: 90,
		},
	}
}

// Load reads the TOML file at path, falling back to defaults for any
// field the file omits. An empty path returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("bootstrapconfig: validate: %w", err)
		}
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("bootstrapconfig: stat config file: %w", err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("bootstrapconfig: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("bootstrapconfig: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks the handful of invariants a malformed operator file
// could violate before they surface as a confusing runtime failure.
func (c Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be between 1 and 65535, got %d", c.Listen.Port)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Pairing.CodeTTL <= 0 {
		return fmt.Errorf("pairing.code_ttl must be positive")
	}
	if c.Pairing.TokenTTL <= 0 {
		return fmt.Errorf("pairing.token_ttl must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit.retention_days must be positive")
	}
	return nil
}
