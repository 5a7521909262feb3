// Package config loads the rate-limiting policy table and server settings
// from a YAML file: read the file, apply defaults for anything absent,
// then let environment variables override individual fields.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brightcart/rateguard/pkg/ratelimit"
)

// PolicyRow is one (tier, endpoint) -> policy row as it appears in the YAML
// file.
type PolicyRow struct {
	Tier          string `yaml:"tier"`
	Endpoint      string `yaml:"endpoint"`
	WindowSeconds int64  `yaml:"window_seconds"`
	Max           int64  `yaml:"max"`
	Burst         int64  `yaml:"burst"`
}

// Config is the top-level shape of the policy file.
type Config struct {
	ListenAddress    string             `yaml:"listen_address"`
	RedisAddr        string             `yaml:"redis_addr"`
	CacheTTLSeconds  float64            `yaml:"cache_ttl_seconds"`
	SlowStartSeconds int64              `yaml:"slow_start_seconds"`
	Policies         []PolicyRow        `yaml:"policies"`
	RegionMultiplier map[string]float64 `yaml:"region_multipliers"`
}

// Load reads and parses the YAML file at path, applying defaults for any
// field the file omits. An absent or empty path is not an error: it
// returns the defaults alone, so a binary can run with nothing but the
// shipped policy table.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress:    ":8080",
		RedisAddr:        "localhost:6379",
		CacheTTLSeconds:  1.0,
		SlowStartSeconds: 60,
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RATEGUARD_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("RATEGUARD_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
}

// ApplyTo installs every policy row and region multiplier from cfg into
// registry, via SetPolicy/SetRegionMultiplier so each bootstrap write still
// emits the same configuration_change audit trail a runtime change would.
func (cfg *Config) ApplyTo(registry *ratelimit.Registry) {
	for _, row := range cfg.Policies {
		registry.SetPolicy(ratelimit.Tier(row.Tier), row.Endpoint, ratelimit.Policy{
			WindowSeconds: row.WindowSeconds,
			Max:           row.Max,
			Burst:         row.Burst,
		})
	}
	for region, mult := range cfg.RegionMultiplier {
		registry.SetRegionMultiplier(region, mult)
	}
}
