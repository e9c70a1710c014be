// Package config handles configuration loading for the cherita server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Limits LimitsConfig `yaml:"limits"`
	Cache  CacheConfig  `yaml:"cache"`
	Strapi StrapiConfig `yaml:"strapi"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains dataset resolution settings. Roots is the allow-list
// of directories dataset URLs may point into.
type DataConfig struct {
	Roots []string `yaml:"roots"`
}

// LimitsConfig bounds per-request computation sizes.
type LimitsConfig struct {
	MaxSamples       int `yaml:"max_samples"`
	ViolinMaxSamples int `yaml:"violin_max_samples"`
	NSamples         int `yaml:"n_samples"`
	KDEPoints        int `yaml:"kde_points"`
}

// CacheConfig contains response caching settings.
type CacheConfig struct {
	ResponseSizeMB int `yaml:"response_size_mb"`
	TTLDays        int `yaml:"ttl_days"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// StrapiConfig contains disease search service settings.
type StrapiConfig struct {
	BaseURL        string   `yaml:"base_url"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Datasets       []string `yaml:"datasets"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			Roots: []string{"./data"},
		},
		Limits: LimitsConfig{
			MaxSamples:       25000,
			ViolinMaxSamples: 100000,
			NSamples:         25000,
			KDEPoints:        250,
		},
		Cache: CacheConfig{
			ResponseSizeMB: 256,
			TTLDays:        7,
			QueryCacheSize: 1000,
		},
		Strapi: StrapiConfig{
			BaseURL:        "",
			TimeoutSeconds: 10,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Roots) == 0 {
		cfg.Data.Roots = defaults.Data.Roots
	}
	if cfg.Limits.MaxSamples == 0 {
		cfg.Limits.MaxSamples = defaults.Limits.MaxSamples
	}
	if cfg.Limits.ViolinMaxSamples == 0 {
		cfg.Limits.ViolinMaxSamples = defaults.Limits.ViolinMaxSamples
	}
	if cfg.Limits.NSamples == 0 {
		cfg.Limits.NSamples = defaults.Limits.NSamples
	}
	if cfg.Limits.KDEPoints == 0 {
		cfg.Limits.KDEPoints = defaults.Limits.KDEPoints
	}
	if cfg.Cache.ResponseSizeMB == 0 {
		cfg.Cache.ResponseSizeMB = defaults.Cache.ResponseSizeMB
	}
	if cfg.Cache.TTLDays == 0 {
		cfg.Cache.TTLDays = defaults.Cache.TTLDays
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Strapi.TimeoutSeconds == 0 {
		cfg.Strapi.TimeoutSeconds = defaults.Strapi.TimeoutSeconds
	}
}
