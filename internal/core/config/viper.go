package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("cache.dir", d.CacheDir)
	v.SetDefault("cache.offline", d.Offline)
	v.SetDefault("cache.timeout", d.Timeout.String())
	v.SetDefault("cdn.base_url", d.BaseURL)
	v.SetDefault("cdn.meta_url", d.MetaURL)
	v.SetDefault("server.host", d.Host)
	v.SetDefault("server.grpc_port", d.GRPCPort)
	v.SetDefault("server.http_port", d.HTTPPort)
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("metrics.datadog", d.Datadog)
	v.SetDefault("metrics.job_name", d.JobName)
	v.SetDefault("metrics.flush_every", d.FlushEvery.String())
	v.SetDefault("metrics.tags", []string{})

	// Bind environment variables with MTGJSON_ prefix
	v.SetEnvPrefix("MTGJSON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		CacheDir:   v.GetString("cache.dir"),
		Offline:    v.GetBool("cache.offline"),
		Timeout:    v.GetDuration("cache.timeout"),
		BaseURL:    strings.TrimRight(v.GetString("cdn.base_url"), "/"),
		MetaURL:    v.GetString("cdn.meta_url"),
		Host:       v.GetString("server.host"),
		GRPCPort:   v.GetInt("server.grpc_port"),
		HTTPPort:   v.GetInt("server.http_port"),
		APIKeys:    v.GetStringSlice("server.api_keys"),
		Datadog:    v.GetBool("metrics.datadog"),
		JobName:    v.GetString("metrics.job_name"),
		FlushEvery: v.GetDuration("metrics.flush_every"),
		Tags:       v.GetStringSlice("metrics.tags"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks timeout, URLs, port ranges and flush interval.
func validateConfig(cfg *Config) error {
	if cfg.Timeout <= 0 {
		return fmt.Errorf("cache.timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("cdn.base_url must not be empty")
	}
	if cfg.MetaURL == "" {
		return fmt.Errorf("cdn.meta_url must not be empty")
	}
	if cfg.GRPCPort <= 0 || cfg.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port must be between 1 and 65535, got %d", cfg.GRPCPort)
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", cfg.HTTPPort)
	}
	if cfg.Datadog && cfg.FlushEvery <= 0 {
		return fmt.Errorf("metrics.flush_every must be positive, got %v", cfg.FlushEvery)
	}
	return nil
}
