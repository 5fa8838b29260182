package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables, e.g.
// COURIER_SERVER_PORT or COURIER_DATABASE_URL.
const envPrefix = "COURIER"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// binding each known key explicitly does.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"database.url",
		"pump.tick_interval_seconds",
		"pump.attempt_timeout_seconds",
		"pump.requested_limit",
		"pump.backoff_base_seconds",
		"pump.backoff_max_seconds",
		"pump.max_attempts",
		"guardian.tick_interval_seconds",
		"guardian.snapshot_limit",
		"policy.enabled",
		"policy.max_retrying",
		"policy.max_due_now",
		"policy.min_limit",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every optional setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("pump.tick_interval_seconds", 15)
	v.SetDefault("pump.attempt_timeout_seconds", 10)
	v.SetDefault("pump.requested_limit", 100)
	v.SetDefault("pump.backoff_base_seconds", 30)
	v.SetDefault("pump.backoff_max_seconds", 3600)
	v.SetDefault("pump.max_attempts", 8)
	v.SetDefault("pump.connector_endpoints", map[string]string{})

	v.SetDefault("guardian.tick_interval_seconds", 60)
	v.SetDefault("guardian.snapshot_limit", 500)

	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.max_retrying", 50)
	v.SetDefault("policy.max_due_now", 100)
	v.SetDefault("policy.min_limit", 1)
}
