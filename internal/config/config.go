package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Pump     PumpConfig     `mapstructure:"pump" validate:"required"`
	Guardian GuardianConfig `mapstructure:"guardian" validate:"required"`
	Policy   PolicyConfig   `mapstructure:"policy" validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// PumpConfig contains the delivery pump's loop and dispatch settings.
// Durations are in seconds to keep the environment variables plain integers.
type PumpConfig struct {
	TickIntervalSeconds   int `mapstructure:"tick_interval_seconds" validate:"required,gt=0"`
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds" validate:"required,gt=0"`
	RequestedLimit        int `mapstructure:"requested_limit" validate:"required,gt=0"`
	BackoffBaseSeconds    int `mapstructure:"backoff_base_seconds" validate:"required,gt=0"`
	BackoffMaxSeconds     int `mapstructure:"backoff_max_seconds" validate:"required,gt=0"`
	MaxAttempts           int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// ConnectorEndpoints maps connector types to their webhook URLs.
	ConnectorEndpoints map[string]string `mapstructure:"connector_endpoints"`
}

// GuardianConfig contains the guardian controller's loop settings.
type GuardianConfig struct {
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds" validate:"required,gt=0"`
	SnapshotLimit       int `mapstructure:"snapshot_limit" validate:"required,gt=0"`
}

// PolicyConfig contains the initial values used when a project's live
// backpressure policy is created.
type PolicyConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxRetrying int  `mapstructure:"max_retrying" validate:"required,gte=1,lte=10000"`
	MaxDueNow   int  `mapstructure:"max_due_now" validate:"required,gte=1,lte=10000"`
	MinLimit    int  `mapstructure:"min_limit" validate:"required,gte=1,lte=100"`
}
