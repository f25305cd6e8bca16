// Package config provides configuration management for pandactl using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PANDACTL"

// Default configuration values.
const (
	defaultAPIHost          = "api.pandastream.com"
	defaultAPIPort          = 443
	defaultAPIVersion       = "v2"
	defaultHTTPTimeout      = 60 * time.Second
	defaultRetryAttempts    = 3
	defaultRetryDelay       = 1 * time.Second
	defaultRetryMaxDelay    = 30 * time.Second
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second
	defaultPathFormat       = "profiling/:date/:video_id/:profile/:id"
	defaultPollInterval     = 3 * time.Second
	defaultProfilesFile     = "profiles.cfg"
)

// Config holds all configuration for the application.
type Config struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// APIConfig holds the remote service endpoint and credentials.
type APIConfig struct {
	Host      string  `mapstructure:"host" yaml:"host"`
	Port      int     `mapstructure:"port" yaml:"port"`
	Version   string  `mapstructure:"version" yaml:"version"`
	AccessKey string  `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string  `mapstructure:"secret_key" yaml:"secret_key"`
	CloudID   string  `mapstructure:"cloud_id" yaml:"cloud_id"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
}

// HTTPConfig holds transport resilience settings.
type HTTPConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	CircuitThreshold int           `mapstructure:"circuit_threshold" yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout" yaml:"circuit_timeout"`
}

// UploadConfig holds upload workflow settings.
type UploadConfig struct {
	Workers         int    `mapstructure:"workers" yaml:"workers"` // 0 = 2x logical CPUs
	PathFormat      string `mapstructure:"path_format" yaml:"path_format"`
	ContinueOnError bool   `mapstructure:"continue_on_error" yaml:"continue_on_error"`
}

// MonitorConfig holds progress polling settings.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"` // 0 = unlimited
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`               // 0 = unlimited
}

// SyncConfig holds profile reconciliation settings.
type SyncConfig struct {
	ProfilesFile  string `mapstructure:"profiles_file" yaml:"profiles_file"`
	SkipUnchanged bool   `mapstructure:"skip_unchanged" yaml:"skip_unchanged"`
	Schedule      string `mapstructure:"schedule" yaml:"schedule"` // cron expression, empty = run once
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PANDACTL_ and use underscores for nesting.
// Example: PANDACTL_API_ACCESS_KEY=abc.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadWithViper(v, configPath)
}

// LoadWithViper reads configuration into v, which may already carry bound
// command-line flags. Defaults must have been set on v by the caller.
func LoadWithViper(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pandactl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pandactl")
		v.AddConfigPath("/etc/pandactl")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns the configuration produced by SetDefaults alone.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("api.version", defaultAPIVersion)
	v.SetDefault("api.access_key", "")
	v.SetDefault("api.secret_key", "")
	v.SetDefault("api.cloud_id", "")
	v.SetDefault("api.rate_limit", 0.0)

	// HTTP defaults
	v.SetDefault("http.timeout", defaultHTTPTimeout)
	v.SetDefault("http.retry_attempts", defaultRetryAttempts)
	v.SetDefault("http.retry_delay", defaultRetryDelay)
	v.SetDefault("http.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("http.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("http.circuit_timeout", defaultCircuitTimeout)

	// Upload defaults
	v.SetDefault("upload.workers", 0)
	v.SetDefault("upload.path_format", defaultPathFormat)
	v.SetDefault("upload.continue_on_error", false)

	// Monitor defaults
	v.SetDefault("monitor.interval", defaultPollInterval)
	v.SetDefault("monitor.max_iterations", 0)
	v.SetDefault("monitor.timeout", time.Duration(0))

	// Sync defaults
	v.SetDefault("sync.profiles_file", defaultProfilesFile)
	v.SetDefault("sync.skip_unchanged", false)
	v.SetDefault("sync.schedule", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
// Credentials are not required here; see APIConfig.RequireCredentials.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.API.Host == "" {
		return fmt.Errorf("api.host is required")
	}
	if c.API.Port < 1 || c.API.Port > maxPort {
		return fmt.Errorf("api.port must be between 1 and %d", maxPort)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}

	if c.HTTP.RetryAttempts < 0 {
		return fmt.Errorf("http.retry_attempts must not be negative")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative")
	}

	if c.Upload.Workers < 0 {
		return fmt.Errorf("upload.workers must not be negative")
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Monitor.MaxIterations < 0 {
		return fmt.Errorf("monitor.max_iterations must not be negative")
	}
	if c.Monitor.Timeout < 0 {
		return fmt.Errorf("monitor.timeout must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// RequireCredentials reports the first missing credential.
func (c *APIConfig) RequireCredentials() error {
	switch {
	case c.AccessKey == "":
		return fmt.Errorf("api.access_key is required")
	case c.SecretKey == "":
		return fmt.Errorf("api.secret_key is required")
	case c.CloudID == "":
		return fmt.Errorf("api.cloud_id is required")
	}
	return nil
}

// Address returns the API address in host:port format.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.API.AccessKey = mask(c.API.AccessKey)
	c.API.SecretKey = mask(c.API.SecretKey)
	return c
}
