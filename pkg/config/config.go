package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/marmos91/dittofs-exports/pkg/store/cache"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "DITTOFS"

// Config represents the complete dittofs-exports configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags bound with BindFlags (highest priority)
//  2. Environment variables (DITTOFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Store
// section carries one map per implementation and only the map matching the
// selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Exports locates the export table
	Exports ExportsConfig `mapstructure:"exports"`

	// Store selects the backing store
	Store StoreConfig `mapstructure:"store"`

	// Cache configures the metadata cache in front of the store
	Cache cache.Config `mapstructure:"cache"`

	// Access configures the access controller
	Access AccessConfig `mapstructure:"access"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// ExportsConfig locates the export table and controls reloading.
type ExportsConfig struct {
	// File is the primary export file
	File string `mapstructure:"file"`

	// Dir is an optional directory of *.exports files loaded after File
	Dir string `mapstructure:"dir"`

	// Watch reloads the table when the files change or on SIGHUP
	Watch bool `mapstructure:"watch"`

	// Debounce is how long the watcher waits for file events to settle
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`

	// Generation is stamped into every object handle. Bumping it makes all
	// previously issued handles stale.
	Generation uint32 `mapstructure:"generation" validate:"required"`
}

// StoreConfig specifies the backing store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Paths lists directories created in the store at startup, so that
	// export paths resolve on a fresh store
	Paths []string `mapstructure:"paths" validate:"dive,startswith=/"`
}

// AccessConfig configures the access controller.
type AccessConfig struct {
	// LogDenials logs denied requests at WARN
	LogDenials bool `mapstructure:"log_denials"`

	// DenialLogRate limits denial log lines per second; 0 logs every denial
	DenialLogRate float64 `mapstructure:"denial_log_rate" validate:"gte=0"`

	// DenialLogBurst is how many denial lines may be logged at once
	DenialLogBurst int `mapstructure:"denial_log_burst" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled registers the collectors and starts the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address of the metrics endpoint
	Listen string `mapstructure:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// configPath may be empty to use the default location. A missing file is not
// an error: the defaults apply.
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is like Load but lets explicitly set flags of fs override
// every other source. Only the flags listed in flagKeys are bound.
func LoadWithFlags(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":   "logging.level",
	"log-format":  "logging.format",
	"exports":     "exports.file",
	"exports-dir": "exports.dir",
	"store":       "store.type",
	"metrics":     "metrics.enabled",
}

// BindFlags binds the known flags of fs into v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true cannot be told apart from an explicit
	// false after unmarshalling, so they are defaulted here
	def := cache.DefaultConfig()
	v.SetDefault("cache.enabled", def.Enabled)
	v.SetDefault("exports.watch", true)
	v.SetDefault("access.log_denials", true)
	v.SetDefault("access.denial_log_rate", 10.0)

	// AutomaticEnv only covers keys viper already knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"exports.file", "exports.dir", "exports.watch", "exports.generation",
		"store.type", "metrics.enabled", "metrics.listen", "access.log_denials",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/dittofs-exports/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittofs-exports")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittofs-exports")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
