// Package config provides YAML-based configuration loading for nsm66.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahlstromcj/nsm66/pkg/transport"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the daemon/application
	AppName string `mapstructure:"app_name"`

	// DataDir base directory for persistent data (endpoint snapshots)
	DataDir string `mapstructure:"data_dir"`

	// SessionRoot overrides the XDG session directory when non-empty
	SessionRoot string `mapstructure:"session_root"`

	// ClientIDFormat is the template new client IDs are generated from
	ClientIDFormat string `mapstructure:"client_id_format"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Server holds the OSC server settings
	Server ServerConfig `mapstructure:"server"`

	// Ping holds the daemon watchdog settings
	Ping PingConfig `mapstructure:"ping"`
}

// ServerConfig defines how the OSC server binds.
type ServerConfig struct {
	// Proto: udp, tcp or unix
	Proto string `mapstructure:"proto"`
	// Bind address, host:port for udp/tcp or a socket path for unix.
	// An empty port picks a free one.
	Bind string `mapstructure:"bind"`
}

// PingConfig defines the daemon liveness watchdog.
type PingConfig struct {
	// Count of ping rounds per check
	Count int `mapstructure:"count"`
	// TimeoutSec of daemon silence before the check fails
	TimeoutSec int `mapstructure:"timeout_sec"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:        "nsm66d",
		DataDir:        "./data",
		ClientIDFormat: "n----",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/nsm66.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Proto: "udp",
			Bind:  "127.0.0.1:0",
		},
		Ping: PingConfig{Count: 3, TimeoutSec: 10},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix NSM66 and `.`/`-` are replaced with `_`.
// Example: NSM66_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NSM66")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("session_root", cfg.SessionRoot)
	v.SetDefault("client_id_format", cfg.ClientIDFormat)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("server.proto", cfg.Server.Proto)
	v.SetDefault("server.bind", cfg.Server.Bind)
	v.SetDefault("ping.count", cfg.Ping.Count)
	v.SetDefault("ping.timeout_sec", cfg.Ping.TimeoutSec)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("NSM66_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `nsm66`
		v.SetConfigName("nsm66")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nsm66"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	c.Server.Proto = strings.ToLower(strings.TrimSpace(c.Server.Proto))
	if transport.KindFromString(c.Server.Proto) == transport.KindUnknown {
		return fmt.Errorf("invalid server.proto: %q", c.Server.Proto)
	}
	if c.Server.Bind == "" {
		c.Server.Bind = "127.0.0.1:0"
	}
	if c.ClientIDFormat == "" {
		c.ClientIDFormat = "n----"
	}
	if c.Ping.Count <= 0 {
		c.Ping.Count = 3
	}
	if c.Ping.TimeoutSec <= 0 {
		c.Ping.TimeoutSec = 10
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
