// Package config loads service settings: defaults, then an optional
// YAML file, then FOCUSMATE_* environment variables, in rising
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"focusmate/pkg/database"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Video    VideoConfig    `mapstructure:"video"`
	Stats    StatsConfig    `mapstructure:"stats"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// VideoConfig points at the room service. An empty base URL disables
// video attachment entirely; sessions then run without it.
type VideoConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// StatsConfig controls streak computation. Timezone is an IANA name;
// streaks count local days, so it should match the user base.
type StatsConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:            "./data/focusmate.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Video: VideoConfig{
			BaseURL: "",
		},
		Stats: StatsConfig{
			Timezone: "Asia/Kolkata",
		},
	}
}

// Load reads configuration with precedence env > file > defaults. An
// empty path skips the file; a named file that is missing is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	v.SetDefault("database.path", defaults.Database.Path)
	v.SetDefault("database.max_connections", defaults.Database.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", defaults.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", defaults.Database.ConnMaxIdleTime)
	v.SetDefault("video.base_url", defaults.Video.BaseURL)
	v.SetDefault("stats.timezone", defaults.Stats.Timezone)

	v.SetEnvPrefix("FOCUSMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server host cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server timeouts must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.Stats.Timezone != "" {
		if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
			return fmt.Errorf("invalid stats timezone %q: %w", c.Stats.Timezone, err)
		}
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StoreConfig converts into the store layer's own config type.
func (c *Config) StoreConfig() *database.Config {
	return &database.Config{
		DatabasePath:    c.Database.Path,
		MaxConnections:  c.Database.MaxConnections,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// StatsLocation resolves the configured timezone, falling back to UTC.
func (c *Config) StatsLocation() *time.Location {
	if c.Stats.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Stats.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
