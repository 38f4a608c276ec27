// Package config loads the engine configuration from a YAML file,
// FILMDEX_-prefixed environment variables and defaults, in that
// order of precedence (env over file over defaults).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is passed by value into component constructors; nothing reads
// settings from package state at runtime.
type Config struct {
	Database struct {
		// Type selects the backend: "sqlite" or "libsql".
		Type string `mapstructure:"type"`
		// Path is the embedded database file.
		Path string `mapstructure:"path"`
		// URL is the libsql server, e.g. "http://localhost:8080".
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Update struct {
		// Mode: "disabled", "manual", "on-start", "automatic" or
		// "continuous".
		Mode string `mapstructure:"mode"`
		// IntervalSeconds is the minimum spacing between passes.
		IntervalSeconds int `mapstructure:"interval_seconds"`
		// StaleHours is the age after which another writer's update
		// flag is considered abandoned.
		StaleHours int `mapstructure:"stale_hours"`
		// BackoffSeconds is the linear backoff unit of the serve loop.
		BackoffSeconds int `mapstructure:"backoff_seconds"`
		// DropDir, when set, is watched for newly dropped feed files.
		DropDir string `mapstructure:"drop_dir"`
		// FullAfterHour: a full pass runs at most once per day, and
		// only after this local hour.
		FullAfterHour int `mapstructure:"full_after_hour"`
	} `mapstructure:"update"`

	Cache struct {
		Enabled bool   `mapstructure:"enabled"`
		Dir     string `mapstructure:"dir"`
	} `mapstructure:"cache"`

	Filters struct {
		MaxResults int   `mapstructure:"max_results"`
		NoFuture   bool  `mapstructure:"no_future"`
		MinLength  int   `mapstructure:"min_length"`
		MaxAge     int64 `mapstructure:"max_age"`
		RecentMode int   `mapstructure:"recent_mode"`
		GroupShows bool  `mapstructure:"group_shows"`
	} `mapstructure:"filters"`

	Log struct {
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
}

// Load reads file (optional; empty means search the working directory
// for config.yaml), applies FILMDEX_* environment overrides and fills
// in defaults.
func Load(file string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILMDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "filmdex.db")
	v.SetDefault("database.url", "")
	v.SetDefault("update.mode", "manual")
	v.SetDefault("update.interval_seconds", 3600)
	v.SetDefault("update.stale_hours", 24)
	v.SetDefault("update.backoff_seconds", 60)
	v.SetDefault("update.drop_dir", "")
	v.SetDefault("update.full_after_hour", 5)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("filters.max_results", 5000)
	v.SetDefault("filters.no_future", true)
	v.SetDefault("filters.min_length", 0)
	v.SetDefault("filters.max_age", 86400)
	v.SetDefault("filters.recent_mode", 0)
	v.SetDefault("filters.group_shows", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if file != "" {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		// a missing default config file is fine; a broken one is not
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case "libsql":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the libsql backend")
		}
	default:
		return fmt.Errorf("unknown database.type %q (want sqlite or libsql)", c.Database.Type)
	}
	switch c.Update.Mode {
	case "disabled", "manual", "on-start", "automatic", "continuous":
	default:
		return fmt.Errorf("unknown update.mode %q", c.Update.Mode)
	}
	return nil
}
