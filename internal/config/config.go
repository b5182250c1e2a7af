package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/affinityd/internal/history"
	"github.com/loykin/affinityd/internal/logger"
	itls "github.com/loykin/affinityd/internal/tls"
	"github.com/loykin/affinityd/internal/worker"
)

// EnvPrefix is prepended to every environment override, e.g.
// AFFINITYD_STORE_DSN or AFFINITYD_WORKER_INTERVAL.
const EnvPrefix = "AFFINITYD"

// Config represents the top-level TOML structure.
//
//	[store]
//	dsn = "sqlite:///var/lib/affinityd/store.sqlite"
//
//	[worker]
//	interval = "5s"
//
//	[log]
//	level = "info"
//	format = "text"
//	  [log.file]
//	  path = "/var/log/affinityd.log"
//
//	[server]
//	enabled = true
//	listen = "127.0.0.1:7878"
//	base_path = "/api"
//	  [server.tls]
//	  enabled = true
//	  dir = "/var/lib/affinityd/tls"
//	  auto_generate = true
//
//	[metrics]
//	enabled = true
//
//	[history]
//	enabled = true
//	dsns = ["sqlite:///var/lib/affinityd/history.sqlite"]
//	retention = "168h"
//	prune_schedule = "@daily"
type Config struct {
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	Worker  WorkerConfig  `toml:"worker" mapstructure:"worker"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type WorkerConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type ServerConfig struct {
	Enabled  bool         `toml:"enabled" mapstructure:"enabled"`
	Listen   string       `toml:"listen" mapstructure:"listen"`
	BasePath string       `toml:"base_path" mapstructure:"base_path"`
	TLS      itls.Options `toml:"tls" mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// HistoryConfig lists heartbeat history sinks. Each DSN selects its backend
// by scheme: sqlite://, postgres:// or clickhouse://.
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
	// Retention drops events older than this; zero keeps everything.
	Retention     time.Duration `toml:"retention" mapstructure:"retention"`
	PruneSchedule string        `toml:"prune_schedule" mapstructure:"prune_schedule"`
}

// Defaults
const (
	DefaultListen   = "127.0.0.1:7878"
	DefaultBasePath = "/api"
)

// DefaultStoreDSN places the SQLite database in the per-user config
// directory, falling back to the working directory.
func DefaultStoreDSN() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "store.sqlite"
	}
	return filepath.Join(dir, "affinityd", "store.sqlite")
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store:  StoreConfig{DSN: DefaultStoreDSN()},
		Worker: WorkerConfig{Interval: worker.Cooldown},
		Log: logger.Config{
			Level:  "info",
			Format: logger.FormatText,
			File: logger.FileConfig{
				MaxSizeMB:  logger.DefaultMaxSizeMB,
				MaxBackups: logger.DefaultMaxBackups,
				MaxAgeDays: logger.DefaultMaxAgeDays,
			},
		},
		Server:  ServerConfig{Listen: DefaultListen, BasePath: DefaultBasePath},
		Metrics: MetricsConfig{Enabled: true},
		History: HistoryConfig{PruneSchedule: history.DefaultPruneSchedule},
	}
}

func newViper() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// every key needs a default so env overrides reach Unmarshal
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("worker.interval", d.Worker.Interval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("server.tls.hosts", []string{})
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("history.prune_schedule", d.History.PruneSchedule)
	return v
}

// Load reads the TOML file at path, applies environment overrides and
// validates the result. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) normalize() {
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	dsns := c.History.DSNs[:0]
	for _, d := range c.History.DSNs {
		if d = strings.TrimSpace(d); d != "" {
			dsns = append(dsns, d)
		}
	}
	c.History.DSNs = dsns
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Store.DSN == "" {
		return errors.New("store.dsn must not be empty")
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval must be positive, got %s", c.Worker.Interval)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		return errors.New("server.listen is required when the server is enabled")
	}
	if c.Server.Enabled {
		if err := c.Server.TLS.Validate(); err != nil {
			return fmt.Errorf("server.tls: %w", err)
		}
	}
	if c.History.Enabled && len(c.History.DSNs) == 0 {
		return errors.New("history.dsns must list at least one sink when history is enabled")
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention)
	}
	if c.History.Enabled && c.History.Retention > 0 {
		if err := history.ValidateSchedule(c.History.PruneSchedule); err != nil {
			return fmt.Errorf("history.prune_schedule: %w", err)
		}
	}
	return nil
}
