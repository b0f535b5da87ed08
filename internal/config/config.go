// Package config handles loading and hot-reloading of the director's
// configuration via Viper.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProbeCfg holds the probe settings. Path and the rate limit are passed
// to the director; Interval and DefaultCount are parsed but not applied,
// since the probe loop uses the fixed director.ProbeInterval and
// director.DefaultProbeCount.
type ProbeCfg struct {
	Path            string  `mapstructure:"path"`
	Interval        string  `mapstructure:"interval"`
	DefaultCount    int     `mapstructure:"default_count"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
}

// ParsedInterval returns Interval as a Duration, defaulting to 5s.
func (p ProbeCfg) ParsedInterval() time.Duration {
	d, _ := time.ParseDuration(p.Interval)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// AdminCfg controls the HTTP admin/diagnostic surface.
type AdminCfg struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingCfg controls where and how verbosely the director logs.
type LoggingCfg struct {
	Level   string `mapstructure:"level"`
	FilePath string `mapstructure:"file_path"`
}

// Config is the top-level director configuration.
type Config struct {
	Probe   ProbeCfg   `mapstructure:"probe"`
	Admin   AdminCfg   `mapstructure:"admin"`
	Logging LoggingCfg `mapstructure:"logging"`
}

// Default returns the out-of-the-box configuration.
func Default() Config {
	return Config{
		Probe: ProbeCfg{
			Path:            "/metrics",
			Interval:        "5s",
			DefaultCount:    3,
			RateLimitPerSec: 16,
			RateLimitBurst:  16,
		},
		Admin:   AdminCfg{Enabled: true, ListenAddr: ":9191"},
		Logging: LoggingCfg{Level: "info", FilePath: ""},
	}
}

// Load reads and parses the config file at path. It returns the parsed
// Config and the underlying Viper instance, the latter needed by Watch.
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback fired whenever the config file
// changes on disk. Invalid reloads are logged and skipped; the
// previous config stays active.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config hot-reload failed", "error", err)
			return
		}
		slog.Info("config hot-reloaded",
			"probe_path", cfg.Probe.Path,
			"probe_interval", cfg.Probe.Interval,
		)
		onChange(cfg)
	})
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("probe.path", "/metrics")
	v.SetDefault("probe.interval", "5s")
	v.SetDefault("probe.default_count", 3)
	v.SetDefault("probe.rate_limit_per_sec", 16.0)
	v.SetDefault("probe.rate_limit_burst", 16)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", ":9191")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file_path", "")

	return v
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	if cfg.Probe.Path == "" {
		return Config{}, fmt.Errorf("config: probe.path must not be empty")
	}
	if cfg.Probe.DefaultCount <= 0 {
		cfg.Probe.DefaultCount = 3
	}
	return cfg, nil
}
