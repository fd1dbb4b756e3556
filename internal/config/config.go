// Package config loads server settings from an optional config file and
// BOOK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddress string `mapstructure:"listen_address"`
	ListenPort    int    `mapstructure:"listen_port"`
	FeedAddress   string `mapstructure:"feed_address"`
	Workers       int    `mapstructure:"workers"`
	CutoffHour    int    `mapstructure:"cutoff_hour"`
	CutoffMinute  int    `mapstructure:"cutoff_minute"`
}

// Cutoff converts the configured cutoff into a time of day.
func (c Config) Cutoff() time.Duration {
	return time.Duration(c.CutoffHour)*time.Hour + time.Duration(c.CutoffMinute)*time.Minute
}

// Load applies the defaults, then the named config file if given, then
// BOOK_* environment overrides, which take precedence over both.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("listen_address", "0.0.0.0")
	v.SetDefault("listen_port", 9001)
	v.SetDefault("feed_address", "0.0.0.0:9002")
	v.SetDefault("workers", 10)
	v.SetDefault("cutoff_hour", 16)
	v.SetDefault("cutoff_minute", 0)

	v.SetEnvPrefix("book")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.CutoffHour < 0 || cfg.CutoffHour > 23 || cfg.CutoffMinute < 0 || cfg.CutoffMinute > 59 {
		return Config{}, errors.New("cutoff out of range")
	}
	return cfg, nil
}
