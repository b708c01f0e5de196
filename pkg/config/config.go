package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const DefaultPath = "~/.config/rsync-ssh/config.toml"

type Config struct {
	Redis   RedisConfig   `mapstructure:"redis" validate:"required"`
	Daemon  DaemonConfig  `mapstructure:"daemon" validate:"required"`
	Publish PublishConfig `mapstructure:"publish" validate:"required"`
	HTTP    HTTPConfig    `mapstructure:"http" validate:"required"`
	Cache   CacheConfig   `mapstructure:"cache" validate:"required"`
	History HistoryConfig `mapstructure:"history"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
}

type DaemonConfig struct {
	LogLevel        string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	Concurrency     int    `mapstructure:"concurrency" validate:"min=1,max=256"`
	DebounceSeconds int    `mapstructure:"debounce_seconds" validate:"min=0,max=3600"`
	InflightTTL     int    `mapstructure:"inflight_ttl_minutes" validate:"min=1,max=1440"`
}

type PublishConfig struct {
	MaxRetry       int `mapstructure:"max_retry" validate:"min=0,max=10"`
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"required,min=1,max=1440"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

type CacheConfig struct {
	Backend    string `mapstructure:"backend" validate:"required,oneof=memory redis"`
	Size       int    `mapstructure:"size" validate:"min=1,max=100000"`
	TTLSeconds int    `mapstructure:"ttl_seconds" validate:"min=1"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path" validate:"required_if=Enabled true"`
}

type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
}

// LoadFromFile reads filename as TOML. A missing file is only an error when
// required is set; otherwise defaults and RSYNCSSH_* environment variables apply.
func LoadFromFile(filename string, required bool) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(filename)
	v.SetConfigType("toml")

	v.SetEnvPrefix("RSYNCSSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if required || !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("daemon.log_level", "info")
	v.SetDefault("daemon.concurrency", 4)
	v.SetDefault("daemon.debounce_seconds", 2)
	v.SetDefault("daemon.inflight_ttl_minutes", 60)

	v.SetDefault("publish.max_retry", 0)
	v.SetDefault("publish.timeout_minutes", 60)

	v.SetDefault("http.addr", "127.0.0.1:8377")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.size", 128)
	v.SetDefault("cache.ttl_seconds", 600)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", "~/.local/share/rsync-ssh/history.db")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.command", "")
}

func validateConfig(config *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(config)
}
