package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lmsapp/lmsauth/client"
)

// Config is the lmsctl configuration, read from the config file, LMS_*
// environment variables and flags.
type Config struct {
	BaseURL     string        `mapstructure:"base_url"`
	Store       string        `mapstructure:"store"`
	StorePath   string        `mapstructure:"store_path"`
	Passphrase  string        `mapstructure:"passphrase"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	Debounce    time.Duration `mapstructure:"debounce"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Verbose     bool          `mapstructure:"verbose"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("store", "fs")
	v.SetDefault("store_path", "")
	v.SetDefault("passphrase", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "lmsctl")
	v.SetDefault("debounce", client.DefaultUnauthorizedDebounce)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("verbose", false)
}

// loadConfig reads configuration into cfg. Flags must already be bound to v.
func loadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/lmsctl")
	}

	v.SetEnvPrefix("LMS")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	switch c.Store {
	case "fs":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid store: %s (must be fs or redis)", c.Store)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("invalid debounce: %s", c.Debounce)
	}
	return nil
}
