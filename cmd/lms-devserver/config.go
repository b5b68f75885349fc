package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the dev server settings. Every key can be set with an LMS_
// environment variable, e.g. LMS_JWT_SECRET.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	Port      int    `mapstructure:"port"`
	GRPCPort  int    `mapstructure:"grpc_port"`
	JWTSecret string `mapstructure:"jwt_secret"`

	// fs, gorm or datastore
	Store     string `mapstructure:"store"`
	DataDir   string `mapstructure:"data_dir"`
	DSN       string `mapstructure:"dsn"`
	ProjectID string `mapstructure:"project_id"`
	Namespace string `mapstructure:"namespace"`

	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`

	// google and/or github, enabling /users/exchange-token
	IdentityProviders []string `mapstructure:"identity_providers"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "lms")
	v.SetDefault("port", 8080)
	v.SetDefault("grpc_port", 0)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("store", "fs")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("dsn", "lms.db")
	v.SetDefault("project_id", "")
	v.SetDefault("namespace", "")
	v.SetDefault("access_token_expiry", 15*time.Minute)
	v.SetDefault("refresh_token_expiry", 7*24*time.Hour)
	v.SetDefault("cleanup_interval", time.Hour)
	v.SetDefault("identity_providers", []string{})
	v.SetDefault("log_level", "info")
}

func loadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("LMS")
	v.AutomaticEnv()
	setDefaults(v)

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
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: %d", c.GRPCPort)
	}
	switch c.Store {
	case "fs":
		if c.DataDir == "" {
			return errors.New("data_dir is required for the fs store")
		}
	case "gorm":
		if c.DSN == "" {
			return errors.New("dsn is required for the gorm store")
		}
	case "datastore":
		if c.ProjectID == "" {
			return errors.New("project_id is required for the datastore store")
		}
	default:
		return fmt.Errorf("invalid store: %s (must be fs, gorm, or datastore)", c.Store)
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		return errors.New("token expiries must be positive")
	}
	for _, name := range c.IdentityProviders {
		if name != "google" && name != "github" {
			return fmt.Errorf("invalid identity provider: %s (must be google or github)", name)
		}
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return level, nil
}

func (c *Config) addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
