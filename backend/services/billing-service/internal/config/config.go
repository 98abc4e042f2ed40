package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargepay/backend/libs/config"
)

// Config defines billing service configuration.
type Config struct {
	HTTP struct {
		Port            string        `yaml:"port" env:"BILLING_HTTP_PORT" default:"8083"`
		IdleTimeout     time.Duration `yaml:"idle_timeout" env:"BILLING_HTTP_IDLE_TIMEOUT" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BILLING_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"BILLING_POSTGRES_DSN" required:"true"`
		// Migrate applies embedded migrations on startup.
		Migrate bool `yaml:"migrate" env:"BILLING_POSTGRES_MIGRATE" default:"true"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr" env:"BILLING_REDIS_ADDR"`
		Password string        `yaml:"password" env:"BILLING_REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"BILLING_REDIS_DB"`
		TTL      time.Duration `yaml:"ttl" env:"BILLING_REDIS_SUMMARY_TTL" default:"5m"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret" env:"BILLING_JWT_SECRET" required:"true"`
		// GatewayKeyHash is the bcrypt hash of the payment gateway callback key.
		GatewayKeyHash string `yaml:"gateway_key_hash" env:"BILLING_GATEWAY_KEY_HASH"`
	} `yaml:"auth"`
	Tariffs struct {
		SeedFile string `yaml:"seed_file" env:"BILLING_TARIFF_SEED_FILE"`
	} `yaml:"tariffs"`
	Settlement struct {
		AutoComplete     bool          `yaml:"auto_complete" env:"BILLING_SETTLEMENT_AUTO_COMPLETE"`
		EstimateInterval time.Duration `yaml:"estimate_interval" env:"BILLING_ESTIMATE_INTERVAL" default:"5s"`
	} `yaml:"settlement"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the loader cannot.
func (c *Config) Validate() error {
	if c.Redis.TTL <= 0 {
		return errors.New("config: redis summary ttl must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("config: http shutdown timeout must be positive")
	}
	if c.Settlement.EstimateInterval <= 0 {
		return errors.New("config: estimate interval must be positive")
	}
	return nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8083"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
