package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	JWTSecret     string
	PublicBaseURL string
	RedisAddr     string

	AdminUsername string
	AdminPassword string

	ProviderBaseURL      string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderTimeout      time.Duration
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:             dbSource,
		Port:                 envOr("SERVER_PORT", "8080"),
		Env:                  envOr("ENVIRONMENT", "development"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		PublicBaseURL:        os.Getenv("PUBLIC_BASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AdminUsername:        envOr("ADMIN_USERNAME", "admin"),
		AdminPassword:        envOr("ADMIN_PASSWORD", "admin@123"),
		ProviderBaseURL:      envOr("SMEPAY_API_URL", "https://staging.smepay.in/api"),
		ProviderClientID:     os.Getenv("SMEPAY_CLIENT_ID"),
		ProviderClientSecret: os.Getenv("SMEPAY_CLIENT_SECRET"),
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required outside development")
		}
		cfg.JWTSecret = "dev-insecure-change-me"
	}

	timeout, err := time.ParseDuration(envOr("PROVIDER_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
	}
	cfg.ProviderTimeout = timeout

	return cfg, nil
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
