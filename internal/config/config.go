// Package config loads runtime settings from the environment. A local .env
// file is honored when present so development does not need exported vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the api binary needs to start.
type Config struct {
	Addr      string
	Version   string
	PGDSN     string
	RedisAddr string

	AuthSecret string
	AuthIssuer string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	ShutdownTimeout time.Duration
}

// Load reads the environment, applying defaults for everything optional.
// ECOTRACK_AUTH_SECRET is the only required setting.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Config{
		Addr:            envStr("ECOTRACK_ADDR", ":8080"),
		Version:         envStr("ECOTRACK_VERSION", "dev"),
		PGDSN:           envStr("ECOTRACK_PG_DSN", ""),
		RedisAddr:       envStr("ECOTRACK_REDIS_ADDR", ""),
		AuthSecret:      envStr("ECOTRACK_AUTH_SECRET", ""),
		AuthIssuer:      envStr("ECOTRACK_AUTH_ISSUER", "ecotrack"),
		ShutdownTimeout: 10 * time.Second,
	}

	var err error
	if cfg.AccessTTL, err = envDuration("ECOTRACK_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration("ECOTRACK_REFRESH_TTL", 14*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = envFloat("ECOTRACK_RATE_RPS", 50); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = envInt("ECOTRACK_RATE_BURST", 100); err != nil {
		return Config{}, err
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("config: ECOTRACK_AUTH_SECRET is required")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
