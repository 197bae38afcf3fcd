package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// RedisConfig is the store endpoint (spec section 6's "store endpoint").
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// APNSConfig holds APNS credentials, sandbox/production selection, and pool
// sizing (spec section 6: "per-provider pool sizes, credentials, and
// sandbox-vs-production selection").
type APNSConfig struct {
	Enabled      bool
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Production   bool
	PoolSize     int
}

// GCMConfig holds the legacy GCM/FCM HTTP API key and pool sizing.
type GCMConfig struct {
	Enabled  bool
	APIKey   string
	PoolSize int
}

// Config is the single, authoritative configuration for the gateway.
type Config struct {
	ListenAddr string
	Redis      RedisConfig
	APNS       APNSConfig
	GCM        GCMConfig

	AutoRedeliver        bool
	RedeliverAttempts    int
	AutoDeregister       bool
	RetryIntervalSeconds int

	JWTSecret string
}

// RetryInterval returns RetryIntervalSeconds as a time.Duration.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from
// YAML) and completes it by applying environment variables and final
// validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("applying environment variable overrides")

	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		logger.Debug("overriding config value", "key", "REDIS_ADDR", "source", "env")
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = n
		}
	}

	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_PRODUCTION"); val != "" {
		cfg.APNS.Production = val == "true" || val == "1"
	}

	if val := os.Getenv("GCM_API_KEY"); val != "" {
		cfg.GCM.APIKey = val
	}

	if val := os.Getenv("AUTO_REDELIVER"); val != "" {
		cfg.AutoRedeliver = val == "true" || val == "1"
	}
	if val := os.Getenv("REDELIVER_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.RedeliverAttempts = n
		}
	}
	if val := os.Getenv("AUTO_DEREGISTER"); val != "" {
		cfg.AutoDeregister = val == "true" || val == "1"
	}
	if val := os.Getenv("RETRY_INTERVAL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.RetryIntervalSeconds = n
		}
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		cfg.JWTSecret = val
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RetryIntervalSeconds <= 0 {
		cfg.RetryIntervalSeconds = 5
	}
	if cfg.RedeliverAttempts <= 0 {
		cfg.RedeliverAttempts = 5
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required (set via YAML or REDIS_ADDR env var)")
	}
	if !cfg.APNS.Enabled && !cfg.GCM.Enabled {
		return nil, fmt.Errorf("at least one of apns or gcm must be enabled")
	}
	if cfg.APNS.Enabled && (cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8KeyContent == "") {
		return nil, fmt.Errorf("apns enabled but credentials incomplete")
	}
	if cfg.GCM.Enabled && cfg.GCM.APIKey == "" {
		return nil, fmt.Errorf("gcm enabled but api_key missing")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required (set via YAML or JWT_SECRET env var)")
	}

	logger.Debug("configuration finalized and validated successfully")
	return cfg, nil
}
