// Package config implements the two-stage configuration this gateway is
// started with: an embedded config.yaml provides defaults, and environment
// variables override them before final validation.
package config

import "log/slog"

// YamlAPNS mirrors the apns block of config.yaml.
type YamlAPNS struct {
	Enabled      bool   `yaml:"enabled"`
	KeyID        string `yaml:"key_id"`
	TeamID       string `yaml:"team_id"`
	BundleID     string `yaml:"bundle_id"`
	P8KeyContent string `yaml:"p8_key_content"`
	Production   bool   `yaml:"production"`
	PoolSize     int    `yaml:"pool_size"`
}

// YamlGCM mirrors the gcm block of config.yaml.
type YamlGCM struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	PoolSize int    `yaml:"pool_size"`
}

// YamlRedis mirrors the redis block of config.yaml (the store endpoint).
type YamlRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr           string    `yaml:"listen_addr"`
	Redis                YamlRedis `yaml:"redis"`
	APNS                 YamlAPNS  `yaml:"apns"`
	GCM                  YamlGCM   `yaml:"gcm"`
	AutoRedeliver        bool      `yaml:"auto_redeliver"`
	RedeliverAttempts    int       `yaml:"redeliver_attempts"`
	AutoDeregister       bool      `yaml:"auto_deregister"`
	RetryIntervalSeconds int       `yaml:"retry_interval_seconds"`
	JWTSecret            string    `yaml:"jwt_secret"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config
// struct — the "stage 1" configuration, ready to be augmented by
// environment overrides.
func NewConfigFromYaml(y *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("mapping yaml config to base config struct")

	cfg := &Config{
		ListenAddr: y.ListenAddr,
		Redis: RedisConfig{
			Addr:     y.Redis.Addr,
			Password: y.Redis.Password,
			DB:       y.Redis.DB,
		},
		APNS: APNSConfig{
			Enabled:      y.APNS.Enabled,
			KeyID:        y.APNS.KeyID,
			TeamID:       y.APNS.TeamID,
			BundleID:     y.APNS.BundleID,
			P8KeyContent: y.APNS.P8KeyContent,
			Production:   y.APNS.Production,
			PoolSize:     y.APNS.PoolSize,
		},
		GCM: GCMConfig{
			Enabled:  y.GCM.Enabled,
			APIKey:   y.GCM.APIKey,
			PoolSize: y.GCM.PoolSize,
		},
		AutoRedeliver:        y.AutoRedeliver,
		RedeliverAttempts:    y.RedeliverAttempts,
		AutoDeregister:       y.AutoDeregister,
		RetryIntervalSeconds: y.RetryIntervalSeconds,
		JWTSecret:            y.JWTSecret,
	}

	logger.Debug("yaml config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"redis_addr", cfg.Redis.Addr,
		"apns_enabled", cfg.APNS.Enabled,
		"gcm_enabled", cfg.GCM.Enabled,
	)
	return cfg, nil
}
