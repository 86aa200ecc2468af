// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"log"
	"time"

	"github.com/labstack/gommon/random"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// Port is the HTTP listen port.
	Port int `mapstructure:"PORT"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is the Redis host:port used for short-lived auth state.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// AccessTokenSecret signs access tokens; independent from the refresh
	// secret so leaking one does not compromise the other. Both are required
	// in production.
	AccessTokenSecret  string `mapstructure:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string `mapstructure:"REFRESH_TOKEN_SECRET"`
	// AccessTokenTTL is the access token lifetime (e.g. "2m").
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token lifetime (e.g. "168h").
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	// BcryptCost is the bcrypt cost factor; minimum 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	// MailFrom is the From address on verification and welcome mail.
	MailFrom string `mapstructure:"MAIL_FROM"`
	// BaseURL is the public URL used to build verification links.
	BaseURL string `mapstructure:"BASE_URL"`
}

// IsProduction reports whether the app runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "2m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "no-reply@flowcrm.app")
	v.SetDefault("BASE_URL", "http://localhost:8080")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if cfg.BcryptCost < 12 {
		return nil, errors.New("config: BCRYPT_COST must be at least 12")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("config: token TTLs must be positive")
	}

	if cfg.IsProduction() {
		if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
			return nil, errors.New("config: ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required in production")
		}
		if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
			return nil, errors.New("config: access and refresh token secrets must differ")
		}
	} else {
		if cfg.AccessTokenSecret == "" {
			cfg.AccessTokenSecret = random.String(32)
			log.Printf("WARNING: Using generated access token secret; sessions will not survive restarts")
		}
		if cfg.RefreshTokenSecret == "" {
			cfg.RefreshTokenSecret = random.String(32)
			log.Printf("WARNING: Using generated refresh token secret; sessions will not survive restarts")
		}
	}

	return &cfg, nil
}
