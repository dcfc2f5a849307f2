// Package config loads server configuration from the environment
package config

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// Config is the full server configuration
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCPort int    `env:"GRPC_PORT" envDefault:"50051"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	CharacterServiceURL string        `env:"CHARACTER_SERVICE_URL"`
	CharacterTimeout    time.Duration `env:"CHARACTER_TIMEOUT" envDefault:"5s"`

	JWTSecret string `env:"AUTH_JWT_SECRET"`
	JWTIssuer string `env:"AUTH_JWT_ISSUER" envDefault:"rpg-encounters"`

	SubscriberBuffer   int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`
	StreamPingInterval time.Duration `env:"STREAM_PING_INTERVAL" envDefault:"30s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeInvalidArgument, "failed to parse environment")
	}
	return &cfg, nil
}

// LoadFrom parses the given variables instead of the process environment
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeInvalidArgument, "failed to parse environment")
	}
	return &cfg, nil
}

// Validate checks the configuration is usable by the server
func (c *Config) Validate() error {
	if c == nil {
		return errors.InvalidArgument("config cannot be nil")
	}

	vb := errors.NewValidationBuilder()
	errors.ValidateRequired("HTTP_ADDR", c.HTTPAddr, vb)
	errors.ValidateRange("GRPC_PORT", c.GRPCPort, 1, 65535, vb)
	errors.ValidateRequired("REDIS_ADDR", c.RedisAddr, vb)
	errors.ValidateRange("REDIS_POOL_SIZE", c.RedisPoolSize, 1, 1000, vb)

	errors.ValidateRequired("CHARACTER_SERVICE_URL", c.CharacterServiceURL, vb)
	if c.CharacterServiceURL != "" {
		if u, err := url.Parse(c.CharacterServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
			vb.Field("CHARACTER_SERVICE_URL", "must be an absolute URL")
		}
	}
	if c.CharacterTimeout <= 0 {
		vb.Field("CHARACTER_TIMEOUT", "must be positive")
	}

	if len(c.JWTSecret) < 32 {
		vb.Field("AUTH_JWT_SECRET", "must be at least 32 bytes")
	}
	errors.ValidateRequired("AUTH_JWT_ISSUER", c.JWTIssuer, vb)

	errors.ValidateRange("SUBSCRIBER_BUFFER", c.SubscriberBuffer, 1, 4096, vb)
	if c.StreamPingInterval <= 0 {
		vb.Field("STREAM_PING_INTERVAL", "must be positive")
	}

	errors.ValidateEnum("LOG_LEVEL", strings.ToLower(c.LogLevel), []string{"debug", "info", "warn", "error"}, vb)

	return vb.Build()
}

// SlogLevel maps LOG_LEVEL onto slog
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
