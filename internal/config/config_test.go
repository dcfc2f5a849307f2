package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/KirkDiggler/rpg-encounters/internal/config"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

type ConfigTestSuite struct {
	suite.Suite
	vars map[string]string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.vars = map[string]string{
		"CHARACTER_SERVICE_URL": "http://characters:8080",
		"AUTH_JWT_SECRET":       "0123456789abcdef0123456789abcdef",
	}
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg, err := config.LoadFrom(s.vars)
	s.Require().NoError(err)
	s.Require().NoError(cfg.Validate())

	s.Equal(":8080", cfg.HTTPAddr)
	s.Equal(50051, cfg.GRPCPort)
	s.Equal("localhost:6379", cfg.RedisAddr)
	s.Equal(5*time.Second, cfg.CharacterTimeout)
	s.Equal(64, cfg.SubscriberBuffer)
	s.Equal(30*time.Second, cfg.StreamPingInterval)
	s.Equal(slog.LevelInfo, cfg.SlogLevel())
}

func (s *ConfigTestSuite) TestOverrides() {
	s.vars["SUBSCRIBER_BUFFER"] = "8"
	s.vars["STREAM_PING_INTERVAL"] = "250ms"
	s.vars["LOG_LEVEL"] = "DEBUG"

	cfg, err := config.LoadFrom(s.vars)
	s.Require().NoError(err)
	s.Require().NoError(cfg.Validate())

	s.Equal(8, cfg.SubscriberBuffer)
	s.Equal(250*time.Millisecond, cfg.StreamPingInterval)
	s.Equal(slog.LevelDebug, cfg.SlogLevel())
}

func (s *ConfigTestSuite) TestMalformedValue() {
	s.vars["GRPC_PORT"] = "not-a-port"

	_, err := config.LoadFrom(s.vars)

	s.True(errors.IsInvalidArgument(err))
}

func (s *ConfigTestSuite) TestValidation() {
	cfg, err := config.LoadFrom(map[string]string{
		"AUTH_JWT_SECRET":   "short",
		"SUBSCRIBER_BUFFER": "0",
		"LOG_LEVEL":         "loud",
	})
	s.Require().NoError(err)

	err = cfg.Validate()
	s.Require().True(errors.IsInvalidArgument(err))

	fields, ok := errors.GetMeta(err)["validation_errors"].(map[string][]string)
	s.Require().True(ok)
	s.Contains(fields, "CHARACTER_SERVICE_URL")
	s.Contains(fields, "AUTH_JWT_SECRET")
	s.Contains(fields, "SUBSCRIBER_BUFFER")
	s.Contains(fields, "LOG_LEVEL")
	s.NotContains(fields, "REDIS_ADDR")
}
