package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "k")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, 50, cfg.RateLimit.Events)
	assert.Equal(t, time.Second, cfg.RateLimit.Interval)
	assert.Equal(t, "drop", cfg.SlowConsumer)
	assert.Equal(t, "k", cfg.Secret, "session secret falls back to jwt secret")
}

func TestLoadFileYAMLAndEnv(t *testing.T) {
	path := writeYAML(t, `
mode: debug
port: 9000
jwt_secret: from-file
slow_consumer: kick
cors_allow: ["http://localhost:5173"]
rate_limit:
  events: 5
  interval: 2s
`)
	t.Setenv("RELAY_PORT", "9100")
	t.Setenv("RELAY_RATE_LIMIT_EVENTS", "7")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "kick", cfg.SlowConsumer)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllow)
	assert.Equal(t, 7, cfg.RateLimit.Events)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Interval)
}

func TestLoadFileRequiresJWTSecret(t *testing.T) {
	_, err := LoadFile(writeYAML(t, "port: 9000\n"))
	assert.ErrorIs(t, err, ErrNoJWTSecret)
}

func TestValidatePingBeforePong(t *testing.T) {
	path := writeYAML(t, "jwt_secret: k\nping_period: 90s\npong_wait: 60s\n")
	_, err := LoadFile(path)
	assert.Error(t, err)
}
