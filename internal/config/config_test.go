package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "stock-reserve", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("HTTP_PORT", ":9090")

	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, ":9090", cfg.HTTPPort)
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("LOCK_TTL", "not-a-duration")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
}
