package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/config"
)

func TestLoadAppliesSpecDefaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(20*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 30.0, cfg.OverlapSeconds)
	assert.Equal(t, 3, cfg.MaxConcurrentSlices)
	assert.Equal(t, 20, cfg.RateLimitCapacity)
	assert.InDelta(t, 20.0/60.0, cfg.RateLimitRefillPerS, 1e-9)
	assert.Equal(t, 200, cfg.MemoryCapMB)
	assert.Equal(t, 24, cfg.RetentionHoursProgress)
}

func TestLoadEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("HEARING_TRANSCRIBE_MAX_CONCURRENT_SLICES", "7")
	t.Setenv("HEARING_TRANSCRIBE_MEMORY_CAP_MB", "512")

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxConcurrentSlices)
	assert.Equal(t, 512, cfg.MemoryCapMB)
}

func TestRetentionDurationConvertsHoursToDuration(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 24*60*60*1e9, float64(cfg.RetentionDuration()))
}
