package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTPReadHeaderTimeout())
	assert.Equal(t, time.Minute, cfg.HTTPIdleTimeout())
	assert.Equal(t, "http://127.0.0.1:8000", cfg.API.BaseURL)
	assert.Equal(t, "", cfg.API.Key)
	assert.Equal(t, "node-001", cfg.Device.ID)
	assert.Equal(t, 5*time.Second, cfg.DevicePollInterval())
	assert.Equal(t, 120, cfg.Device.HistoryLimit)
	assert.Equal(t, 38.7312, cfg.Map.CenterLat)
	assert.Equal(t, 35.4787, cfg.Map.CenterLon)
	assert.Equal(t, 7, cfg.Map.Zoom)
	assert.Equal(t, "#4CAF50", cfg.Quality.Colors.Good)
	assert.Equal(t, "#9E9E9E", cfg.Quality.Colors.NoData)
	assert.Equal(t, 220.0, cfg.Quality.Thresholds.Good)
	assert.Equal(t, 660.0, cfg.Quality.Thresholds.Moderate)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("AIRQ_API_BASE_URL", "http://air.example:9000")
	t.Setenv("AIRQ_API_KEY", "  secret  ")
	t.Setenv("AIRQ_DEVICE_ID", "node-042")
	t.Setenv("AIRQ_DEVICE_POLL_MS", "2500")
	t.Setenv("AIRQ_REDIS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://air.example:9000", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Key)
	assert.Equal(t, "node-042", cfg.Device.ID)
	assert.Equal(t, 2500*time.Millisecond, cfg.DevicePollInterval())
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "airq.yaml")
	content := `
map:
  center_lat: 39.92
  center_lon: 32.85
  zoom: 9
quality:
  colors:
    poor: "#880000"
  thresholds:
    good: 200
    moderate: 600
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 39.92, cfg.Map.CenterLat)
	assert.Equal(t, 9, cfg.Map.Zoom)
	assert.Equal(t, "#880000", cfg.Quality.Colors.Poor)
	assert.Equal(t, "#4CAF50", cfg.Quality.Colors.Good)
	assert.Equal(t, 200.0, cfg.Quality.Thresholds.Good)
}

func TestLoad_InvalidThresholds(t *testing.T) {
	os.Clearenv()
	t.Setenv("AIRQ_QUALITY_THRESHOLDS_GOOD", "700")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality.thresholds.good")
}

func TestLoad_MissingFile(t *testing.T) {
	os.Clearenv()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositivePoll(t *testing.T) {
	os.Clearenv()
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Device.PollMS = 0
	cfg.Map.PollMS = -1
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device.poll_ms")
	assert.Contains(t, err.Error(), "map.poll_ms")
}
