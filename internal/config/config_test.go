package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesOptionsOverDefault(t *testing.T) {
	c := New(
		WithWatermarks(4, 8),
		WithMaxQueue(100),
		WithIdleTime(time.Second),
		WithMaxConnections(10),
		WithReadTimeout(5*time.Second),
		WithCacheBytes(1024),
		WithListenPort(9999),
	)

	assert.Equal(t, 4, c.LowWatermark)
	assert.Equal(t, 8, c.HighWatermark)
	assert.Equal(t, 100, c.MaxQueue)
	assert.Equal(t, time.Second, c.IdleTime)
	assert.Equal(t, 10, c.MaxConnections)
	assert.Equal(t, 5*time.Second, c.ReadTimeout)
	assert.Equal(t, 1024, c.CacheBytes)
	assert.Equal(t, 9999, c.ListenPort)
}

func TestFromEnviron_OverridesRecognizedVars(t *testing.T) {
	for k, v := range map[string]string{
		"KVLOOPD_LOW_WATERMARK":   "3",
		"KVLOOPD_HIGH_WATERMARK":  "9",
		"KVLOOPD_MAX_QUEUE":       "50",
		"KVLOOPD_IDLE_TIME_MS":    "2500",
		"KVLOOPD_MAX_CONNECTIONS": "7",
		"KVLOOPD_READ_TIMEOUT_SEC": "3",
		"KVLOOPD_CACHE_BYTES":     "2048",
		"KVLOOPD_LISTEN_PORT":     "12345",
	} {
		t.Setenv(k, v)
	}

	c, err := FromEnviron(Default())
	require.NoError(t, err)

	assert.Equal(t, 3, c.LowWatermark)
	assert.Equal(t, 9, c.HighWatermark)
	assert.Equal(t, 50, c.MaxQueue)
	assert.Equal(t, 2500*time.Millisecond, c.IdleTime)
	assert.Equal(t, 7, c.MaxConnections)
	assert.Equal(t, 3*time.Second, c.ReadTimeout)
	assert.Equal(t, 2048, c.CacheBytes)
	assert.Equal(t, 12345, c.ListenPort)
}

func TestFromEnviron_IgnoresUnsetAndEmptyVars(t *testing.T) {
	_ = os.Unsetenv("KVLOOPD_LOW_WATERMARK")
	t.Setenv("KVLOOPD_HIGH_WATERMARK", "")

	base := Default()
	c, err := FromEnviron(base)
	require.NoError(t, err)
	assert.Equal(t, base, c)
}

func TestFromEnviron_RejectsMalformedValue(t *testing.T) {
	t.Setenv("KVLOOPD_LISTEN_PORT", "not-a-port")
	_, err := FromEnviron(Default())
	assert.Error(t, err)
}
