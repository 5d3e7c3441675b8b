package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/orchestrator.yaml")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Pool.MaxInstances)
	assert.Equal(t, 64*1024, cfg.Pool.OutputBufferBytes)
	assert.Equal(t, 4, cfg.Queue.Dispatchers)
	assert.Equal(t, 5*time.Minute, cfg.Queue.DefaultTimeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("ORCHESTRATOR_POOL_MAX_INSTANCES", "25")
	defer os.Unsetenv("ORCHESTRATOR_POOL_MAX_INSTANCES")

	cfg, err := Load("/nonexistent/path/orchestrator.yaml")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Pool.MaxInstances)
}
