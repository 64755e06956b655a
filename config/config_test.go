package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzbi/metasync/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	path := writeConfigFile(t, "")

	config, err := NewLoader().LoadFromFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "metasync", config.Name)
	assert.Equal(t, 1000, config.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, config.Cache.TTL.Metadata)
	assert.Equal(t, 4, config.Sync.MaxConcurrency)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.False(t, config.Store.Enabled)
	assert.False(t, config.Scheduler.Enabled)
}

func TestLoadOverridesMergeWithDefaults(t *testing.T) {
	path := writeConfigFile(t, `
name: portal-sync
cache:
  max_size: 50
sync:
  max_concurrency: 8
gateway:
  base_url: "http://assets.internal:8080"
`)

	config, err := NewLoader().LoadFromFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "portal-sync", config.Name)
	assert.Equal(t, 50, config.Cache.MaxSize)
	assert.Equal(t, 8, config.Sync.MaxConcurrency)
	assert.Equal(t, "http://assets.internal:8080", config.Gateway.BaseURL)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, "0.0.0", config.Version)
	assert.Equal(t, 20, config.Sync.BatchSize)
	assert.Equal(t, 10*time.Minute, config.Cache.TTL.Permissions)
	assert.Equal(t, 10*time.Second, config.Gateway.Timeout)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := NewLoader().LoadFromFile(context.Background(), "")
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrConfigInvalidPath))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().LoadFromFile(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestLoadParseFailure(t *testing.T) {
	path := writeConfigFile(t, "name: [unterminated")

	_, err := NewLoader().LoadFromFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrConfigParseFailed))
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
cache:
  max_size: 0
`)

	_, err := NewLoader().LoadFromFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrConfigValidateFailed))
}

func TestLoadSchedulerRequiresTimezone(t *testing.T) {
	path := writeConfigFile(t, `
scheduler:
  enabled: true
  timezone: ""
`)

	_, err := NewLoader().LoadFromFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrConfigValidateFailed))
}

func TestValidate(t *testing.T) {
	loader := NewLoader()

	require.NoError(t, loader.Validate(Defaults()))

	err := loader.Validate(nil)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrConfigIsNil))

	bad := Defaults()
	bad.Limiter.RatePerSecond = 0
	err = loader.Validate(bad)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrConfigValidateFailed))
}

func TestManagerLifecycle(t *testing.T) {
	path := writeConfigFile(t, "name: lifecycle-test\n")

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	config := cm.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, "lifecycle-test", config.Name)

	require.NoError(t, cm.Start())
	assert.True(t, cm.IsRunning())
	assert.Error(t, cm.Start())

	require.NoError(t, cm.Stop())
	assert.False(t, cm.IsRunning())
	assert.Error(t, cm.Stop())
	assert.Nil(t, cm.GetConfig())
}

func TestManagerReload(t *testing.T) {
	path := writeConfigFile(t, `
cache:
  max_size: 10
`)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 10, cm.GetConfig().Cache.MaxSize)

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  max_size: 99\n"), 0o600))
	require.NoError(t, cm.Load())
	assert.Equal(t, 99, cm.GetConfig().Cache.MaxSize)
}

func TestManagerRejectsBadFile(t *testing.T) {
	_, err := NewConfigurationManager(context.Background(), filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
