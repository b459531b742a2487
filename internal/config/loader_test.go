package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644)
	require.NoError(t, err)
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, "jwt-auth-token", cfg.TokenKey())
	assert.Equal(t, "jwt-auth-refreshing", cfg.RefreshingKey())
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
tokenUrl: https://auth.example.com/token
refreshUrl: https://auth.example.com/refresh
storageScope: shared
manualInitialization: true
logVerbosity: verbose
namespace: billing
storage:
  backend: redis
  redis:
    addr: localhost:6379
lease:
  ttl: 3s
http:
  refreshTimeout: 5s
`)

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, "https://auth.example.com/token", cfg.TokenURL)
	assert.Equal(t, "https://auth.example.com/refresh", cfg.RefreshURL)
	assert.Equal(t, StorageScopeShared, cfg.StorageScope)
	assert.True(t, cfg.ManualInitialization)
	assert.Equal(t, "verbose", cfg.LogVerbosity)
	assert.Equal(t, "billing-token", cfg.TokenKey())
	assert.Equal(t, StorageBackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Lease.TTL)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RefreshTimeout)

	// Untouched values keep their defaults.
	assert.Equal(t, DefaultLeaseAcquireWait, cfg.Lease.AcquireWait)
	assert.Equal(t, DefaultRedisPrefix, cfg.Storage.Redis.Prefix)
	assert.Equal(t, DefaultRefreshExpiredStatus, cfg.RefreshExpiredStatus)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "tokenUrl: [unterminated")

	_, err := LoadConfig(tempDir)

	var cfgErr ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
	assert.Equal(t, ErrorTypeParse, cfgErr.ErrorType)
	assert.Equal(t, configFileName, cfgErr.FileName)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
tokenUrl: not-a-url
storageScope: everywhere
logVerbosity: chatty
`)

	_, err := LoadConfig(tempDir)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
	assert.Len(t, verrs, 3)
}

func TestDefaultStorageDir(t *testing.T) {
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()

	osUserHomeDir = func() (string, error) { return "/home/tester", nil }

	dir, err := DefaultStorageDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".config/jwtauth/credentials"), dir)
	assert.Equal(t, filepath.Join("/home/tester", ".config/jwtauth"), GetDefaultConfigPathOrPanic())
}
