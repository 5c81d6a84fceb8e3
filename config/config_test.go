package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "mysql", c.Storage.Driver)
	assert.Equal(t, 15*time.Minute, c.Vote.PendingTTL)
	assert.Equal(t, 6379, c.RedisConfig.Port)
	assert.Equal(t, "voteboard.votes", c.Kafka.Topic)
	assert.Equal(t, 5*time.Second, c.Kafka.MessageTimeout)
	assert.Equal(t, 3*time.Second, c.Vote.PublishTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
storage:
  driver: memory
  redis: false
redis:
  rhost: cache.internal
  rport: 6380
vote:
  pending_ttl: 2m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", c.Storage.Driver)
	assert.False(t, c.Storage.Redis)
	assert.Equal(t, "cache.internal", c.RedisConfig.Host)
	assert.Equal(t, 6380, c.RedisConfig.Port)
	assert.Equal(t, 2*time.Minute, c.Vote.PendingTTL)
	assert.Equal(t, 5*time.Second, c.Vote.LockTimeout, "unset keys keep defaults")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("storage:\n  driver: sqlite\n"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(".")
	require.NoError(t, err)
	assert.Equal(t, "root", c.DbConfig.User)
	assert.Equal(t, 30*time.Second, c.Vote.CountCacheExpiry)
}
