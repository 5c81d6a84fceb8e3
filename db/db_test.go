package db

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"VoteBoard/config"
	"VoteBoard/model"
)

func TestMigrateCreatesTables(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: NewLogger(time.Second)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	require.NoError(t, Migrate(gdb))
	require.NoError(t, Migrate(gdb), "migration is repeatable")

	for _, table := range []string{"feature_requests", "feature_votes", "feature_comments"} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}
	assert.True(t, gdb.Migrator().HasIndex(&model.Vote{}, "idx_feature_votes_feature_user"))
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cli, err := NewRedis(context.Background(), config.RedisConf{Host: mr.Host(), Port: mustPort(t, mr), PoolSize: 2})
	require.NoError(t, err)
	defer cli.Close()

	require.NoError(t, cli.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedis(ctx, config.RedisConf{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}
