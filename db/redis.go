package db

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"VoteBoard/config"
)

// NewRedis builds a client and checks the connection with PING.
func NewRedis(ctx context.Context, conf config.RedisConf) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Password: conf.PassWord,
		DB:       conf.DB,
		PoolSize: conf.PoolSize,
	})

	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return cli, nil
}
