package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr         string        `split_words:"true" default:"localhost:6379"`
	Password     string        `split_words:"true"`
	DB           int           `split_words:"true" default:"0"`
	PoolSize     int           `split_words:"true" default:"20"`
	KeyPrefix    string        `split_words:"true" default:"retail:"`
	DialTimeout  time.Duration `split_words:"true" default:"5s"`
	HistoryTTL   time.Duration `split_words:"true" default:"24h"`
	HistoryLimit int           `split_words:"true" default:"10"`
}

// NewClient connects to Redis and pings it once.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
