package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedis connects to Redis and verifies the connection with a ping.
//
// Callers treat a failure here as "run without cache and without
// cross-instance fanout", never as fatal.
func NewRedis(ctx context.Context, redisURL string, logger *zap.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("addr", opt.Addr),
		zap.Int("db", opt.DB),
	)
	return client, nil
}
