// Package redis connects scanmerge to Redis for import event pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// Client is a connected go-redis client.
type Client struct {
	rdb *redis.Client
	log *logger.Logger
}

// New connects to Redis. The first ping is retried MaxRetries times with
// exponential backoff starting at 100ms.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	log = log.With("component", "redis", "addr", cfg.Addr())

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			break
		}
		if attempt > cfg.MaxRetries {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", attempt, err)
		}
		log.Warn("redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}

	log.Info("redis connected", "pool_size", cfg.PoolSize)
	return &Client{rdb: rdb, log: log}, nil
}

func (c *Client) Close() error {
	c.log.Info("closing redis connection")
	return c.rdb.Close()
}

// Ping is the readiness check of the redis dependency.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Client returns the go-redis client.
func (c *Client) Client() *redis.Client {
	return c.rdb
}
