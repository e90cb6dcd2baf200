// Package redis connects to the Redis instance that backs the signal store
// and the message event stream.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Client struct {
	rdb    *redis.Client
	addr   string
	logger *logrus.Logger
}

type ConnectionConfig struct {
	URL             string
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	MaxConnAge      time.Duration
	PoolTimeout     time.Duration
	IdleTimeout     time.Duration
	ConnectTimeout  time.Duration
}

// NewClient parses config.URL, applies the pool settings and pings the
// server. The client is closed again when the ping fails.
func NewClient(config ConnectionConfig, logger *logrus.Logger) (*Client, error) {
	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	config.apply(opt)

	client := &Client{
		rdb:    redis.NewClient(opt),
		addr:   opt.Addr,
		logger: logger,
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		client.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opt.Addr, err)
	}

	logger.WithFields(logrus.Fields{
		"addr":      opt.Addr,
		"db":        opt.DB,
		"pool_size": opt.PoolSize,
	}).Info("Connected to Redis signal store")
	return client, nil
}

func (c ConnectionConfig) apply(opt *redis.Options) {
	opt.MaxRetries = c.MaxRetries
	opt.MinRetryBackoff = c.MinRetryBackoff
	opt.MaxRetryBackoff = c.MaxRetryBackoff
	opt.DialTimeout = c.DialTimeout
	opt.ReadTimeout = c.ReadTimeout
	opt.WriteTimeout = c.WriteTimeout
	opt.PoolSize = c.PoolSize
	opt.MinIdleConns = c.MinIdleConns
	opt.MaxConnAge = c.MaxConnAge
	opt.PoolTimeout = c.PoolTimeout
	opt.IdleTimeout = c.IdleTimeout
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	stats := c.rdb.PoolStats()
	c.logger.WithFields(logrus.Fields{
		"addr":        c.addr,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
	}).Debug("Closing Redis signal store connection")
	return c.rdb.Close()
}

func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}

// DefaultConnectionConfig keeps signal store calls short: detection
// degrades on timeout instead of stalling message processing.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxRetries:      2,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 256 * time.Millisecond,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     1 * time.Second,
		WriteTimeout:    1 * time.Second,
		PoolSize:        20,
		MinIdleConns:    5,
		MaxConnAge:      30 * time.Minute,
		PoolTimeout:     2 * time.Second,
		IdleTimeout:     5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}
