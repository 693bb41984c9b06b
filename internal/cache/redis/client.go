// Package redis provides the cross-process pieces of a multi-instance
// deployment on go-redis/v9: the engine lock, the draw event bus and the
// HTTP rate limiter.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	DialTimeout time.Duration
	Namespace   string
}

// Client wraps a go-redis client. Every key and channel it hands out is
// prefixed with the configured namespace so several deployments can share
// one Redis.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New connects and pings.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return NewFromClient(rdb, cfg.Namespace), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, namespace string) *Client {
	return &Client{rdb: rdb, namespace: strings.TrimSuffix(namespace, ":")}
}

// Key joins parts with ':' under the client namespace.
func (c *Client) Key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
