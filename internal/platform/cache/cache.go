// Package cache provides the Redis/Dragonfly client used for shared progress
// storage.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a cache connection.
type Options struct {
	URL string
	// Namespace is prepended to every key with a ":" separator, letting several
	// deployments share one Redis database. Empty means no scoping.
	Namespace string
}

// Cache is a Redis/Dragonfly client scoped to a key namespace.
type Cache struct {
	Client    *redis.Client
	namespace string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to the cache and verifies the connection with a ping.
func New(ctx context.Context, o Options) (*Cache, error) {
	opts, err := ParseURL(o.URL)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.ClientName = "pai-player"

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{Client: client, namespace: o.Namespace}, nil
}

// Key returns key scoped to the cache namespace.
func (c *Cache) Key(key string) string {
	return Scope(c.namespace, key)
}

// Scope prefixes key with namespace, or returns key unchanged when namespace
// is empty.
func Scope(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
