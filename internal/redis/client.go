// Package redis opens the Redis connection shared by the cache, the click
// stream, the rate limiter and the cleanup lock.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elga-io/corgi/internal/config"
)

const (
	dialTimeout = 5 * time.Second
	ioTimeout   = 3 * time.Second
)

type Client struct {
	*redis.Client
	addr string
	db   int
}

// Open connects and pings once; a server that does not answer fails
// startup.
func Open(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return &Client{Client: rdb, addr: cfg.Addr, db: cfg.DB}, nil
}

func (c *Client) Check(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Stats is the health report for the connection. Keys is nil when DBSIZE
// could not be read.
type Stats struct {
	Addr string    `json:"addr"`
	DB   int       `json:"db"`
	Keys *int64    `json:"keys,omitempty"`
	Pool PoolStats `json:"pool"`
}

func (c *Client) Stats(ctx context.Context) Stats {
	ps := c.PoolStats()
	st := Stats{
		Addr: c.addr,
		DB:   c.db,
		Pool: PoolStats{
			Hits:       ps.Hits,
			Misses:     ps.Misses,
			Timeouts:   ps.Timeouts,
			TotalConns: ps.TotalConns,
			IdleConns:  ps.IdleConns,
			StaleConns: ps.StaleConns,
		},
	}
	if n, err := c.DBSize(ctx).Result(); err == nil {
		st.Keys = &n
	}
	return st
}
