package database

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBManager routes writes to the primary and spreads reads across replicas.
type DBManager struct {
	primary      *pgxpool.Pool
	replicas     []*pgxpool.Pool
	replicaIndex uint32
}

type Config struct {
	PrimaryDSN  string
	ReplicaDSNs []string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func NewDBManager(ctx context.Context, cfg Config) (*DBManager, error) {
	primary, err := openPool(ctx, cfg.PrimaryDSN, cfg)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}

	replicas := make([]*pgxpool.Pool, 0, len(cfg.ReplicaDSNs))
	for i, dsn := range cfg.ReplicaDSNs {
		if strings.TrimSpace(dsn) == "" {
			continue
		}
		pool, err := openPool(ctx, dsn, cfg)
		if err != nil {
			primary.Close()
			closePools(replicas)
			return nil, fmt.Errorf("replica %d: %w", i, err)
		}
		replicas = append(replicas, pool)
	}

	return &DBManager{primary: primary, replicas: replicas}, nil
}

// NewFromPool wraps an existing pool with no replicas.
func NewFromPool(pool *pgxpool.Pool) *DBManager {
	return &DBManager{primary: pool}
}

func openPool(ctx context.Context, dsn string, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return pool, nil
}

func (m *DBManager) Write() *pgxpool.Pool {
	return m.primary
}

// Read returns the next replica, or the primary when none are configured.
func (m *DBManager) Read() *pgxpool.Pool {
	if len(m.replicas) == 0 {
		return m.primary
	}
	idx := atomic.AddUint32(&m.replicaIndex, 1) % uint32(len(m.replicas))
	return m.replicas[idx]
}

func (m *DBManager) HasReplicas() bool {
	return len(m.replicas) > 0
}

func (m *DBManager) Ping(ctx context.Context) error {
	return m.primary.Ping(ctx)
}

func (m *DBManager) Close() {
	if m.primary != nil {
		m.primary.Close()
	}
	closePools(m.replicas)
}

func closePools(pools []*pgxpool.Pool) {
	for _, pool := range pools {
		if pool != nil {
			pool.Close()
		}
	}
}

func (m *DBManager) Stats() map[string]any {
	stats := map[string]any{"primary": poolStats(m.primary)}

	replicaStats := make([]map[string]any, len(m.replicas))
	for i, replica := range m.replicas {
		replicaStats[i] = poolStats(replica)
	}
	stats["replicas"] = replicaStats
	return stats
}

func poolStats(p *pgxpool.Pool) map[string]any {
	s := p.Stat()
	return map[string]any{
		"total_conns":    s.TotalConns(),
		"idle_conns":     s.IdleConns(),
		"acquired_conns": s.AcquiredConns(),
	}
}
