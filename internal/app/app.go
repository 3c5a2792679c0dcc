package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/elga-io/corgi/internal/cache"
	"github.com/elga-io/corgi/internal/clickhouse"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/database"
	"github.com/elga-io/corgi/internal/events"
	"github.com/elga-io/corgi/internal/handlers"
	"github.com/elga-io/corgi/internal/logger"
	"github.com/elga-io/corgi/internal/redis"
	"github.com/elga-io/corgi/internal/resolver"
	"github.com/elga-io/corgi/internal/storage"
	"github.com/elga-io/corgi/internal/validation"
)

// backend is what every storage implementation provides.
type backend interface {
	storage.LinkStore
	storage.UserStore
}

type userStore struct {
	storage.LinkStore
	storage.UserStore
}

// App holds the connections shared by the binaries. Redis and ClickHouse
// are optional and nil when not configured.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	// Store is the raw backend; Links validates writes on top of it.
	Store storage.LinkStore
	Links storage.LinkStore
	Users storage.UserStore

	DB         *database.DBManager
	Redis      *goredis.Client
	ClickHouse *clickhouse.Client

	redisClient *redis.Client

	clicks     events.Publisher
	clicksOnce sync.Once

	closers []func() error
}

type Options struct {
	// Redis connects when configured. Required fails startup without it.
	Redis         bool
	RedisRequired bool
	ClickHouse    bool
	// Migrate applies the storage schema on startup.
	Migrate bool
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}

	store, err := a.openStore(ctx, opts.Migrate)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	a.Users = store
	a.Links = storage.Validated(store, a.Rules())

	if opts.Redis || opts.RedisRequired {
		if !cfg.Redis.Enabled() {
			if opts.RedisRequired {
				a.Close()
				return nil, errors.New("REDIS_ADDR is required")
			}
			log.Warn("Redis disabled, running with the in-process cache only")
		} else {
			rc, err := redis.Open(ctx, cfg.Redis)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.redisClient = rc
			a.Redis = rc.Client
			a.closers = append(a.closers, rc.Close)
			log.Info("Connected to Redis at %s", cfg.Redis.Addr)
		}
	}

	if opts.ClickHouse && cfg.ClickHouse.Enabled() {
		ch, err := clickhouse.NewClient(ctx, cfg.ClickHouse)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := ch.Migrate(ctx); err != nil {
			ch.Close()
			a.Close()
			return nil, err
		}
		a.ClickHouse = ch
		a.closers = append(a.closers, ch.Close)
		log.Info("Connected to ClickHouse at %s", cfg.ClickHouse.Addr)
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context, migrate bool) (backend, error) {
	cfg := a.Config
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		a.Log.Warn("Using the in-memory store; data is lost on exit")
		return storage.NewMemoryStorage(), nil

	case config.BackendSQLite:
		s, err := storage.OpenSQLite(ctx, cfg.Storage.SQLiteURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.Log.Info("Opened SQLite store at %s", cfg.Storage.SQLiteURL)
		return s, nil

	default:
		db, err := database.NewDBManager(ctx, database.Config{
			PrimaryDSN:      cfg.Database.PrimaryDSN,
			ReplicaDSNs:     cfg.Database.ReplicaDSNs,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		a.Log.Info("Connected to Postgres (%d replicas)", len(cfg.Database.ReplicaDSNs))
		return userStore{
			LinkStore: storage.NewPostgresStorage(db),
			UserStore: storage.NewPostgresUserStorage(db),
		}, nil
	}
}

func (a *App) Rules() validation.Rules {
	return validation.Rules{
		Domains:    a.Config.Links.Domains,
		KeywordMin: a.Config.Links.KeywordMin,
		KeywordMax: a.Config.Links.KeywordMax,
	}
}

// ClickLog returns the ClickHouse sink, or nil when it is disabled.
func (a *App) ClickLog() clickhouse.ClickLog {
	if a.ClickHouse == nil {
		return nil
	}
	return a.ClickHouse
}

func (a *App) NewCache() *cache.Cache {
	cfg := a.Config.Cache
	return cache.New(cache.Config{
		L1Capacity:  cfg.L1Capacity,
		L1TTL:       cfg.L1TTL,
		L2TTL:       cfg.L2TTL,
		NegativeTTL: cfg.NegativeTTL,
		Channel:     a.Config.Redis.InvalidationChannel,
	}, a.Redis, a.Log.With("component", "cache"))
}

func (a *App) NewResolver(c *cache.Cache) *resolver.Resolver {
	return resolver.New(a.Store, c, resolver.Config{
		LookupTimeout: a.Config.Cache.LookupTimeout,
		StoreTimeout:  a.Config.Storage.Timeout,
	}, a.Log.With("component", "resolver"))
}

// HealthChecks covers every connection the app holds.
func (a *App) HealthChecks() []handlers.HealthCheck {
	store := handlers.HealthCheck{Name: "store", Check: a.Store.Ping}
	if a.DB != nil {
		store.Stats = func(context.Context) any { return a.DB.Stats() }
	}
	checks := []handlers.HealthCheck{store}

	if a.redisClient != nil {
		checks = append(checks, handlers.HealthCheck{
			Name:  "redis",
			Check: a.redisClient.Check,
			Stats: func(ctx context.Context) any { return a.redisClient.Stats(ctx) },
		})
		if p, ok := a.ClickPublisher().(*events.ClickProducer); ok {
			checks = append(checks, handlers.HealthCheck{
				Name: "click_stream",
				Check: func(ctx context.Context) error {
					_, err := p.StreamLength(ctx)
					return err
				},
				Stats: func(ctx context.Context) any {
					n, _ := p.StreamLength(ctx)
					return map[string]any{"stream": a.Config.Redis.StreamName, "length": n}
				},
			})
		}
	}
	if a.ClickHouse != nil {
		checks = append(checks, handlers.HealthCheck{Name: "clickhouse", Check: a.ClickHouse.Ping})
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("Close failed: %v", err)
		}
	}
	a.closers = nil
}

const healthTimeout = 2 * time.Second

func (a *App) NewHealthHandler() *handlers.HealthHandler {
	return handlers.NewHealthHandler(healthTimeout, a.HealthChecks()...)
}
