package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Links      LinksConfig
	Cache      CacheConfig
	Auth       AuthConfig
	Analytics  AnalyticsConfig
	RateLimit  RateLimitConfig
	Cleanup    CleanupConfig
}

type ServerConfig struct {
	APIPort         string        `envconfig:"API_PORT" default:"8080"`
	RedirectPort    string        `envconfig:"REDIRECT_PORT" default:"8081"`
	BaseURL         string        `envconfig:"BASE_URL" default:"http://localhost:8081"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS"`
}

func (c *ServerConfig) Validate() error {
	if c.APIPort == "" || c.RedirectPort == "" {
		return fmt.Errorf("ports cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	return nil
}

type DatabaseConfig struct {
	PrimaryDSN      string        `envconfig:"DB_PRIMARY_DSN"`
	ReplicaDSNs     []string      `envconfig:"DB_REPLICA_DSNS"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"5"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxConns <= 0 || c.MinConns < 0 {
		return fmt.Errorf("connection limits must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type StorageConfig struct {
	Backend   string        `envconfig:"STORAGE_BACKEND" default:"postgres"`
	SQLiteURL string        `envconfig:"SQLITE_URL" default:"file:corgi.db"`
	Timeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"2s"`
}

func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case BackendPostgres, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q (must be one of: postgres, sqlite, memory)", c.Backend)
	}
	if c.Backend == BackendSQLite && c.SQLiteURL == "" {
		return fmt.Errorf("SQLITE_URL is required for the sqlite backend")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}

// RedisConfig leaves Addr empty to run without Redis (single node, L1 cache only).
type RedisConfig struct {
	Addr                string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password            string `envconfig:"REDIS_PASSWORD"`
	DB                  int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize            int    `envconfig:"REDIS_POOL_SIZE" default:"50"`
	MinIdleConns        int    `envconfig:"REDIS_MIN_IDLE_CONNS" default:"10"`
	StreamName          string `envconfig:"REDIS_STREAM_NAME" default:"corgi:clicks"`
	StreamMaxLen        int64  `envconfig:"REDIS_STREAM_MAXLEN" default:"1000000"`
	InvalidationChannel string `envconfig:"REDIS_INVALIDATION_CHANNEL" default:"corgi:cache:invalidate"`
}

func (c *RedisConfig) Enabled() bool { return c.Addr != "" }

func (c *RedisConfig) Validate() error {
	if c.Enabled() && c.StreamName == "" {
		return fmt.Errorf("stream name cannot be empty")
	}
	return nil
}

// ClickHouseConfig leaves Addr empty to disable the click log sink.
type ClickHouseConfig struct {
	Addr     string `envconfig:"CLICKHOUSE_ADDR"`
	Database string `envconfig:"CLICKHOUSE_DATABASE" default:"analytics"`
	Username string `envconfig:"CLICKHOUSE_USERNAME" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	MaxConns int    `envconfig:"CLICKHOUSE_MAX_CONNS" default:"10"`
}

func (c *ClickHouseConfig) Enabled() bool { return c.Addr != "" }

type LinksConfig struct {
	Domains          []string `envconfig:"LINK_DOMAINS" default:"elga.io"`
	DefaultDomain    string   `envconfig:"LINK_DEFAULT_DOMAIN" default:"elga.io"`
	KeywordLength    int      `envconfig:"LINK_KEYWORD_LENGTH" default:"7"`
	KeywordMin       int      `envconfig:"LINK_KEYWORD_MIN" default:"4"`
	KeywordMax       int      `envconfig:"LINK_KEYWORD_MAX" default:"32"`
	GenerateAttempts int      `envconfig:"LINK_GENERATE_ATTEMPTS" default:"5"`
	AllowAnonymous   bool     `envconfig:"LINK_ALLOW_ANONYMOUS" default:"true"`
	PageLimitDefault int      `envconfig:"LINK_PAGE_LIMIT_DEFAULT" default:"10"`
	PageLimitMax     int      `envconfig:"LINK_PAGE_LIMIT_MAX" default:"100"`
}

func (c *LinksConfig) Validate() error {
	c.Domains = normalizeList(c.Domains)
	c.DefaultDomain = strings.ToLower(strings.TrimSpace(c.DefaultDomain))
	if len(c.Domains) == 0 {
		return fmt.Errorf("at least one domain is required")
	}
	if !slices.Contains(c.Domains, c.DefaultDomain) {
		return fmt.Errorf("default domain %q is not in the allowed domains", c.DefaultDomain)
	}
	if c.KeywordLength < 6 || c.KeywordLength > 8 {
		return fmt.Errorf("keyword length must be between 6 and 8, got %d", c.KeywordLength)
	}
	if c.KeywordMin < 1 || c.KeywordMax < c.KeywordMin {
		return fmt.Errorf("invalid keyword bounds [%d, %d]", c.KeywordMin, c.KeywordMax)
	}
	if c.KeywordLength < c.KeywordMin || c.KeywordLength > c.KeywordMax {
		return fmt.Errorf("keyword length %d is outside keyword bounds [%d, %d]", c.KeywordLength, c.KeywordMin, c.KeywordMax)
	}
	if c.GenerateAttempts < 1 {
		return fmt.Errorf("generate attempts must be at least 1")
	}
	if c.PageLimitDefault < 1 || c.PageLimitMax < c.PageLimitDefault {
		return fmt.Errorf("invalid page limits (default %d, max %d)", c.PageLimitDefault, c.PageLimitMax)
	}
	return nil
}

type CacheConfig struct {
	L1Capacity    int           `envconfig:"CACHE_L1_CAPACITY" default:"10000"`
	L1TTL         time.Duration `envconfig:"CACHE_L1_TTL" default:"1m"`
	L2TTL         time.Duration `envconfig:"CACHE_L2_TTL" default:"10m"`
	NegativeTTL   time.Duration `envconfig:"CACHE_NEGATIVE_TTL" default:"30s"`
	LookupTimeout time.Duration `envconfig:"CACHE_LOOKUP_TIMEOUT" default:"50ms"`
}

func (c *CacheConfig) Validate() error {
	if c.L1Capacity <= 0 {
		return fmt.Errorf("L1 capacity must be positive")
	}
	if c.L1TTL <= 0 || c.L2TTL <= 0 || c.NegativeTTL <= 0 || c.LookupTimeout <= 0 {
		return fmt.Errorf("cache durations must be positive")
	}
	if c.NegativeTTL > c.L2TTL {
		return fmt.Errorf("negative TTL (%s) should not exceed L2 TTL (%s)", c.NegativeTTL, c.L2TTL)
	}
	return nil
}

type AuthConfig struct {
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	TokenDuration time.Duration `envconfig:"JWT_DURATION" default:"24h"`
	CookieName    string        `envconfig:"AUTH_COOKIE_NAME" default:"corgi_token"`
	CookieSecure  bool          `envconfig:"AUTH_COOKIE_SECURE" default:"false"`
}

func (c *AuthConfig) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.TokenDuration <= 0 {
		return fmt.Errorf("token duration must be positive")
	}
	if c.CookieName == "" {
		return fmt.Errorf("cookie name cannot be empty")
	}
	return nil
}

const (
	AnalyticsStream = "stream"
	AnalyticsDirect = "direct"
)

type AnalyticsConfig struct {
	Mode           string        `envconfig:"ANALYTICS_MODE" default:"stream"`
	QueueSize      int           `envconfig:"ANALYTICS_QUEUE_SIZE" default:"10000"`
	Workers        int           `envconfig:"ANALYTICS_WORKERS" default:"4"`
	PublishTimeout time.Duration `envconfig:"ANALYTICS_PUBLISH_TIMEOUT" default:"500ms"`
	MaxRetries     int           `envconfig:"ANALYTICS_MAX_RETRIES" default:"2"`
	ConsumerGroup  string        `envconfig:"ANALYTICS_CONSUMER_GROUP" default:"analytics-group"`
	ConsumerName   string        `envconfig:"ANALYTICS_CONSUMER_NAME" default:"worker-1"`
	BatchSize      int64         `envconfig:"ANALYTICS_BATCH_SIZE" default:"100"`
	BlockTime      time.Duration `envconfig:"ANALYTICS_BLOCK_TIME" default:"5s"`
}

func (c *AnalyticsConfig) Validate() error {
	if c.Mode != AnalyticsStream && c.Mode != AnalyticsDirect {
		return fmt.Errorf("unknown analytics mode %q (must be stream or direct)", c.Mode)
	}
	if c.QueueSize <= 0 || c.Workers <= 0 {
		return fmt.Errorf("queue size and workers must be positive")
	}
	if c.PublishTimeout <= 0 || c.MaxRetries < 0 {
		return fmt.Errorf("invalid publish timeout or retries")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

type RateLimitConfig struct {
	Enabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"100"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

func (c *RateLimitConfig) Validate() error {
	if c.Enabled && (c.Requests <= 0 || c.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	return nil
}

type CleanupConfig struct {
	Interval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"24h"`
	Retention time.Duration `envconfig:"CLEANUP_RETENTION" default:"720h"`
	LockTTL   time.Duration `envconfig:"CLEANUP_LOCK_TTL" default:"10m"`
}

func (c *CleanupConfig) Validate() error {
	if c.Interval <= 0 || c.Retention <= 0 || c.LockTTL <= 0 {
		return fmt.Errorf("cleanup durations must be positive")
	}
	return nil
}

type validator interface {
	Validate() error
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	// .env is for local dev; deployments pass real env vars.
	_ = godotenv.Load()

	cfg := &Config{}
	sections := []struct {
		name   string
		target any
	}{
		{"Server", &cfg.Server},
		{"Database", &cfg.Database},
		{"Storage", &cfg.Storage},
		{"Redis", &cfg.Redis},
		{"ClickHouse", &cfg.ClickHouse},
		{"Links", &cfg.Links},
		{"Cache", &cfg.Cache},
		{"Auth", &cfg.Auth},
		{"Analytics", &cfg.Analytics},
		{"RateLimit", &cfg.RateLimit},
		{"Cleanup", &cfg.Cleanup},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if v, ok := s.target.(validator); ok {
			if err := v.Validate(); err != nil {
				return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
			}
		}
	}

	if cfg.Storage.Backend == BackendPostgres && cfg.Database.PrimaryDSN == "" {
		return nil, fmt.Errorf("invalid Database config: DB_PRIMARY_DSN is required for the postgres backend")
	}
	if cfg.Analytics.Mode == AnalyticsStream && !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("invalid Analytics config: stream mode requires REDIS_ADDR")
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
