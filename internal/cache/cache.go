package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elga-io/corgi/internal/logger"
)

// Entry is what the redirect path needs to know about a code. Found is
// false for negative entries.
type Entry struct {
	LinkID string `json:"id,omitempty"`
	URL    string `json:"url,omitempty"`
	Active bool   `json:"active"`
	Found  bool   `json:"found"`
}

type Config struct {
	L1Capacity  int
	L1TTL       time.Duration
	L2TTL       time.Duration
	NegativeTTL time.Duration
	// Channel carries invalidated keys between instances. Empty disables it.
	Channel string
}

// Cache is a two-tier link cache: an in-process LRU in front of Redis.
// Redis is optional; a nil client leaves the L1 tier only.
type Cache struct {
	l1    *LRU[Entry]
	l2    *redis.Client
	cfg   Config
	log   *logger.Logger
	epoch atomic.Uint64
}

func New(cfg Config, rdb *redis.Client, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		l1:  NewLRU[Entry](cfg.L1Capacity),
		l2:  rdb,
		cfg: cfg,
		log: log,
	}
}

func Key(domain, keyword string) string {
	return "corgi:link:" + domain + ":" + keyword
}

func (c *Cache) ttl(e Entry, l2 bool) time.Duration {
	switch {
	case !e.Found:
		return c.cfg.NegativeTTL
	case l2:
		return c.cfg.L2TTL
	default:
		return c.cfg.L1TTL
	}
}

// Get checks L1, then L2. An L2 failure is returned with ok == false so
// the caller can fall back to the store.
func (c *Cache) Get(ctx context.Context, domain, keyword string) (Entry, bool, error) {
	key := Key(domain, keyword)
	if e, ok := c.l1.Get(key); ok {
		return e, true, nil
	}
	if c.l2 == nil {
		return Entry{}, false, nil
	}

	epoch := c.epoch.Load()
	raw, err := c.l2.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("l2 get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("l2 decode: %w", err)
	}
	c.setL1(key, epoch, e)
	return e, true, nil
}

// Version is the cache state a store read started from. Fill refuses to
// cache the read if the code was invalidated since, in this process or
// any other.
type Version struct {
	epoch uint64
	gen   string
	known bool
}

// generationTTL must exceed the longest store read plus fill.
const generationTTL = 24 * time.Hour

// GenKey holds the invalidation count for a code.
func GenKey(domain, keyword string) string {
	return Key(domain, keyword) + ":gen"
}

// fillScript sets KEYS[1] only while the generation in KEYS[2] still
// matches ARGV[1]. Returns 0 when the generation moved on.
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3], "NX")
return 1
`)

// Version must be taken before reading the store. After an L2 error the
// returned Version makes Fill a no-op.
func (c *Cache) Version(ctx context.Context, domain, keyword string) (Version, error) {
	v := Version{epoch: c.epoch.Load()}
	if c.l2 == nil {
		v.known = true
		return v, nil
	}

	gen, err := c.l2.Get(ctx, GenKey(domain, keyword)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		v.gen, v.known = "0", true
	case err != nil:
		return v, fmt.Errorf("l2 generation: %w", err)
	default:
		v.gen, v.known = gen, true
	}
	return v, nil
}

// Fill stores e unless the code was invalidated after v was taken, in
// which case the value read from the store may already be stale.
func (c *Cache) Fill(ctx context.Context, v Version, domain, keyword string, e Entry) error {
	if c.epoch.Load() != v.epoch {
		return nil
	}
	key := Key(domain, keyword)

	if c.l2 != nil {
		if !v.known {
			return nil
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		ttl := c.ttl(e, true).Milliseconds()
		set, err := fillScript.Run(ctx, c.l2, []string{key, GenKey(domain, keyword)}, v.gen, data, ttl).Int()
		if err != nil {
			return fmt.Errorf("l2 set: %w", err)
		}
		if set == 0 {
			return nil
		}
	}

	c.setL1(key, v.epoch, e)
	return nil
}

// setL1 undoes its own write if an invalidation raced it.
func (c *Cache) setL1(key string, epoch uint64, e Entry) {
	c.l1.Set(key, e, c.ttl(e, false))
	if c.epoch.Load() != epoch {
		c.l1.Delete(key)
	}
}

// Invalidate drops the entry everywhere and tells other instances to drop
// their L1 copy. Bumping the generation first fences off fills that read
// the store before this call.
func (c *Cache) Invalidate(ctx context.Context, domain, keyword string) error {
	key := Key(domain, keyword)
	c.epoch.Add(1)
	c.l1.Delete(key)
	if c.l2 == nil {
		return nil
	}

	gen := GenKey(domain, keyword)
	_, err := c.l2.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, generationTTL)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("l2 invalidate: %w", err)
	}
	if c.cfg.Channel != "" {
		if err := c.l2.Publish(ctx, c.cfg.Channel, key).Err(); err != nil {
			return fmt.Errorf("publish invalidation: %w", err)
		}
	}
	return nil
}

// Listen applies invalidations published by other instances until ctx is
// done.
func (c *Cache) Listen(ctx context.Context) error {
	if c.l2 == nil || c.cfg.Channel == "" {
		<-ctx.Done()
		return nil
	}

	sub := c.l2.Subscribe(ctx, c.cfg.Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Channel, err)
	}
	c.log.Info("Listening for cache invalidations on %s", c.cfg.Channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.epoch.Add(1)
			c.l1.Delete(msg.Payload)
		}
	}
}

func (c *Cache) Len() int {
	return c.l1.Len()
}
