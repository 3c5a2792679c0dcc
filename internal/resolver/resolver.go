package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/elga-io/corgi/internal/cache"
	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/logger"
	"github.com/elga-io/corgi/internal/models"
)

var (
	ErrNotFound = errors.New("short link not found")
	// ErrInactive carries errx.NotFound as well; callers that care can
	// tell the two apart with errors.Is.
	ErrInactive = errors.New("short link is inactive")
)

type LinkReader interface {
	GetByCode(ctx context.Context, domain, keyword string) (*models.Link, error)
}

// Cache is the subset of *cache.Cache the resolver uses.
type Cache interface {
	Get(ctx context.Context, domain, keyword string) (cache.Entry, bool, error)
	Version(ctx context.Context, domain, keyword string) (cache.Version, error)
	Fill(ctx context.Context, v cache.Version, domain, keyword string, e cache.Entry) error
	Invalidate(ctx context.Context, domain, keyword string) error
}

type Config struct {
	// LookupTimeout bounds a cache read; on expiry the store is asked.
	LookupTimeout time.Duration
	// StoreTimeout bounds a store read; on expiry Resolve is Unavailable.
	StoreTimeout time.Duration
}

type Target struct {
	LinkID  string
	Domain  string
	Keyword string
	URL     string
}

// Resolver turns (domain, keyword) into a destination. Concurrent misses
// for the same code share one store read.
type Resolver struct {
	store LinkReader
	cache Cache
	cfg   Config
	log   *logger.Logger
	group singleflight.Group
}

func New(store LinkReader, c Cache, cfg Config, log *logger.Logger) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 50 * time.Millisecond
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{store: store, cache: c, cfg: cfg, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, domain, keyword string) (Target, error) {
	const op = "resolver.Resolve"
	domain = strings.ToLower(domain)

	if r.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
		e, ok, err := r.cache.Get(cctx, domain, keyword)
		cancel()
		if err != nil {
			r.log.Warn("Cache lookup for %s/%s failed, reading store: %v", domain, keyword, err)
		}
		if ok {
			return target(op, domain, keyword, e)
		}
	}

	ch := r.group.DoChan(cache.Key(domain, keyword), func() (any, error) {
		return r.load(ctx, domain, keyword)
	})

	select {
	case <-ctx.Done():
		return Target{}, errx.E(op, errx.Unavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Target{}, errx.Wrap(op, res.Err)
		}
		return target(op, domain, keyword, res.Val.(cache.Entry))
	}
}

// load reads the store and fills the cache. It runs detached from the
// caller's cancellation since other callers may be waiting on it.
func (r *Resolver) load(ctx context.Context, domain, keyword string) (cache.Entry, error) {
	var version cache.Version
	if r.cache != nil {
		vctx, vcancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LookupTimeout)
		v, err := r.cache.Version(vctx, domain, keyword)
		vcancel()
		if err != nil {
			r.log.Warn("Cache version for %s/%s failed: %v", domain, keyword, err)
		}
		version = v
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
	defer cancel()

	var e cache.Entry
	l, err := r.store.GetByCode(sctx, domain, keyword)
	switch {
	case err == nil:
		e = cache.Entry{LinkID: l.ID, URL: l.URL, Active: l.Active, Found: true}
	case errx.KindOf(err) == errx.NotFound:
		e = cache.Entry{Found: false}
	case errors.Is(err, context.DeadlineExceeded):
		return cache.Entry{}, errx.E("resolver.load", errx.Unavailable, err)
	default:
		return cache.Entry{}, err
	}

	if r.cache != nil {
		fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LookupTimeout)
		if err := r.cache.Fill(fctx, version, domain, keyword, e); err != nil {
			r.log.Warn("Cache fill for %s/%s failed: %v", domain, keyword, err)
		}
		fcancel()
	}
	return e, nil
}

func target(op, domain, keyword string, e cache.Entry) (Target, error) {
	if !e.Found {
		return Target{}, errx.E(op, errx.NotFound, ErrNotFound)
	}
	if !e.Active {
		return Target{}, errx.E(op, errx.NotFound, ErrInactive)
	}
	return Target{LinkID: e.LinkID, Domain: domain, Keyword: keyword, URL: e.URL}, nil
}

// Invalidate drops any cached state for the code. Writers call it before
// acknowledging a change.
func (r *Resolver) Invalidate(ctx context.Context, domain, keyword string) error {
	domain = strings.ToLower(domain)
	r.group.Forget(cache.Key(domain, keyword))
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, domain, keyword)
}
