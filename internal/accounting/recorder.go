package accounting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/elga-io/corgi/internal/events"
	"github.com/elga-io/corgi/internal/logger"
)

type RecorderConfig struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// Recorder takes clicks off the redirect path. Record hands the event to a
// bounded queue and returns at once; a fixed pool of workers publishes.
// Events that do not fit, or that fail every attempt, are dropped and
// counted.
type Recorder struct {
	pub events.Publisher
	cfg RecorderConfig
	log *logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *events.ClickEvent

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewRecorder(pub events.Publisher, cfg RecorderConfig, log *logger.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		pub:    pub,
		cfg:    cfg,
		log:    log,
		queue:  make(chan *events.ClickEvent, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		group:  &errgroup.Group{},
	}
	for i := 0; i < cfg.Workers; i++ {
		r.group.Go(r.work)
	}
	return r
}

// Record enqueues e without blocking. It reports whether the event was
// accepted.
func (r *Recorder) Record(e *events.ClickEvent) bool {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}

	select {
	case r.queue <- e:
		return true
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.log.Warn("Click queue full, dropped %d events so far", n)
		}
		return false
	}
}

func (r *Recorder) work() error {
	for e := range r.queue {
		r.deliver(e)
	}
	return nil
}

func (r *Recorder) deliver(e *events.ClickEvent) {
	if r.ctx.Err() != nil {
		r.failed.Add(1)
		return
	}

	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-r.ctx.Done():
				r.failed.Add(1)
				return
			case <-time.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.PublishTimeout)
		err = r.pub.Publish(ctx, e)
		cancel()
		if err == nil {
			r.published.Add(1)
			return
		}
	}

	r.failed.Add(1)
	r.log.With("link_id", e.LinkID).Warn("Dropping click event %s after %d attempts: %v", e.ID, r.cfg.MaxRetries+1, err)
}

// Close stops accepting events and waits for queued ones to be published.
// When ctx ends first, in-flight publishes are aborted and the rest of the
// queue is discarded.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

type RecorderStats struct {
	Queued    int    `json:"queued"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Queued:    len(r.queue),
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}
