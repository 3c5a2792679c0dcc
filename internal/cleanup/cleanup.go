package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/elga-io/corgi/internal/lock"
	"github.com/elga-io/corgi/internal/logger"
)

const LockKey = "lock:cleanup"

type Purger interface {
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// Worker hard-deletes links that were soft-deleted more than retention
// ago, freeing their keywords. With a Locker only one instance purges per
// run.
type Worker struct {
	store     Purger
	locker    Locker
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewWorker builds a worker. locker may be nil on single-node setups.
func NewWorker(store Purger, locker Locker, retention time.Duration, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		store:     store,
		locker:    locker,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// RunOnce purges once. It reports zero and no error when another instance
// holds the lock.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	var purged int64
	purge := func(ctx context.Context) error {
		n, err := w.store.PurgeDeleted(ctx, w.now().Add(-w.retention))
		purged = n
		return err
	}

	if w.locker == nil {
		err := purge(ctx)
		return purged, err
	}

	err := w.locker.WithLock(ctx, purge)
	if errors.Is(err, lock.ErrLockNotAcquired) {
		w.log.Info("Cleanup already running on another instance, skipping")
		return 0, nil
	}
	return purged, err
}

// Run purges immediately and then every interval until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.runLogged(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	w.log.Info("Starting cleanup of links deleted more than %s ago", w.retention)
	n, err := w.RunOnce(ctx)
	if err != nil {
		w.log.Error("Cleanup failed: %v", err)
		return
	}
	if n > 0 {
		w.log.Info("Purged %d deleted links", n)
	} else {
		w.log.Info("No deleted links to purge")
	}
}
