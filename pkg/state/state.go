package state

import (
	"context"
	"time"

	"github.com/lissto-dev/updater/pkg/cache"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/version"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Runtime is the process-wide shared state: the check cache and the update
// lock table. Create one at startup and pass it to every entry point.
type Runtime struct {
	checks *cache.MemoryCache[version.CheckResponse]
	locks  *Locks
}

// Option customizes a Runtime
type Option func(*options)

type options struct {
	clock       clock.PassiveClock
	lockTimeout time.Duration
}

// WithClock drives cache and lock expiry from clk
func WithClock(clk clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithLockTimeout overrides the stale-lock timeout
func WithLockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = timeout
	}
}

// NewRuntime creates the shared runtime state
func NewRuntime(opts ...Option) *Runtime {
	o := options{clock: clock.RealClock{}, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runtime{
		checks: cache.NewMemoryCacheWithClock[version.CheckResponse](o.clock),
		locks:  NewLocks(o.lockTimeout, o.clock),
	}
}

// CachedCheck returns a copy of the cached response for imageKey if younger than ttl
func (r *Runtime) CachedCheck(imageKey string, ttl time.Duration) (version.CheckResponse, bool) {
	resp, ok := r.checks.Get(imageKey, ttl)
	if !ok {
		return version.CheckResponse{}, false
	}
	return resp.Clone(), true
}

// CacheCheck stores a copy of resp under imageKey
func (r *Runtime) CacheCheck(imageKey string, resp version.CheckResponse) {
	r.checks.Put(imageKey, resp.Clone())
}

// PruneCache drops cache entries older than ttl
func (r *Runtime) PruneCache(ttl time.Duration) int {
	return r.checks.Prune(ttl)
}

// Locks exposes the update lock table
func (r *Runtime) Locks() *Locks {
	return r.locks
}

// TryLockUpdate acquires the update lock for imageKey
func (r *Runtime) TryLockUpdate(imageKey, operationID string) error {
	if err := r.locks.TryLock(imageKey, operationID); err != nil {
		return err
	}
	logging.Logger.Info("Update lock acquired",
		zap.String("image_key", imageKey),
		zap.String("operation_id", operationID))
	return nil
}

// UnlockUpdate releases the update lock held by operationID
func (r *Runtime) UnlockUpdate(imageKey, operationID string) bool {
	released := r.locks.Unlock(imageKey, operationID)
	logging.Logger.Info("Update lock released",
		zap.String("image_key", imageKey),
		zap.String("operation_id", operationID),
		zap.Bool("released", released))
	return released
}

// RunJanitor prunes expired cache entries every interval until ctx is done
func (r *Runtime) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cleaned := r.PruneCache(ttl); cleaned > 0 {
				logging.Logger.Debug("Cleaned expired cache entries",
					zap.Int("count", cleaned))
			}
		}
	}
}
