package state

import (
	"sync"
	"time"

	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/version"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// DefaultLockTimeout is how long a lock is honoured before it is considered stale
const DefaultLockTimeout = 15 * time.Minute

// UpdateLock marks an image as being updated by one operation
type UpdateLock struct {
	OperationID string    `json:"operationId"`
	ImageKey    string    `json:"imageKey"`
	LockedAt    time.Time `json:"lockedAt"`
}

// Locks is a table of per-image update locks
type Locks struct {
	mu      sync.Mutex
	locks   map[string]UpdateLock
	timeout time.Duration
	clock   clock.PassiveClock
}

// NewLocks creates a lock table whose entries go stale after timeout
func NewLocks(timeout time.Duration, clk clock.PassiveClock) *Locks {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Locks{
		locks:   make(map[string]UpdateLock),
		timeout: timeout,
		clock:   clk,
	}
}

func (l *Locks) stale(lock UpdateLock) bool {
	return l.clock.Since(lock.LockedAt) > l.timeout
}

// TryLock acquires the lock for imageKey or fails with an update conflict
// naming the current holder. Stale locks anywhere in the table are dropped first.
func (l *Locks) TryLock(imageKey, operationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, lock := range l.locks {
		if l.stale(lock) {
			logging.Logger.Warn("Reclaiming stale update lock",
				zap.String("image_key", key),
				zap.String("operation_id", lock.OperationID),
				zap.Time("locked_at", lock.LockedAt))
			delete(l.locks, key)
		}
	}

	if existing, ok := l.locks[imageKey]; ok {
		return version.UpdateConflict(imageKey, existing.OperationID)
	}

	l.locks[imageKey] = UpdateLock{
		OperationID: operationID,
		ImageKey:    imageKey,
		LockedAt:    l.clock.Now(),
	}
	return nil
}

// Unlock releases the lock for imageKey if it is held by operationID.
// It reports whether a lock was released.
func (l *Locks) Unlock(imageKey, operationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.locks[imageKey]
	if !ok || existing.OperationID != operationID {
		return false
	}
	delete(l.locks, imageKey)
	return true
}

// ForceUnlock releases the lock for imageKey regardless of its owner
func (l *Locks) ForceUnlock(imageKey string) (UpdateLock, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.locks[imageKey]
	if ok {
		delete(l.locks, imageKey)
	}
	return existing, ok
}

// Get returns the live lock for imageKey, ignoring stale ones
func (l *Locks) Get(imageKey string) (UpdateLock, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.locks[imageKey]
	if !ok || l.stale(existing) {
		return UpdateLock{}, false
	}
	return existing, true
}
