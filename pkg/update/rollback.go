package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lissto-dev/updater/pkg/docker"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/version"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// BackupName derives the name the running container is moved to during an update
func BackupName(container, operationID string) string {
	return fmt.Sprintf("%s-backup-%s", container, operationID)
}

// RollbackManager moves the current container aside before replacement and
// restores it if the replacement fails
type RollbackManager struct {
	engine      docker.Engine
	clock       clock.PassiveClock
	container   string
	backup      string
	callTimeout time.Duration
	backedUp    bool
}

// NewRollbackManager creates a manager for one operation on container.
// Each engine call is bounded by callTimeout when it is positive.
func NewRollbackManager(engine docker.Engine, container, operationID string, callTimeout time.Duration) *RollbackManager {
	return &RollbackManager{
		engine:      engine,
		clock:       clock.RealClock{},
		container:   container,
		backup:      BackupName(container, operationID),
		callTimeout: callTimeout,
	}
}

// BackupContainer returns the backup container name
func (m *RollbackManager) BackupContainer() string {
	return m.backup
}

func (m *RollbackManager) call(ctx context.Context, fn func(context.Context) error) error {
	if m.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// Backup renames the current container to the backup name. A missing
// container yields a skipped step.
func (m *RollbackManager) Backup(ctx context.Context) StepLog {
	start := m.clock.Now()
	log := StepLog{
		Step:    StepBackup,
		Command: fmt.Sprintf("docker inspect %s", m.container),
	}

	var exists bool
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		exists, err = m.engine.Exists(ctx, m.container)
		return err
	})
	if err != nil {
		log.Error = fmt.Sprintf("Failed to check container: %v", err)
		log.ElapsedMs = m.clock.Since(start).Milliseconds()
		return log
	}
	if !exists {
		log.OK = true
		log.Skipped = true
		log.Output = "Container does not exist, skipping backup"
		log.ElapsedMs = m.clock.Since(start).Milliseconds()
		return log
	}

	log.Command = fmt.Sprintf("docker rename %s %s", m.container, m.backup)
	err = m.call(ctx, func(ctx context.Context) error {
		return m.engine.Rename(ctx, m.container, m.backup)
	})
	log.ElapsedMs = m.clock.Since(start).Milliseconds()
	if err != nil {
		log.Error = fmt.Sprintf("Failed to backup container: %v", err)
		return log
	}

	m.backedUp = true
	log.OK = true
	log.Output = fmt.Sprintf("Container %s renamed to %s", m.container, m.backup)
	logging.Logger.Info("Container backed up",
		zap.String("container", m.container),
		zap.String("backup", m.backup))
	return log
}

// Rollback removes the failed replacement, renames the backup back and starts
// it. The first failure ends the sequence; nothing is retried.
func (m *RollbackManager) Rollback(ctx context.Context) RollbackResult {
	result := RollbackResult{Attempted: true, BackupContainer: m.backup}

	err := m.call(ctx, func(ctx context.Context) error {
		return m.engine.Remove(ctx, m.container)
	})
	if err != nil && !errors.Is(err, docker.ErrNotFound) {
		result.Error = version.RollbackFailed("Failed to remove failed container: %v", err).Error()
		m.logRollback(result)
		return result
	}

	if !m.backedUp {
		result.Error = version.RollbackFailed("No backup container to restore for %s", m.container).Error()
		m.logRollback(result)
		return result
	}

	err = m.call(ctx, func(ctx context.Context) error {
		return m.engine.Rename(ctx, m.backup, m.container)
	})
	if err != nil {
		result.Error = version.RollbackFailed("Failed to restore backup container: %v", err).Error()
		m.logRollback(result)
		return result
	}

	err = m.call(ctx, func(ctx context.Context) error {
		return m.engine.Start(ctx, m.container)
	})
	if err != nil {
		result.Error = version.RollbackFailed("Failed to start restored container: %v", err).Error()
		m.logRollback(result)
		return result
	}

	m.backedUp = false
	result.Restored = true
	m.logRollback(result)
	return result
}

func (m *RollbackManager) logRollback(result RollbackResult) {
	if result.Restored {
		logging.Logger.Info("Rollback restored previous container",
			zap.String("container", m.container),
			zap.String("backup", m.backup))
		return
	}
	logging.Logger.Error("Rollback did not restore previous container, manual recovery required",
		zap.String("container", m.container),
		zap.String("backup", m.backup),
		zap.String("error", result.Error))
}

// CleanupBackup force-removes the backup container. After this no rollback is possible.
func (m *RollbackManager) CleanupBackup(ctx context.Context) error {
	err := m.call(ctx, func(ctx context.Context) error {
		return m.engine.Remove(ctx, m.backup)
	})
	if err != nil {
		return version.StepFailed(StepCleanup, fmt.Sprintf("Failed to cleanup backup: %v", err))
	}
	m.backedUp = false
	logging.Logger.Info("Backup container removed", zap.String("backup", m.backup))
	return nil
}
