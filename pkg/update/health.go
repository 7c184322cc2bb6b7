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

const (
	// DefaultHealthInterval is the delay between two state polls
	DefaultHealthInterval = time.Second
	// DefaultHealthTimeout applies when the request sets no health check timeout
	DefaultHealthTimeout = 60 * time.Second
)

// HealthChecker waits for a container to reach the running state
type HealthChecker struct {
	engine   docker.Engine
	clock    clock.Clock
	interval time.Duration
}

// HealthOption customizes a HealthChecker
type HealthOption func(*HealthChecker)

// WithPollInterval overrides DefaultHealthInterval
func WithPollInterval(interval time.Duration) HealthOption {
	return func(h *HealthChecker) {
		if interval > 0 {
			h.interval = interval
		}
	}
}

// WithPollClock drives polling delays from clk
func WithPollClock(clk clock.Clock) HealthOption {
	return func(h *HealthChecker) {
		h.clock = clk
	}
}

// NewHealthChecker creates a checker polling engine every DefaultHealthInterval
func NewHealthChecker(engine docker.Engine, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		engine:   engine,
		clock:    clock.RealClock{},
		interval: DefaultHealthInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WaitUntilHealthy polls the container until it is running, and when cmd is
// set until cmd also exits 0 inside it. It fails with a step failure when
// maxWait elapses or the container cannot be inspected.
func (h *HealthChecker) WaitUntilHealthy(ctx context.Context, name string, maxWait time.Duration, cmd string) error {
	if maxWait <= 0 {
		maxWait = DefaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	start := h.clock.Now()
	timedOut := func() error {
		return version.StepFailed(StepHealthCheck,
			fmt.Sprintf("Container %s did not become healthy within %s", name, maxWait))
	}

	for poll := 1; ; poll++ {
		state, err := h.engine.State(ctx, name)
		switch {
		case err != nil && ctx.Err() != nil:
			return timedOut()
		case errors.Is(err, docker.ErrNotFound):
			return version.StepFailed(StepHealthCheck, fmt.Sprintf("Container %s not found", name))
		case err != nil:
			return version.StepFailed(StepHealthCheck, fmt.Sprintf("Failed to inspect container: %v", err))
		}

		logging.Logger.Debug("Polled container state",
			zap.String("container", name),
			zap.String("state", state),
			zap.Int("poll", poll))

		if state == docker.StateRunning {
			if cmd == "" {
				return nil
			}
			result, err := h.engine.Exec(ctx, name, []string{"sh", "-c", cmd})
			if err == nil && result.Success() {
				return nil
			}
			logging.Logger.Debug("Health command not passing yet",
				zap.String("container", name),
				zap.Int("exit_code", result.ExitCode),
				zap.Error(err))
		}

		remaining := maxWait - h.clock.Since(start)
		if remaining <= 0 {
			return timedOut()
		}
		wait := h.interval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return timedOut()
		case <-h.clock.After(wait):
		}
	}
}
