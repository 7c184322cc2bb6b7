package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lissto-dev/updater/pkg/logging"
	"go.uber.org/zap"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the process is killed
const waitDelay = 2 * time.Second

// ErrTimeout is wrapped by Run when the command was killed by its deadline
var ErrTimeout = errors.New("command timed out")

// Command describes an external command invocation
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one
	Dir string
	// Timeout kills the process when exceeded; zero means no timeout
	Timeout time.Duration
}

// String renders the command the way an operator would type it
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result captures the output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports a zero exit code
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Combined joins stdout and stderr
func (r Result) Combined() string {
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes external commands.
// A non-zero exit is reported through Result, not as an error; errors mean the
// process could not be started or was killed by its context.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands on the local host
type ExecRunner struct{}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd and waits for it, killing it when ctx or cmd.Timeout expire
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	started := time.Now()
	err := c.Run()
	result := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	logging.Logger.Debug("Command finished",
		zap.String("command", cmd.String()),
		zap.String("dir", cmd.Dir),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err))

	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%s: %w", cmd.String(), ErrTimeout)
		}
		return result, fmt.Errorf("%s: %w", cmd.String(), ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
	}

	return result, nil
}
