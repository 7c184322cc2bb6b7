package update

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/lissto-dev/updater/pkg/docker"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/metrics"
	"github.com/lissto-dev/updater/pkg/process"
	"github.com/lissto-dev/updater/pkg/version"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Orchestrator runs the update pipeline:
// pull, build, backup, run, health check, then cleanup or rollback.
type Orchestrator struct {
	runner  process.Runner
	engine  docker.Engine
	health  *HealthChecker
	metrics *metrics.Metrics
	clock   clock.WithDelayedExecution
	newID   func() string
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records step durations and outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock drives step timing, health polling and deferred cleanup from clk
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(o *Orchestrator) {
		o.clock = clk
		WithPollClock(clk)(o.health)
	}
}

// WithHealthInterval overrides the health poll interval
func WithHealthInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		WithPollInterval(interval)(o.health)
	}
}

// WithOperationIDs replaces the operation id generator
func WithOperationIDs(gen func() string) Option {
	return func(o *Orchestrator) {
		o.newID = gen
	}
}

// NewOrchestrator creates an orchestrator running commands through runner and
// managing containers through engine
func NewOrchestrator(runner process.Runner, engine docker.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner: runner,
		engine: engine,
		health: NewHealthChecker(engine),
		clock:  clock.RealClock{},
		newID: func() string {
			return "op-" + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func validate(req Request) (string, error) {
	wf := req.Workflow
	switch {
	case req.Image.Repository == "" || req.Image.Tag == "":
		return "", version.InvalidInput("image repository and tag are required")
	case wf.PullPath == "" || wf.Branch == "":
		return "", version.InvalidInput("workflow pullPath and branch are required")
	case wf.BuildContext == "" || wf.Dockerfile == "":
		return "", version.InvalidInput("workflow buildContext and dockerfile are required")
	}
	if _, err := name.ParseReference(wf.NewImageTag); err != nil {
		return "", version.InvalidInput("invalid newImageTag %q: %v", wf.NewImageTag, err)
	}
	container := ContainerName(wf.RunArgs)
	if container == "" {
		return "", version.InvalidInput("runArgs must name the container with --name")
	}
	return container, nil
}

// UpdateAndRestart replaces the running container with one built from the
// updated source. Step failures are reported in the response, not as an
// error; an error means the request was rejected before any step ran.
// Callers must hold the image's update lock for the duration of the call.
func (o *Orchestrator) UpdateAndRestart(ctx context.Context, req Request) (Response, error) {
	container, err := validate(req)
	if err != nil {
		return Response{}, err
	}

	operationID := req.OperationID
	if operationID == "" {
		operationID = o.newID()
	}
	imageKey := req.Image.Key()

	logger := logging.Logger.With(
		zap.String("operation_id", operationID),
		zap.String("image_key", imageKey),
		zap.String("container", container))
	logger.Info("Starting update",
		zap.String("target_version", req.TargetVersion),
		zap.String("new_image", req.Workflow.NewImageTag))

	o.metrics.UpdateStarted()

	p := &pipeline{
		o:         o,
		req:       req,
		container: container,
		logger:    logger,
		rollback:  NewRollbackManager(o.engine, container, operationID, ms(req.Timeouts.DockerStopMs)),
	}
	p.rollback.clock = o.clock
	rollback := p.run(ctx)

	resp := Response{
		OperationID: operationID,
		ImageKey:    imageKey,
		Success:     succeeded(p.logs),
		StepLogs:    p.logs,
		Rollback:    rollback,
	}
	if resp.Success {
		resp.FinalImageRef = req.Workflow.NewImageTag
	}

	outcome := "success"
	switch {
	case resp.Success:
	case rollback.Attempted && rollback.Restored:
		outcome = "rolled_back"
	case rollback.Attempted:
		outcome = "rollback_failed"
	default:
		outcome = "failed"
	}
	o.metrics.UpdateFinished(outcome)
	logger.Info("Update finished",
		zap.Bool("success", resp.Success),
		zap.String("outcome", outcome),
		zap.Int("steps", len(resp.StepLogs)))

	return resp, nil
}

// pipeline holds the state of one update run
type pipeline struct {
	o         *Orchestrator
	req       Request
	container string
	logger    *zap.Logger
	rollback  *RollbackManager
	logs      []StepLog
}

func (p *pipeline) record(log StepLog) bool {
	p.logs = append(p.logs, log)
	p.o.metrics.ObserveStep(log.Step, log.OK, time.Duration(log.ElapsedMs)*time.Millisecond)
	fields := []zap.Field{
		zap.String("step", log.Step),
		zap.Bool("ok", log.OK),
		zap.Bool("skipped", log.Skipped),
		zap.Int64("elapsed_ms", log.ElapsedMs),
	}
	if log.OK || log.Skipped {
		p.logger.Info("Update step finished", fields...)
	} else {
		p.logger.Warn("Update step failed", append(fields, zap.String("error", log.Error))...)
	}
	return log.OK || log.Skipped
}

func (p *pipeline) run(ctx context.Context) RollbackResult {
	wf := p.req.Workflow
	timeouts := p.req.Timeouts

	pull := process.Command{
		Name:    "git",
		Args:    []string{"-C", wf.PullPath, "pull", "--ff-only", "origin", wf.Branch},
		Timeout: ms(timeouts.GitPullMs),
	}
	if !p.record(p.command(ctx, StepGitPull, pull)) {
		return RollbackResult{}
	}

	build := process.Command{
		Name:    "docker",
		Args:    []string{"build", "-t", wf.NewImageTag, "-f", wf.Dockerfile, wf.BuildContext},
		Timeout: ms(timeouts.DockerBuildMs),
	}
	if !p.record(p.command(ctx, StepDockerBuild, build)) {
		return RollbackResult{}
	}

	if !p.record(p.rollback.Backup(ctx)) {
		return RollbackResult{}
	}

	runArgs := append([]string{"run"}, wf.RunArgs...)
	run := process.Command{
		Name:    "docker",
		Args:    append(runArgs, wf.NewImageTag),
		Timeout: ms(timeouts.DockerRunMs),
	}
	if !p.record(p.command(ctx, StepDockerRun, run)) {
		return p.compensate(ctx)
	}

	if !p.record(p.healthCheck(ctx)) {
		return p.compensate(ctx)
	}

	if p.rollback.backedUp {
		p.record(p.cleanup(ctx))
	}
	return RollbackResult{}
}

func (p *pipeline) command(ctx context.Context, step string, cmd process.Command) StepLog {
	start := p.o.clock.Now()
	log := StepLog{Step: step, Command: cmd.String()}

	result, err := p.o.runner.Run(ctx, cmd)
	log.ElapsedMs = p.o.clock.Since(start).Milliseconds()
	log.Output = result.Combined()

	switch {
	case err != nil:
		log.Error = version.StepFailed(step, err.Error()).Error()
	case !result.Success():
		message := fmt.Sprintf("exit code %d", result.ExitCode)
		if output := strings.TrimSpace(log.Output); output != "" {
			message += ": " + output
		}
		log.Error = version.StepFailed(step, message).Error()
	default:
		log.OK = true
	}
	return log
}

func (p *pipeline) healthCheck(ctx context.Context) StepLog {
	start := p.o.clock.Now()
	log := StepLog{
		Step:    StepHealthCheck,
		Command: fmt.Sprintf("docker inspect %s", p.container),
	}

	err := p.o.health.WaitUntilHealthy(ctx, p.container, ms(p.req.Timeouts.HealthCheckMs), p.req.Workflow.HealthCheckCmd)
	log.ElapsedMs = p.o.clock.Since(start).Milliseconds()
	if err != nil {
		log.Error = err.Error()
		return log
	}
	log.OK = true
	log.Output = "Container is healthy"
	return log
}

// compensate restores the backup when the policy allows it
func (p *pipeline) compensate(ctx context.Context) RollbackResult {
	if !p.req.RollbackPolicy.Enabled {
		output := "Rollback disabled by policy"
		if p.rollback.backedUp {
			output = fmt.Sprintf("Rollback disabled by policy, previous container kept as %s", p.rollback.BackupContainer())
		}
		p.record(StepLog{Step: StepRollback, Skipped: true, Output: output})
		return RollbackResult{}
	}
	// a cancelled update must still put the previous container back
	return p.rollback.Rollback(context.WithoutCancel(ctx))
}

func (p *pipeline) cleanup(ctx context.Context) StepLog {
	start := p.o.clock.Now()
	backup := p.rollback.BackupContainer()
	log := StepLog{
		Step:    StepCleanup,
		Command: fmt.Sprintf("docker rm -f %s", backup),
	}

	if keep := p.req.RollbackPolicy.KeepBackupMinutes; keep > 0 {
		delay := time.Duration(keep) * time.Minute
		p.o.clock.AfterFunc(delay, func() {
			if err := p.rollback.CleanupBackup(context.Background()); err != nil {
				p.logger.Warn("Deferred backup cleanup failed", zap.Error(err))
			}
		})
		log.OK = true
		log.Output = fmt.Sprintf("Backup %s scheduled for removal in %d minutes", backup, keep)
		return log
	}

	err := p.rollback.CleanupBackup(ctx)
	log.ElapsedMs = p.o.clock.Since(start).Milliseconds()
	if err != nil {
		// the new container is healthy; a leftover backup does not fail the update
		log.Skipped = true
		log.Error = err.Error()
		log.Output = fmt.Sprintf("Backup %s left in place", backup)
		return log
	}
	log.OK = true
	log.Output = fmt.Sprintf("Backup %s removed", backup)
	return log
}
