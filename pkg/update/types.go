package update

import (
	"time"

	"github.com/lissto-dev/updater/pkg/version"
)

// Step names as they appear in step logs
const (
	StepGitPull     = "git_pull"
	StepDockerBuild = "docker_build"
	StepBackup      = "backup_container"
	StepDockerRun   = "docker_run"
	StepHealthCheck = "health_check"
	StepCleanup     = "cleanup_backup"
	StepRollback    = "rollback"
)

// Workflow describes how the replacement container is produced and started
type Workflow struct {
	PullPath     string   `json:"pullPath" validate:"required"`
	Branch       string   `json:"branch" validate:"required"`
	BuildContext string   `json:"buildContext" validate:"required"`
	Dockerfile   string   `json:"dockerfile" validate:"required"`
	NewImageTag  string   `json:"newImageTag" validate:"required"`
	RunArgs      []string `json:"runArgs"`
	// HealthCheckCmd is run inside the new container once it reports running
	HealthCheckCmd string `json:"healthCheckCmd,omitempty"`
}

// Timeouts bound each step in milliseconds; zero means unbounded
type Timeouts struct {
	GitPullMs     int64 `json:"gitPullMs" validate:"min=0"`
	DockerBuildMs int64 `json:"dockerBuildMs" validate:"min=0"`
	DockerStopMs  int64 `json:"dockerStopMs" validate:"min=0"`
	DockerRunMs   int64 `json:"dockerRunMs" validate:"min=0"`
	HealthCheckMs int64 `json:"healthCheckMs" validate:"min=0"`
}

func ms(v int64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

// RollbackPolicy controls compensation after a failed replacement
type RollbackPolicy struct {
	Enabled           bool `json:"enabled"`
	KeepBackupMinutes int  `json:"keepBackupMinutes" validate:"min=0"`
}

// Request asks for an in-place update of a running container
type Request struct {
	OperationID    string                `json:"operationId,omitempty"`
	Image          version.ImageIdentity `json:"image"`
	Source         version.SourceKind    `json:"source,omitempty"`
	TargetVersion  string                `json:"targetVersion,omitempty"`
	Workflow       Workflow              `json:"workflow"`
	Timeouts       Timeouts              `json:"timeouts"`
	RollbackPolicy RollbackPolicy        `json:"rollbackPolicy"`
}

// StepLog is the audit record of one pipeline step
type StepLog struct {
	Step      string `json:"step"`
	Command   string `json:"command,omitempty"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// RollbackResult reports the compensation outcome; the zero value means none was attempted
type RollbackResult struct {
	Attempted       bool   `json:"attempted"`
	Restored        bool   `json:"restored"`
	BackupContainer string `json:"backupContainer,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Response is the full outcome of an update, including every attempted step
type Response struct {
	OperationID   string         `json:"operationId"`
	ImageKey      string         `json:"imageKey"`
	Success       bool           `json:"success"`
	FinalImageRef string         `json:"finalImageRef,omitempty"`
	StepLogs      []StepLog      `json:"stepLogs"`
	Rollback      RollbackResult `json:"rollback"`
}

// succeeded reports whether every logged step is ok or skipped
func succeeded(logs []StepLog) bool {
	for _, log := range logs {
		if !log.OK && !log.Skipped {
			return false
		}
	}
	return true
}
