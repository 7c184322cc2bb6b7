package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/process"
	"go.uber.org/zap"
)

const (
	defaultRemote   = "origin"
	shortHashLen    = 8
	noCommitSubject = "(no message)"
)

// LocalRepositoryProvider reports the version available on a git remote
// relative to a local checkout
type LocalRepositoryProvider struct {
	config LocalRepositoryConfig
	runner process.Runner
}

// NewLocalRepositoryProvider creates a local repository provider
func NewLocalRepositoryProvider(cfg LocalRepositoryConfig, runner process.Runner) *LocalRepositoryProvider {
	return &LocalRepositoryProvider{config: cfg, runner: runner}
}

func (p *LocalRepositoryProvider) Kind() SourceKind {
	return SourceLocalRepository
}

func (p *LocalRepositoryProvider) Timeout() time.Duration {
	return LocalRepositoryTimeout
}

func (p *LocalRepositoryProvider) remote() string {
	if p.config.Remote != "" {
		return p.config.Remote
	}
	return defaultRemote
}

func (p *LocalRepositoryProvider) validateRepoPath() error {
	if _, err := os.Stat(p.config.RepoPath); err != nil {
		return InvalidInput("git repository path does not exist: %s", p.config.RepoPath)
	}
	if _, err := os.Stat(filepath.Join(p.config.RepoPath, ".git")); err != nil {
		return InvalidInput("not a git repository: %s", p.config.RepoPath)
	}
	return nil
}

func (p *LocalRepositoryProvider) git(ctx context.Context, args ...string) (string, error) {
	cmd := process.Command{Name: "git", Args: args, Dir: p.config.RepoPath}
	result, err := p.runner.Run(ctx, cmd)
	if err != nil {
		if isTimeout(err) {
			return "", &Error{Code: CodeSourceTimeout, Message: fmt.Sprintf("%s timed out", cmd), Err: err}
		}
		return "", &Error{Code: CodeSourceUnavailable, Message: err.Error(), Err: err}
	}
	if !result.Success() {
		return "", StepFailed(cmd.String(), result.Stderr)
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (p *LocalRepositoryProvider) readVersionFile() (string, bool, error) {
	if p.config.VersionFile == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(p.config.RepoPath, p.config.VersionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, SourceUnavailable("failed to read version file: %v", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (p *LocalRepositoryProvider) latestTag(ctx context.Context) (string, bool, error) {
	out, err := p.git(ctx, "tag", "--sort=-v:refname")
	if err != nil {
		return "", false, err
	}
	first, _, _ := strings.Cut(out, "\n")
	first = strings.TrimSpace(first)
	return first, first != "", nil
}

func shortHash(commit string) string {
	if len(commit) > shortHashLen {
		return commit[:shortHashLen]
	}
	return commit
}

// FetchLatest syncs remote refs and derives the version available upstream
func (p *LocalRepositoryProvider) FetchLatest(ctx context.Context) (Candidate, error) {
	if err := p.validateRepoPath(); err != nil {
		return Candidate{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	remote := p.remote()
	if _, err := p.git(ctx, "fetch", "--tags", "--prune", remote); err != nil {
		return Candidate{}, err
	}

	localCommit, err := p.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return Candidate{}, err
	}
	remoteCommit, err := p.git(ctx, "rev-parse", remote+"/"+p.config.Branch)
	if err != nil {
		return Candidate{}, err
	}

	version, found, err := p.readVersionFile()
	if err != nil {
		return Candidate{}, err
	}
	if !found {
		version, found, err = p.latestTag(ctx)
		if err != nil {
			return Candidate{}, err
		}
	}
	if !found {
		version = shortHash(remoteCommit)
	}

	countOut, err := p.git(ctx, "rev-list", "--count", localCommit+".."+remoteCommit)
	if err != nil {
		return Candidate{}, err
	}
	behind, err := strconv.Atoi(countOut)
	if err != nil {
		return Candidate{}, Parse("failed to parse commit count %q: %v", countOut, err)
	}

	subject, subjectErr := p.git(ctx, "log", "-1", "--pretty=format:%s", remoteCommit)

	var notes string
	switch {
	case behind > 0 && subjectErr != nil:
		notes = fmt.Sprintf("%d commits behind. Latest: %s", behind, noCommitSubject)
	case behind > 0:
		notes = fmt.Sprintf("%d commits behind. Latest: %s", behind, subject)
	case subjectErr == nil:
		notes = subject
	}

	logging.Logger.Debug("Local repository inspected",
		zap.String("path", p.config.RepoPath),
		zap.String("branch", p.config.Branch),
		zap.String("local", shortHash(localCommit)),
		zap.String("remote", shortHash(remoteCommit)),
		zap.Int("behind", behind))

	return Candidate{
		Source:       SourceLocalRepository,
		Version:      version,
		Digest:       remoteCommit,
		ReleaseNotes: notes,
		RawReference: fmt.Sprintf("%s@%s", p.config.Branch, shortHash(remoteCommit)),
	}, nil
}
