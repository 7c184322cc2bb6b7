package version

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lissto-dev/updater/pkg/process"
)

const (
	// DefaultProviderTimeout applies to network-backed sources
	DefaultProviderTimeout = 8 * time.Second
	// LocalRepositoryTimeout covers the several sequential git invocations
	LocalRepositoryTimeout = 30 * time.Second
)

// Provider yields the latest version candidate from a single source
type Provider interface {
	Kind() SourceKind
	FetchLatest(ctx context.Context) (Candidate, error)
	Timeout() time.Duration
}

// providerDeps are the collaborators shared by all providers
type providerDeps struct {
	httpClient *http.Client
	runner     process.Runner
}

// ProviderOption customizes provider construction
type ProviderOption func(*providerDeps)

// WithHTTPClient overrides the HTTP client used by network-backed providers
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(d *providerDeps) {
		d.httpClient = client
	}
}

// WithRunner overrides the process runner used by the local repository provider
func WithRunner(runner process.Runner) ProviderOption {
	return func(d *providerDeps) {
		d.runner = runner
	}
}

// NewProvider builds the provider matching the config's kind
func NewProvider(cfg SourceConfig, opts ...ProviderOption) (Provider, error) {
	deps := providerDeps{
		httpClient: &http.Client{},
		runner:     process.NewExecRunner(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	switch cfg.Kind {
	case SourceRegistryTags:
		if cfg.RegistryTags == nil {
			return nil, InvalidInput("registry tags source is missing its config")
		}
		return NewRegistryTagsProvider(*cfg.RegistryTags, deps.httpClient), nil
	case SourceRelease:
		if cfg.Release == nil {
			return nil, InvalidInput("release source is missing its config")
		}
		return NewReleaseProvider(*cfg.Release, deps.httpClient), nil
	case SourceLocalRepository:
		if cfg.LocalRepository == nil {
			return nil, InvalidInput("local repository source is missing its config")
		}
		return NewLocalRepositoryProvider(*cfg.LocalRepository, deps.runner), nil
	case SourceCustomAPI:
		if cfg.CustomAPI == nil {
			return nil, InvalidInput("custom API source is missing its config")
		}
		return NewCustomAPIProvider(*cfg.CustomAPI, deps.httpClient), nil
	default:
		return nil, InvalidInput("unknown source kind %q", cfg.Kind)
	}
}

// transportError normalizes a failed HTTP exchange into the error taxonomy
func transportError(source, target string, err error) *Error {
	if isTimeout(err) {
		return &Error{Code: CodeSourceTimeout, Message: fmt.Sprintf("%s timeout: %s", source, target), Err: err}
	}
	return &Error{Code: CodeSourceUnavailable, Message: fmt.Sprintf("%s error: %v", source, err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, process.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
