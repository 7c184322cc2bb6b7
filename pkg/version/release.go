package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v72/github"
	"github.com/lissto-dev/updater/pkg/logging"
	"go.uber.org/zap"
)

const releaseUserAgent = "lissto-updater/1.0"

// ReleaseProvider picks the newest published release of a GitHub repository
type ReleaseProvider struct {
	config     ReleaseConfig
	httpClient *http.Client
}

// NewReleaseProvider creates a release provider
func NewReleaseProvider(cfg ReleaseConfig, client *http.Client) *ReleaseProvider {
	return &ReleaseProvider{config: cfg, httpClient: client}
}

func (p *ReleaseProvider) Kind() SourceKind {
	return SourceRelease
}

func (p *ReleaseProvider) Timeout() time.Duration {
	return DefaultProviderTimeout
}

func (p *ReleaseProvider) client() (*github.Client, error) {
	client := github.NewClient(p.httpClient)
	client.UserAgent = releaseUserAgent
	if p.config.Token != "" {
		client = client.WithAuthToken(p.config.Token)
	}
	if p.config.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(p.config.BaseURL, "/") + "/")
		if err != nil {
			return nil, InvalidInput("invalid release API URL %q: %v", p.config.BaseURL, err)
		}
		client.BaseURL = base
	}
	return client, nil
}

// selectRelease returns the first release that is neither a draft nor an
// excluded prerelease. The listing is already ordered newest first.
func (p *ReleaseProvider) selectRelease(releases []*github.RepositoryRelease) *github.RepositoryRelease {
	for _, release := range releases {
		if release == nil || release.GetDraft() {
			continue
		}
		if release.GetPrerelease() && !p.config.IncludePrerelease {
			continue
		}
		return release
	}
	return nil
}

// FetchLatest lists releases and returns the newest eligible one
func (p *ReleaseProvider) FetchLatest(ctx context.Context) (Candidate, error) {
	client, err := p.client()
	if err != nil {
		return Candidate{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	logging.Logger.Debug("Listing releases",
		zap.String("owner", p.config.Owner),
		zap.String("repo", p.config.Repo),
		zap.Bool("authenticated", p.config.Token != ""))

	releases, _, err := client.Repositories.ListReleases(ctx, p.config.Owner, p.config.Repo, &github.ListOptions{PerPage: 30})
	if err != nil {
		return Candidate{}, p.classify(err)
	}

	release := p.selectRelease(releases)
	if release == nil {
		return Candidate{}, Parse("no matching releases found")
	}

	tag := release.GetTagName()
	reference := release.GetHTMLURL()
	if reference == "" {
		reference = fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", p.config.Owner, p.config.Repo, tag)
	}

	candidate := Candidate{
		Source:       SourceRelease,
		Version:      tag,
		ReleaseNotes: release.GetBody(),
		RawReference: reference,
	}
	if published := release.GetPublishedAt(); !published.IsZero() {
		candidate.PublishedAt = published.UTC().Format(time.RFC3339)
	}

	return candidate, nil
}

func (p *ReleaseProvider) classify(err error) *Error {
	var (
		errResp   *github.ErrorResponse
		rateErr   *github.RateLimitError
		abuseErr  *github.AbuseRateLimitError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return &Error{Code: CodeSourceUnavailable, Message: fmt.Sprintf("release API rate limited: %v", err), Err: err}
	case errors.As(err, &errResp):
		status := 0
		if errResp.Response != nil {
			status = errResp.Response.StatusCode
		}
		return &Error{Code: CodeSourceUnavailable, Message: fmt.Sprintf("release API returned status: %d", status), Err: err}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return &Error{Code: CodeParse, Message: fmt.Sprintf("failed to parse release response: %v", err), Err: err}
	default:
		return transportError("release API", p.config.Owner+"/"+p.config.Repo, err)
	}
}
