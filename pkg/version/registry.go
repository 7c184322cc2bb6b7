package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/lissto-dev/updater/pkg/logging"
	"go.uber.org/zap"
)

const (
	defaultRegistryBaseURL = "https://hub.docker.com"
	defaultTagPageSize     = 100
)

type registryTag struct {
	Name        string `json:"name"`
	LastUpdated string `json:"last_updated"`
	Digest      string `json:"digest,omitempty"`
}

type registryTagsResponse struct {
	Results []registryTag `json:"results"`
}

// RegistryTagsProvider picks the most recently updated tag of a registry repository
type RegistryTagsProvider struct {
	config RegistryTagsConfig
	client *http.Client
}

// NewRegistryTagsProvider creates a registry tag provider
func NewRegistryTagsProvider(cfg RegistryTagsConfig, client *http.Client) *RegistryTagsProvider {
	return &RegistryTagsProvider{config: cfg, client: client}
}

func (p *RegistryTagsProvider) Kind() SourceKind {
	return SourceRegistryTags
}

func (p *RegistryTagsProvider) Timeout() time.Duration {
	return DefaultProviderTimeout
}

// listURL builds the tag listing endpoint, e.g.
// https://hub.docker.com/v2/repositories/library/nginx/tags?page_size=100
func (p *RegistryTagsProvider) listURL() string {
	base := p.config.BaseURL
	if base == "" {
		base = defaultRegistryBaseURL
	}
	pageSize := p.config.PageSize
	if pageSize <= 0 {
		pageSize = defaultTagPageSize
	}

	query := url.Values{}
	query.Set("page_size", strconv.Itoa(pageSize))

	return fmt.Sprintf("%s/v2/repositories/%s/%s/tags?%s",
		strings.TrimSuffix(base, "/"),
		url.PathEscape(p.config.Namespace),
		url.PathEscape(p.config.Repository),
		query.Encode())
}

// selectTag filters tags by the configured regex and returns the one with the
// greatest last-updated string. Timestamps are compared as strings.
func (p *RegistryTagsProvider) selectTag(tags []registryTag) (registryTag, bool, error) {
	var pattern *regexp.Regexp
	if p.config.TagRegex != "" {
		compiled, err := regexp.Compile(p.config.TagRegex)
		if err != nil {
			return registryTag{}, false, InvalidInput("invalid tag regex %q: %v", p.config.TagRegex, err)
		}
		pattern = compiled
	}

	filtered := make([]registryTag, 0, len(tags))
	for _, tag := range tags {
		if pattern != nil && !pattern.MatchString(tag.Name) {
			continue
		}
		filtered = append(filtered, tag)
	}
	if len(filtered) == 0 {
		return registryTag{}, false, nil
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].LastUpdated > filtered[j].LastUpdated
	})

	return filtered[0], true, nil
}

// FetchLatest lists the repository tags and selects the newest one
func (p *RegistryTagsProvider) FetchLatest(ctx context.Context) (Candidate, error) {
	repoPath := p.config.Namespace + "/" + p.config.Repository
	if _, err := name.NewRepository(repoPath); err != nil {
		return Candidate{}, InvalidInput("invalid repository %q: %v", repoPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	target := p.listURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Candidate{}, InvalidInput("invalid registry URL %q: %v", target, err)
	}
	req.Header.Set("Accept", "application/json")

	logging.Logger.Debug("Listing registry tags", zap.String("url", target))

	resp, err := p.client.Do(req)
	if err != nil {
		return Candidate{}, transportError("registry API", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Candidate{}, SourceUnavailable("registry API returned status: %s", resp.Status)
	}

	var body registryTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if isTimeout(err) {
			return Candidate{}, transportError("registry API", target, err)
		}
		return Candidate{}, Parse("failed to parse registry response: %v", err)
	}

	tag, found, err := p.selectTag(body.Results)
	if err != nil {
		return Candidate{}, err
	}
	if !found {
		return Candidate{}, Parse("no matching tags found")
	}

	return Candidate{
		Source:       SourceRegistryTags,
		Version:      tag.Name,
		Digest:       tag.Digest,
		PublishedAt:  tag.LastUpdated,
		RawReference: fmt.Sprintf("%s:%s", repoPath, tag.Name),
	}, nil
}
