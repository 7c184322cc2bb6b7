package version

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxCustomAPIBody caps how much of a response is read
const maxCustomAPIBody = 1 << 20

// headerKeyPattern rejects anything that could smuggle extra header lines
var headerKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CustomAPIProvider reads a version out of an arbitrary JSON endpoint
type CustomAPIProvider struct {
	config CustomAPIConfig
	client *http.Client
}

// NewCustomAPIProvider creates a custom API provider
func NewCustomAPIProvider(cfg CustomAPIConfig, client *http.Client) *CustomAPIProvider {
	return &CustomAPIProvider{config: cfg, client: client}
}

func (p *CustomAPIProvider) Kind() SourceKind {
	return SourceCustomAPI
}

func (p *CustomAPIProvider) Timeout() time.Duration {
	return DefaultProviderTimeout
}

func (p *CustomAPIProvider) validateURL() error {
	parsed, err := url.Parse(p.config.Endpoint)
	if err != nil {
		return InvalidInput("invalid endpoint %q: %v", p.config.Endpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return InvalidInput("invalid URL scheme: %s. Only http:// and https:// are allowed", p.config.Endpoint)
	}
	if parsed.Host == "" {
		return InvalidInput("endpoint %q has no host", p.config.Endpoint)
	}
	return nil
}

func (p *CustomAPIProvider) method() (string, error) {
	switch strings.ToUpper(p.config.Method) {
	case http.MethodGet:
		return http.MethodGet, nil
	case http.MethodPost:
		return http.MethodPost, nil
	default:
		return "", InvalidInput("unsupported HTTP method: %s. Only GET and POST are supported", p.config.Method)
	}
}

// extractField returns the string at path; a plain name addresses a top-level key
func extractField(body []byte, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	result := gjson.GetBytes(body, path)
	if result.Type != gjson.String {
		return "", false
	}
	return result.Str, true
}

// FetchLatest calls the endpoint and maps the configured fields to a candidate
func (p *CustomAPIProvider) FetchLatest(ctx context.Context) (Candidate, error) {
	if err := p.validateURL(); err != nil {
		return Candidate{}, err
	}
	method, err := p.method()
	if err != nil {
		return Candidate{}, err
	}
	for _, header := range p.config.Headers {
		if !headerKeyPattern.MatchString(header.Key) {
			return Candidate{}, InvalidInput("invalid header key: %s", header.Key)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	var reqBody io.Reader
	if method == http.MethodPost && len(p.config.Body) > 0 {
		reqBody = bytes.NewReader(p.config.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.Endpoint, reqBody)
	if err != nil {
		return Candidate{}, InvalidInput("invalid custom API request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, header := range p.config.Headers {
		req.Header.Set(header.Key, header.Value)
	}

	logging.Logger.Debug("Calling custom version API",
		zap.String("endpoint", p.config.Endpoint),
		zap.String("method", method),
		zap.Int("headers", len(p.config.Headers)))

	resp, err := p.client.Do(req)
	if err != nil {
		return Candidate{}, transportError("custom API", p.config.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Candidate{}, SourceUnavailable("custom API returned status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCustomAPIBody))
	if err != nil {
		return Candidate{}, transportError("custom API", p.config.Endpoint, err)
	}
	if !gjson.ValidBytes(body) {
		return Candidate{}, Parse("failed to parse custom API response: invalid JSON")
	}

	version, ok := extractField(body, p.config.VersionField)
	if !ok {
		return Candidate{}, Parse("version field '%s' not found in response", p.config.VersionField)
	}

	notes, _ := extractField(body, p.config.NotesField)
	publishedAt, _ := extractField(body, p.config.PublishedAtField)

	return Candidate{
		Source:       SourceCustomAPI,
		Version:      version,
		ReleaseNotes: notes,
		PublishedAt:  publishedAt,
		RawReference: p.config.Endpoint,
	}, nil
}
