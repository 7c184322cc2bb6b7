package version_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/updater/pkg/version"
)

const nginxTags = `{
	"count": 3,
	"results": [
		{"name": "1.21.0", "last_updated": "2024-01-01T00:00:00.000000Z", "digest": "sha256:aaa"},
		{"name": "latest", "last_updated": "2024-02-01T00:00:00.000000Z", "digest": "sha256:bbb"},
		{"name": "1.22.0", "last_updated": "2024-03-01T00:00:00.000000Z", "digest": "sha256:ccc"}
	]
}`

var _ = Describe("RegistryTagsProvider", func() {
	var (
		server      *httptest.Server
		handler     http.HandlerFunc
		requestPath string
		pageSize    string
	)

	BeforeEach(func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(nginxTags))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestPath = r.URL.Path
			pageSize = r.URL.Query().Get("page_size")
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	provider := func(cfg version.RegistryTagsConfig) *version.RegistryTagsProvider {
		cfg.BaseURL = server.URL
		return version.NewRegistryTagsProvider(cfg, server.Client())
	}

	It("selects the newest tag matching the regex", func() {
		p := provider(version.RegistryTagsConfig{
			Namespace:  "library",
			Repository: "nginx",
			TagRegex:   `^\d+\.\d+\.\d+$`,
		})

		candidate, err := p.FetchLatest(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(candidate.Version).To(Equal("1.22.0"))
		Expect(candidate.Source).To(Equal(version.SourceRegistryTags))
		Expect(candidate.Digest).To(Equal("sha256:ccc"))
		Expect(candidate.PublishedAt).To(Equal("2024-03-01T00:00:00.000000Z"))
		Expect(candidate.RawReference).To(Equal("library/nginx:1.22.0"))
		Expect(requestPath).To(Equal("/v2/repositories/library/nginx/tags"))
		Expect(pageSize).To(Equal("100"))
	})

	It("considers every tag when no regex is set", func() {
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx", PageSize: 25})

		candidate, err := p.FetchLatest(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(candidate.Version).To(Equal("1.22.0"))
		Expect(pageSize).To(Equal("25"))
	})

	It("compares timestamps as strings, not semantically", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"results": [
				{"name": "2.0.0", "last_updated": "2023-12-31T00:00:00Z"},
				{"name": "1.9.9", "last_updated": "2024-01-01T00:00:00Z"}
			]}`))
		}
		p := provider(version.RegistryTagsConfig{Namespace: "acme", Repository: "api"})

		candidate, err := p.FetchLatest(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(candidate.Version).To(Equal("1.9.9"))
	})

	It("fails with a parse error when nothing matches", func() {
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx", TagRegex: `^v\d+$`})

		_, err := p.FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeParse))
		Expect(err).To(MatchError(ContainSubstring("no matching tags")))
	})

	It("rejects an invalid regex as invalid input", func() {
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx", TagRegex: `([`})

		_, err := p.FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeInvalidInput))
	})

	It("rejects an invalid repository name before any request", func() {
		p := provider(version.RegistryTagsConfig{Namespace: "Library", Repository: "NGINX!"})

		_, err := p.FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeInvalidInput))
		Expect(requestPath).To(BeEmpty())
	})

	It("reports non-2xx responses as unavailable", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx"})

		_, err := p.FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeSourceUnavailable))
		Expect(err).To(MatchError(ContainSubstring("429")))
	})

	It("reports malformed bodies as parse errors", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx"})

		_, err := p.FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeParse))
	})

	It("distinguishes timeouts from other transport failures", func() {
		release := make(chan struct{})
		defer close(release)
		handler = func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx"})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := p.FetchLatest(ctx)

		Expect(version.CodeOf(err)).To(Equal(version.CodeSourceTimeout))
	})

	It("reports refused connections as unavailable", func() {
		p := provider(version.RegistryTagsConfig{Namespace: "library", Repository: "nginx"})
		server.Close()

		_, err := p.FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeSourceUnavailable))
	})
})
