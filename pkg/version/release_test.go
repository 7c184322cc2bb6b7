package version_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/updater/pkg/version"
)

const releasesJSON = `[
	{"tag_name": "v3.0.0-rc1", "draft": true, "prerelease": false, "body": "draft"},
	{"tag_name": "v2.1.0-beta", "draft": false, "prerelease": true, "body": "beta notes",
	 "html_url": "https://github.com/acme/api/releases/tag/v2.1.0-beta", "published_at": "2024-05-02T10:00:00Z"},
	{"tag_name": "v2.0.0", "draft": false, "prerelease": false, "body": "stable notes",
	 "published_at": "2024-05-01T10:00:00Z"}
]`

var _ = Describe("ReleaseProvider", func() {
	var (
		server  *httptest.Server
		status  int
		path    string
		authHdr string
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			authHdr = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status == http.StatusOK {
				_, _ = w.Write([]byte(releasesJSON))
			} else {
				_, _ = w.Write([]byte(`{"message": "Not Found"}`))
			}
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	provider := func(cfg version.ReleaseConfig) *version.ReleaseProvider {
		cfg.BaseURL = server.URL
		return version.NewReleaseProvider(cfg, server.Client())
	}

	It("skips drafts and prereleases by default", func() {
		candidate, err := provider(version.ReleaseConfig{Owner: "acme", Repo: "api"}).FetchLatest(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(candidate.Version).To(Equal("v2.0.0"))
		Expect(candidate.ReleaseNotes).To(Equal("stable notes"))
		Expect(candidate.PublishedAt).To(Equal("2024-05-01T10:00:00Z"))
		Expect(candidate.RawReference).To(Equal("https://github.com/acme/api/releases/tag/v2.0.0"))
		Expect(path).To(Equal("/repos/acme/api/releases"))
		Expect(authHdr).To(BeEmpty())
	})

	It("returns prereleases when allowed but never drafts", func() {
		candidate, err := provider(version.ReleaseConfig{Owner: "acme", Repo: "api", IncludePrerelease: true}).FetchLatest(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(candidate.Version).To(Equal("v2.1.0-beta"))
		Expect(candidate.RawReference).To(Equal("https://github.com/acme/api/releases/tag/v2.1.0-beta"))
	})

	It("sends the token as a bearer header", func() {
		_, err := provider(version.ReleaseConfig{Owner: "acme", Repo: "api", Token: "s3cret"}).FetchLatest(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(authHdr).To(Equal("Bearer s3cret"))
	})

	It("maps API errors to unavailable", func() {
		status = http.StatusNotFound

		_, err := provider(version.ReleaseConfig{Owner: "acme", Repo: "missing"}).FetchLatest(context.Background())

		Expect(version.CodeOf(err)).To(Equal(version.CodeSourceUnavailable))
		Expect(err).To(MatchError(ContainSubstring("404")))
	})
})
