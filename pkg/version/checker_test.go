package version_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lissto-dev/updater/pkg/state"
	"github.com/lissto-dev/updater/pkg/version"
)

// stubProvider returns a fixed outcome after an optional delay.
// A negative delay blocks until the context is done.
type stubProvider struct {
	kind    version.SourceKind
	version string
	err     error
	delay   time.Duration
	timeout time.Duration
	calls   *atomic.Int32
}

func (p *stubProvider) Kind() version.SourceKind { return p.kind }

func (p *stubProvider) Timeout() time.Duration {
	if p.timeout > 0 {
		return p.timeout
	}
	return 5 * time.Second
}

func (p *stubProvider) FetchLatest(ctx context.Context) (version.Candidate, error) {
	p.calls.Add(1)
	switch {
	case p.delay < 0:
		<-ctx.Done()
		return version.Candidate{}, ctx.Err()
	case p.delay > 0:
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return version.Candidate{}, ctx.Err()
		}
	}
	if p.err != nil {
		return version.Candidate{}, p.err
	}
	return version.Candidate{Version: p.version}, nil
}

var _ = Describe("Checker", func() {
	var (
		clk     *clocktesting.FakeClock
		runtime *state.Runtime
		stubs   map[version.SourceKind]*stubProvider
		calls   *atomic.Int32
		checker *version.Checker
		image   version.ImageIdentity
	)

	allSources := []version.SourceConfig{
		version.RegistryTagsSource(version.RegistryTagsConfig{Namespace: "library", Repository: "app"}),
		version.LocalRepositorySource(version.LocalRepositoryConfig{RepoPath: "/srv/app", Branch: "main"}),
	}

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
		runtime = state.NewRuntime(state.WithClock(clk))
		calls = &atomic.Int32{}
		stubs = map[version.SourceKind]*stubProvider{
			version.SourceRegistryTags:    {kind: version.SourceRegistryTags, version: "1.0.0", calls: calls},
			version.SourceLocalRepository: {kind: version.SourceLocalRepository, version: "1.1.0", calls: calls},
			version.SourceRelease:         {kind: version.SourceRelease, version: "1.0.5", calls: calls},
			version.SourceCustomAPI:       {kind: version.SourceCustomAPI, version: "0.9.0", calls: calls},
		}
		factory := func(cfg version.SourceConfig, _ ...version.ProviderOption) (version.Provider, error) {
			if _, err := version.NewProvider(cfg); err != nil {
				return nil, err
			}
			return stubs[cfg.Kind], nil
		}
		checker = version.NewChecker(runtime,
			version.WithProviderFactory(factory),
			version.WithCheckerClock(clk))
		image = version.ImageIdentity{Repository: "library/app", Tag: "1.0.0"}
	})

	It("recommends the local repository regardless of completion order", func() {
		for _, delays := range [][2]time.Duration{{0, 30 * time.Millisecond}, {30 * time.Millisecond, 0}} {
			stubs[version.SourceRegistryTags].delay = delays[0]
			stubs[version.SourceLocalRepository].delay = delays[1]
			runtime = state.NewRuntime(state.WithClock(clk))
			checker = version.NewChecker(runtime,
				version.WithProviderFactory(func(cfg version.SourceConfig, _ ...version.ProviderOption) (version.Provider, error) {
					return stubs[cfg.Kind], nil
				}))

			resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Recommended.Source).To(Equal(version.SourceLocalRepository))
			Expect(resp.Recommended.Version).To(Equal("1.1.0"))
			Expect(resp.HasUpdate).To(BeTrue())
		}
	})

	It("follows the full priority order", func() {
		sources := []version.SourceConfig{
			version.CustomAPISource(version.CustomAPIConfig{Endpoint: "https://x", Method: "GET", VersionField: "v"}),
			version.RegistryTagsSource(version.RegistryTagsConfig{Namespace: "library", Repository: "app"}),
			version.ReleaseSource(version.ReleaseConfig{Owner: "acme", Repo: "app"}),
		}

		resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: sources})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Recommended.Source).To(Equal(version.SourceRelease))
	})

	It("reports results in configuration order with the image key and timestamp", func() {
		resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.ImageKey).To(Equal("library/app:1.0.0"))
		Expect(resp.CurrentVersion).To(Equal("1.0.0"))
		Expect(resp.CheckedAtMs).To(Equal(clk.Now().UnixMilli()))
		Expect(resp.Results).To(HaveLen(2))
		Expect(resp.Results[0].Source).To(Equal(version.SourceRegistryTags))
		Expect(resp.Results[0].Latest.Source).To(Equal(version.SourceRegistryTags))
		Expect(resp.Results[1].Source).To(Equal(version.SourceLocalRepository))
	})

	It("reports no update when the recommendation equals the current tag", func() {
		image.Tag = "1.1.0"

		resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.HasUpdate).To(BeFalse())
	})

	It("keeps partial failures as soft results", func() {
		stubs[version.SourceLocalRepository].err = version.SourceUnavailable("git fetch failed")

		resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Recommended.Source).To(Equal(version.SourceRegistryTags))
		Expect(resp.Results[1].OK).To(BeFalse())
		Expect(resp.Results[1].ErrorCode).To(Equal(version.CodeSourceUnavailable))
		Expect(resp.Results[1].ErrorMessage).To(Equal("git fetch failed"))
		Expect(resp.Results[1].Latest).To(BeNil())
	})

	It("classifies foreign provider errors as unavailable", func() {
		stubs[version.SourceLocalRepository].err = errors.New("boom")

		resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Results[1].ErrorCode).To(Equal(version.CodeSourceUnavailable))
	})

	It("records a source without config as invalid input without aborting the others", func() {
		sources := append([]version.SourceConfig{{Kind: version.SourceRelease}}, allSources...)

		resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: sources})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Results[0].OK).To(BeFalse())
		Expect(resp.Results[0].ErrorCode).To(Equal(version.CodeInvalidInput))
		Expect(resp.Recommended.Source).To(Equal(version.SourceLocalRepository))
	})

	It("fails hard when every source fails", func() {
		stubs[version.SourceRegistryTags].err = version.Parse("no matching tags found")
		stubs[version.SourceLocalRepository].err = version.SourceUnavailable("offline")

		_, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

		Expect(err).To(MatchError(version.ErrNoValidSourceResult))

		By("not caching the failure")
		stubs[version.SourceRegistryTags].err = nil
		_, err = checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects an empty source list", func() {
		_, err := checker.Check(context.Background(), version.CheckRequest{Image: image})

		Expect(err).To(MatchError(version.ErrInvalidInput))
	})

	It("rejects a request without an image", func() {
		_, err := checker.Check(context.Background(), version.CheckRequest{Sources: allSources})

		Expect(err).To(MatchError(version.ErrInvalidInput))
		Expect(calls.Load()).To(BeZero())
	})

	Describe("caching", func() {
		It("serves a fresh answer without touching any source", func() {
			first, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(2)))

			clk.Step(29 * time.Second)
			second, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(2)))
			Expect(second).To(Equal(first))
		})

		It("serves a hit even for an empty source list", func() {
			_, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})
			Expect(err).NotTo(HaveOccurred())

			_, err = checker.Check(context.Background(), version.CheckRequest{Image: image})

			Expect(err).NotTo(HaveOccurred())
		})

		It("queries the sources again once the entry expires", func() {
			_, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})
			Expect(err).NotTo(HaveOccurred())

			clk.Step(31 * time.Second)
			_, err = checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})

			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(4)))
		})
	})

	Describe("timeouts", func() {
		It("records a slow source as a soft timeout", func() {
			stubs[version.SourceLocalRepository].delay = -1
			timeout := int64(50)

			start := time.Now()
			resp, err := checker.Check(context.Background(), version.CheckRequest{
				Image:     image,
				Sources:   allSources,
				TimeoutMs: &timeout,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Expect(resp.Results[1].OK).To(BeFalse())
			Expect(resp.Results[1].ErrorCode).To(Equal(version.CodeSourceTimeout))
			Expect(resp.Results[1].ErrorMessage).To(Equal("Source check timeout after 50ms"))
			Expect(resp.Recommended.Source).To(Equal(version.SourceRegistryTags))
		})

		It("cuts a blocked local repository off at the default source timeout", func() {
			local := stubs[version.SourceLocalRepository]
			local.delay = -1
			local.timeout = version.LocalRepositoryTimeout

			start := time.Now()
			resp, err := checker.Check(context.Background(), version.CheckRequest{Image: image, Sources: allSources})
			elapsed := time.Since(start)

			Expect(err).NotTo(HaveOccurred())
			Expect(elapsed).To(BeNumerically(">=", version.DefaultProviderTimeout))
			Expect(elapsed).To(BeNumerically("<", version.DefaultOverallTimeout))
			Expect(resp.Results[1].ErrorCode).To(Equal(version.CodeSourceTimeout))
			Expect(resp.Results[1].ErrorMessage).To(Equal("Source check timeout after 8000ms"))
			Expect(resp.Recommended.Source).To(Equal(version.SourceRegistryTags))
			Expect(resp.Recommended.Version).To(Equal("1.0.0"))
		})

		It("fails the whole check when the batch exceeds the overall timeout", func() {
			stubs[version.SourceRegistryTags].delay = -1
			stubs[version.SourceLocalRepository].delay = -1
			overall := int64(50)

			_, err := checker.Check(context.Background(), version.CheckRequest{
				Image:            image,
				Sources:          allSources,
				OverallTimeoutMs: &overall,
			})

			Expect(err).To(MatchError(version.ErrSourceTimeout))
			Expect(err).To(MatchError(ContainSubstring("Overall version check timeout after 50ms")))
		})
	})
})
