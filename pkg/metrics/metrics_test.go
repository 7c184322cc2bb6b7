package metrics_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lissto-dev/updater/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	var (
		registry *prometheus.Registry
		m        *metrics.Metrics
	)

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	})

	It("counts check outcomes", func() {
		m.ObserveCheck("ok")
		m.ObserveCheck("ok")
		m.ObserveCheck("cache_hit")

		expected := `
# HELP updater_version_checks_total Version checks by outcome (cache_hit, ok, error code).
# TYPE updater_version_checks_total counter
updater_version_checks_total{outcome="cache_hit"} 1
updater_version_checks_total{outcome="ok"} 2
`
		Expect(testutil.GatherAndCompare(registry, strings.NewReader(expected), "updater_version_checks_total")).To(Succeed())
	})

	It("records source polls", func() {
		m.ObserveSource("registryTags", "ok", 120*time.Millisecond)
		m.ObserveSource("registryTags", "VERSION_SOURCE_TIMEOUT", 8*time.Second)

		count, err := testutil.GatherAndCount(registry, "updater_version_source_results_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))

		count, err = testutil.GatherAndCount(registry, "updater_version_source_duration_seconds")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})

	It("tracks updates in progress", func() {
		m.UpdateStarted()
		m.UpdateStarted()
		m.ObserveStep("git_pull", true, time.Second)
		m.UpdateFinished("success")

		expected := `
# HELP updater_updates_in_progress Update operations currently running.
# TYPE updater_updates_in_progress gauge
updater_updates_in_progress 1
# HELP updater_updates_total Update operations by outcome.
# TYPE updater_updates_total counter
updater_updates_total{outcome="success"} 1
`
		Expect(testutil.GatherAndCompare(registry, strings.NewReader(expected),
			"updater_updates_in_progress", "updater_updates_total")).To(Succeed())
	})

	It("ignores calls on a nil receiver", func() {
		var none *metrics.Metrics

		Expect(func() {
			none.ObserveCheck("ok")
			none.ObserveSource("release", "ok", time.Second)
			none.ObserveStep("docker_run", false, time.Second)
			none.UpdateStarted()
			none.UpdateFinished("failed")
		}).NotTo(Panic())
	})
})
