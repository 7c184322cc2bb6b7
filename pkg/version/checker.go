package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const (
	// DefaultCacheTTL is how long an aggregate check is served from cache
	DefaultCacheTTL = 30 * time.Second
	// DefaultOverallTimeout bounds a whole check across all sources
	DefaultOverallTimeout = 15 * time.Second
)

// ResultCache stores aggregate check responses by image key
type ResultCache interface {
	CachedCheck(imageKey string, ttl time.Duration) (CheckResponse, bool)
	CacheCheck(imageKey string, resp CheckResponse)
}

// ProviderFactory builds a provider from a source config
type ProviderFactory func(cfg SourceConfig, opts ...ProviderOption) (Provider, error)

// Checker aggregates the latest version of an image across its sources
type Checker struct {
	cache          ResultCache
	newProvider    ProviderFactory
	providerOpts   []ProviderOption
	metrics        *metrics.Metrics
	clock          clock.PassiveClock
	cacheTTL       time.Duration
	sourceTimeout  time.Duration
	overallTimeout time.Duration
}

// CheckerOption customizes a Checker
type CheckerOption func(*Checker)

// WithProviderOptions passes opts to every provider the checker builds
func WithProviderOptions(opts ...ProviderOption) CheckerOption {
	return func(c *Checker) {
		c.providerOpts = append(c.providerOpts, opts...)
	}
}

// WithProviderFactory replaces the provider factory
func WithProviderFactory(factory ProviderFactory) CheckerOption {
	return func(c *Checker) {
		c.newProvider = factory
	}
}

// WithMetrics records check outcomes on m
func WithMetrics(m *metrics.Metrics) CheckerOption {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithCheckerClock sets the clock used for timestamps and elapsed times
func WithCheckerClock(clk clock.PassiveClock) CheckerOption {
	return func(c *Checker) {
		c.clock = clk
	}
}

// WithCacheTTL overrides the cache freshness window
func WithCacheTTL(ttl time.Duration) CheckerOption {
	return func(c *Checker) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithSourceTimeout sets the per-source timeout used when a request carries
// none. Zero keeps DefaultProviderTimeout.
func WithSourceTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		c.sourceTimeout = timeout
	}
}

// WithOverallTimeout overrides the default overall timeout
func WithOverallTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		if timeout > 0 {
			c.overallTimeout = timeout
		}
	}
}

// NewChecker creates a checker backed by cache
func NewChecker(cache ResultCache, opts ...CheckerOption) *Checker {
	c := &Checker{
		cache:          cache,
		newProvider:    NewProvider,
		clock:          clock.RealClock{},
		cacheTTL:       DefaultCacheTTL,
		overallTimeout: DefaultOverallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func millis(ms *int64) (time.Duration, bool) {
	if ms == nil || *ms <= 0 {
		return 0, false
	}
	return time.Duration(*ms) * time.Millisecond, true
}

// Check returns the aggregate latest-version view for req.Image. A fresh
// cached answer is returned without contacting any source.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (CheckResponse, error) {
	if req.Image.Repository == "" || req.Image.Tag == "" {
		return CheckResponse{}, InvalidInput("image repository and tag are required")
	}
	imageKey := req.Image.Key()

	if cached, ok := c.cache.CachedCheck(imageKey, c.cacheTTL); ok {
		logging.Logger.Debug("Version check served from cache",
			zap.String("image_key", imageKey))
		c.metrics.ObserveCheck("cache_hit")
		return cached, nil
	}

	if len(req.Sources) == 0 {
		c.metrics.ObserveCheck(string(CodeInvalidInput))
		return CheckResponse{}, InvalidInput("at least one version source is required")
	}

	overall := c.overallTimeout
	if d, ok := millis(req.OverallTimeoutMs); ok {
		overall = d
	}
	override, hasOverride := millis(req.TimeoutMs)

	batchCtx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	results := make([]SourceCheckResult, len(req.Sources))
	var g errgroup.Group
	for i, source := range req.Sources {
		g.Go(func() error {
			results[i] = c.checkSource(batchCtx, imageKey, source, override, hasOverride)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-batchCtx.Done():
		cancel()
		<-done
		logging.Logger.Warn("Version check exceeded overall timeout",
			zap.String("image_key", imageKey),
			zap.Int64("timeout_ms", overall.Milliseconds()))
		c.metrics.ObserveCheck(string(CodeSourceTimeout))
		return CheckResponse{}, &Error{
			Code:    CodeSourceTimeout,
			Message: fmt.Sprintf("Overall version check timeout after %dms", overall.Milliseconds()),
			Err:     batchCtx.Err(),
		}
	}

	recommended := recommend(results)
	if recommended == nil {
		logging.Logger.Warn("Every version source failed",
			zap.String("image_key", imageKey),
			zap.Int("sources", len(results)))
		c.metrics.ObserveCheck(string(CodeNoValidSourceResult))
		return CheckResponse{}, NoValidSourceResult()
	}

	resp := CheckResponse{
		ImageKey:       imageKey,
		CurrentVersion: req.Image.Tag,
		HasUpdate:      recommended.Version != req.Image.Tag,
		Recommended:    recommended,
		Results:        results,
		CheckedAtMs:    c.clock.Now().UnixMilli(),
	}
	c.cache.CacheCheck(imageKey, resp)
	c.metrics.ObserveCheck("ok")

	logging.Logger.Info("Version check completed",
		zap.String("image_key", imageKey),
		zap.String("recommended", recommended.Version),
		zap.String("source", string(recommended.Source)),
		zap.Bool("has_update", resp.HasUpdate))

	return resp, nil
}

// checkSource polls one source and always returns a result; failures are recorded, not returned
func (c *Checker) checkSource(ctx context.Context, imageKey string, source SourceConfig, override time.Duration, hasOverride bool) SourceCheckResult {
	start := c.clock.Now()
	result := SourceCheckResult{Source: source.Kind}

	finish := func(err error) SourceCheckResult {
		elapsed := c.clock.Since(start)
		result.ElapsedMs = elapsed.Milliseconds()
		outcome := "ok"
		if err != nil {
			result.OK = false
			result.ErrorCode = CodeOf(err)
			if result.ErrorCode == "" {
				result.ErrorCode = CodeSourceUnavailable
			}
			result.ErrorMessage = err.Error()
			outcome = string(result.ErrorCode)
			logging.Logger.Warn("Version source failed",
				zap.String("image_key", imageKey),
				zap.String("source", string(source.Kind)),
				zap.String("code", string(result.ErrorCode)),
				zap.Int64("elapsed_ms", result.ElapsedMs),
				zap.Error(err))
		}
		c.metrics.ObserveSource(string(source.Kind), outcome, elapsed)
		return result
	}

	provider, err := c.newProvider(source, c.providerOpts...)
	if err != nil {
		return finish(err)
	}

	timeout := DefaultProviderTimeout
	switch {
	case hasOverride:
		timeout = override
	case c.sourceTimeout > 0:
		timeout = c.sourceTimeout
	}

	sourceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	candidate, err := provider.FetchLatest(sourceCtx)
	if err != nil {
		if errors.Is(sourceCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &Error{
				Code:    CodeSourceTimeout,
				Message: fmt.Sprintf("Source check timeout after %dms", timeout.Milliseconds()),
				Err:     err,
			}
		}
		return finish(err)
	}

	candidate.Source = source.Kind
	result.OK = true
	result.Latest = &candidate
	return finish(nil)
}

// recommend picks the first successful candidate in priority order
func recommend(results []SourceCheckResult) *Candidate {
	for _, kind := range priorityOrder {
		for _, res := range results {
			if res.OK && res.Source == kind && res.Latest != nil {
				candidate := *res.Latest
				return &candidate
			}
		}
	}
	return nil
}
