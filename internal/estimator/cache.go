package estimator

import (
	"fmt"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"github.com/maypok86/otter/v2"
)

// CachedFitter memoizes successful fits in a bounded in-memory cache.
// Failed fits are not cached.
type CachedFitter struct {
	fitter  ModelFitter
	cov     domain.CovarianceType
	cache   *otter.Cache[string, domain.ModelResult]
	metrics *observability.Metrics
}

// NewCachedFitter wraps fitter. cov is part of the cache key so fitters with
// different estimators never share entries.
func NewCachedFitter(fitter ModelFitter, cov domain.CovarianceType, size int, metrics *observability.Metrics) *CachedFitter {
	return &CachedFitter{
		fitter: fitter,
		cov:    cov,
		cache: otter.Must(&otter.Options[string, domain.ModelResult]{
			MaximumSize: max(size, 1),
		}),
		metrics: metrics,
	}
}

// Fit returns a cached result when present, otherwise fits and stores it.
// Outcome aliases share the entry of the column they name.
func (c *CachedFitter) Fit(outcome domain.Outcome, bandwidth, degree int) (domain.ModelResult, error) {
	if parsed, err := domain.ParseOutcome(string(outcome)); err == nil {
		outcome = parsed
	}
	key := fmt.Sprintf("%s|%d|%d|%s", outcome, bandwidth, degree, c.cov)
	if r, ok := c.cache.GetIfPresent(key); ok {
		c.metrics.FitCache.WithLabelValues("hit").Inc()
		return r, nil
	}
	c.metrics.FitCache.WithLabelValues("miss").Inc()

	r, err := c.fitter.Fit(outcome, bandwidth, degree)
	if err != nil {
		return domain.ModelResult{}, err
	}
	c.cache.Set(key, r)
	return r, nil
}
