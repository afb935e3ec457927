package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"golang.org/x/sync/errgroup"
)

// ModelFitter fits a single (outcome, bandwidth, degree) combination.
type ModelFitter interface {
	Fit(outcome domain.Outcome, bandwidth, degree int) (domain.ModelResult, error)
}

// SweepRunner fits every combination of a sweep plan on a bounded worker pool.
type SweepRunner struct {
	fitter  ModelFitter
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewSweepRunner creates a SweepRunner. workers < 1 runs fits sequentially.
func NewSweepRunner(fitter ModelFitter, workers int, logger *slog.Logger, metrics *observability.Metrics) *SweepRunner {
	return &SweepRunner{fitter: fitter, workers: max(workers, 1), logger: logger, metrics: metrics}
}

// Sweep returns one result per (outcome, bandwidth, degree) triple, ordered by
// declared outcome, then bandwidth ascending, then degree ascending. Every
// fit runs to completion; if any fail, the failure with the lowest position
// in that order is returned and no results are.
func (s *SweepRunner) Sweep(ctx context.Context, outcomes []domain.Outcome, bandwidths, degrees []int) ([]domain.ModelResult, error) {
	plan, err := domain.SweepPlan{Outcomes: outcomes, Bandwidths: bandwidths, Degrees: degrees}.Normalize()
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	type job struct {
		outcome   domain.Outcome
		bandwidth int
		degree    int
	}
	jobs := make([]job, 0, plan.Size())
	for _, o := range plan.Outcomes {
		for _, b := range plan.Bandwidths {
			for _, d := range plan.Degrees {
				jobs = append(jobs, job{o, b, d})
			}
		}
	}

	start := time.Now()
	results := make([]domain.ModelResult, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			r, err := s.fitter.Fit(j.outcome, j.bandwidth, j.degree)
			if err != nil {
				var fe *domain.FitError
				if !errors.As(err, &fe) {
					err = &domain.FitError{Outcome: j.outcome, Bandwidth: j.bandwidth, Degree: j.degree, Err: err}
				}
				errs[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	for _, err := range errs {
		if err != nil {
			s.logger.Error("sweep failed", "error", err)
			return nil, err
		}
	}

	s.logger.Info("sweep complete",
		"fits", len(results),
		"outcomes", len(plan.Outcomes),
		"bandwidths", plan.Bandwidths,
		"degrees", plan.Degrees,
		"duration", time.Since(start),
	)
	return results, nil
}
