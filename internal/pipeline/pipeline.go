package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/estimator"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	"github.com/google/uuid"
)

// ErrNotReady is returned by queries made before a run has completed.
var ErrNotReady = errors.New("no completed run")

// DatasetLoader reads the observation table.
type DatasetLoader interface {
	Load(ctx context.Context, source string) (*domain.Dataset, error)
}

// Renderer turns a completed sweep into report artifacts.
type Renderer interface {
	Render(in report.Input) ([]report.Artifact, error)
}

// ResultsPublisher sends the results of a run downstream.
type ResultsPublisher interface {
	Publish(ctx context.Context, runID string, results []domain.ModelResult) error
}

// ArtifactStore keeps a copy of a run's artifacts.
type ArtifactStore interface {
	Upload(ctx context.Context, runID string, artifacts []report.Artifact) error
}

// Options configures a run.
type Options struct {
	Source     string
	Plan       domain.SweepPlan
	Covariance domain.CovarianceType
	Workers    int
	CacheSize  int
	ReportDir  string // empty skips writing artifacts to disk
}

// Run is the outcome of one load-sweep-render cycle.
type Run struct {
	ID          string
	Dataset     *domain.Dataset
	Results     []domain.ModelResult
	Artifacts   []report.Artifact
	CompletedAt time.Time

	fitter *estimator.CachedFitter
}

// Pipeline orchestrates load, sweep, render, and delivery. The most recent
// successful run backs the query methods used by the HTTP server.
type Pipeline struct {
	loader    DatasetLoader
	renderer  Renderer
	publisher ResultsPublisher
	store     ArtifactStore
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	latest    atomic.Pointer[Run]
}

// New creates a Pipeline. publisher and store may be nil to disable them.
func New(
	loader DatasetLoader,
	renderer Renderer,
	publisher ResultsPublisher,
	store ArtifactStore,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Pipeline {
	return &Pipeline{
		loader:    loader,
		renderer:  renderer,
		publisher: publisher,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// CheckReadiness returns nil once a run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.latest.Load() == nil {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Latest returns the most recent completed run.
func (p *Pipeline) Latest() (*Run, bool) {
	r := p.latest.Load()
	return r, r != nil
}

// Artifact returns a named artifact of the latest run.
func (p *Pipeline) Artifact(name string) (report.Artifact, error) {
	r, ok := p.Latest()
	if !ok {
		return report.Artifact{}, ErrNotReady
	}
	a, ok := report.Find(r.Artifacts, name)
	if !ok {
		return report.Artifact{}, fmt.Errorf("%w: no artifact %q", domain.ErrInvalidRequest, name)
	}
	return a, nil
}

// Fit runs a single memoized fit against the latest run's dataset.
func (p *Pipeline) Fit(outcome domain.Outcome, bandwidth, degree int) (domain.ModelResult, error) {
	r, ok := p.Latest()
	if !ok {
		return domain.ModelResult{}, ErrNotReady
	}
	return r.fitter.Fit(outcome, bandwidth, degree)
}

// Run loads the dataset, sweeps the plan, renders the report, and delivers
// it to every configured destination. Any failure aborts the run and leaves
// the previous run in place.
func (p *Pipeline) Run(ctx context.Context) (*Run, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("pipeline started",
		"source", p.opts.Source,
		"fits", p.opts.Plan.Size(),
		"covariance", p.opts.Covariance,
	)

	ds, err := p.loader.Load(ctx, p.opts.Source)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	fitter := estimator.NewFitter(ds, p.opts.Covariance, logger, p.metrics)
	runner := estimator.NewSweepRunner(fitter, p.opts.Workers, logger, p.metrics)
	results, err := runner.Sweep(ctx, p.opts.Plan.Outcomes, p.opts.Plan.Bandwidths, p.opts.Plan.Degrees)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	artifacts, err := p.renderer.Render(report.Input{
		RunID:       runID,
		Dataset:     ds,
		Plan:        p.opts.Plan,
		Covariance:  fitter.Covariance(),
		Results:     results,
		GeneratedAt: domain.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	if p.opts.ReportDir != "" {
		if err := report.WriteDir(p.opts.ReportDir, artifacts); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", "dir", p.opts.ReportDir, "artifacts", len(artifacts))
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, runID, results); err != nil {
			return nil, fmt.Errorf("publish results: %w", err)
		}
		p.metrics.ResultsPublished.Add(float64(len(results)))
	}

	if p.store != nil {
		if err := p.store.Upload(ctx, runID, artifacts); err != nil {
			return nil, fmt.Errorf("upload artifacts: %w", err)
		}
		p.metrics.ArtifactsUploaded.Add(float64(len(artifacts)))
	}

	run := &Run{
		ID:          runID,
		Dataset:     ds,
		Results:     results,
		Artifacts:   artifacts,
		CompletedAt: domain.Now(),
		fitter:      estimator.NewCachedFitter(fitter, fitter.Covariance(), p.opts.CacheSize, p.metrics),
	}
	p.latest.Store(run)
	p.metrics.PipelineReady.Set(1)

	logger.Info("pipeline finished", "results", len(results), "duration", time.Since(start))
	return run, nil
}
