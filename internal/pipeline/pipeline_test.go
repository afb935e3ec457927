package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/dataset"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"github.com/couchcryptid/dst-crime-rdd/internal/pipeline"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockLoader struct {
	rows []domain.Observation
	err  error
}

func (m *mockLoader) Load(_ context.Context, source string) (*domain.Dataset, error) {
	if m.err != nil {
		return nil, m.err
	}
	return domain.NewDataset(source, m.rows), nil
}

type mockRenderer struct {
	inputs []report.Input
	err    error
}

func (m *mockRenderer) Render(in report.Input) ([]report.Artifact, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return []report.Artifact{
		{Name: report.ReportHTML, ContentType: "text/html", Data: []byte("<h1>report</h1>")},
		{Name: report.EstimatesSVG, ContentType: "image/svg+xml", Data: []byte("<svg/>")},
	}, nil
}

type mockPublisher struct {
	runID   string
	results []domain.ModelResult
	err     error
}

func (m *mockPublisher) Publish(_ context.Context, runID string, results []domain.ModelResult) error {
	m.runID, m.results = runID, results
	return m.err
}

type mockStore struct {
	runID     string
	artifacts []report.Artifact
	err       error
}

func (m *mockStore) Upload(_ context.Context, runID string, artifacts []report.Artifact) error {
	m.runID, m.artifacts = runID, artifacts
	return m.err
}

var testPlan = domain.SweepPlan{
	Outcomes:   domain.Outcomes(),
	Bandwidths: []int{14, 21, 28},
	Degrees:    []int{1, 2},
}

func testOptions() pipeline.Options {
	return pipeline.Options{
		Source:     "synthetic.csv",
		Plan:       testPlan,
		Covariance: domain.HC1,
		Workers:    2,
		CacheSize:  8,
	}
}

func synthetic() []domain.Observation {
	return dataset.Synthetic(dataset.DefaultSyntheticConfig())
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	frozen := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	rnd := &mockRenderer{}
	pub := &mockPublisher{}
	store := &mockStore{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(&mockLoader{rows: synthetic()}, rnd, pub, store, slog.Default(), metrics, testOptions())

	require.Error(t, p.CheckReadiness(context.Background()), "not ready before the first run")

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.CheckReadiness(context.Background()))

	assert.NotEmpty(t, run.ID)
	assert.Len(t, run.Results, 12)
	assert.Equal(t, frozen, run.CompletedAt)
	assert.Equal(t, 60, run.Dataset.Len())

	require.Len(t, rnd.inputs, 1)
	assert.Equal(t, run.ID, rnd.inputs[0].RunID)
	assert.Equal(t, frozen, rnd.inputs[0].GeneratedAt)
	assert.Equal(t, domain.HC1, rnd.inputs[0].Covariance)
	if diff := cmp.Diff(run.Results, rnd.inputs[0].Results); diff != "" {
		t.Errorf("renderer saw different results (-run +rendered):\n%s", diff)
	}

	assert.Equal(t, run.ID, pub.runID)
	assert.Len(t, pub.results, 12)
	assert.Equal(t, run.ID, store.runID)
	assert.Len(t, store.artifacts, 2)

	assert.InDelta(t, 12.0, testutil.ToFloat64(metrics.ResultsPublished), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.ArtifactsUploaded), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.PipelineReady), 0)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Same(t, run, latest)
}

func TestPipeline_Run_OptionalDestinations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	opts := testOptions()
	opts.ReportDir = dir

	p := pipeline.New(&mockLoader{rows: synthetic()}, &mockRenderer{}, nil, nil, slog.Default(), observability.NewMetricsForTesting(), opts)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, report.EstimatesSVG))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))
}

func TestPipeline_Run_Failures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		loader  *mockLoader
		render  *mockRenderer
		pub     *mockPublisher
		store   *mockStore
		plan    domain.SweepPlan
		wantErr error
		prefix  string
	}{
		{
			name:    "load",
			loader:  &mockLoader{err: domain.ErrDataUnavailable},
			wantErr: domain.ErrDataUnavailable,
			prefix:  "load:",
		},
		{
			name:    "sweep",
			plan:    domain.SweepPlan{Outcomes: domain.Outcomes(), Bandwidths: []int{2, 21}, Degrees: []int{2}},
			wantErr: domain.ErrModelNotIdentified,
			prefix:  "sweep:",
		},
		{
			name:    "render",
			render:  &mockRenderer{err: boom},
			wantErr: boom,
			prefix:  "render:",
		},
		{
			name:    "publish",
			pub:     &mockPublisher{err: boom},
			wantErr: boom,
			prefix:  "publish results:",
		},
		{
			name:    "upload",
			store:   &mockStore{err: boom},
			wantErr: boom,
			prefix:  "upload artifacts:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := tt.loader
			if loader == nil {
				loader = &mockLoader{rows: synthetic()}
			}
			render := tt.render
			if render == nil {
				render = &mockRenderer{}
			}
			opts := testOptions()
			if tt.plan.Size() > 0 {
				opts.Plan = tt.plan
			}
			var pub pipeline.ResultsPublisher
			if tt.pub != nil {
				pub = tt.pub
			}
			var store pipeline.ArtifactStore
			if tt.store != nil {
				store = tt.store
			}

			p := pipeline.New(loader, render, pub, store, slog.Default(), observability.NewMetricsForTesting(), opts)
			run, err := p.Run(context.Background())
			require.Error(t, err)
			assert.Nil(t, run)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.prefix)
			assert.Error(t, p.CheckReadiness(context.Background()), "a failed run does not make the pipeline ready")
		})
	}
}

func TestPipeline_QueriesBeforeRun(t *testing.T) {
	p := pipeline.New(&mockLoader{}, &mockRenderer{}, nil, nil, slog.Default(), observability.NewMetricsForTesting(), testOptions())

	_, ok := p.Latest()
	assert.False(t, ok)

	_, err := p.Fit(domain.PropertyCrimeRate, 21, 1)
	assert.ErrorIs(t, err, pipeline.ErrNotReady)

	_, err = p.Artifact(report.ReportHTML)
	assert.ErrorIs(t, err, pipeline.ErrNotReady)
}

func TestPipeline_FitAndArtifactAfterRun(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(&mockLoader{rows: synthetic()}, &mockRenderer{}, nil, nil, slog.Default(), metrics, testOptions())
	run, err := p.Run(context.Background())
	require.NoError(t, err)

	r, err := p.Fit(domain.PropertyCrimeRate, 21, 1)
	require.NoError(t, err)
	assert.Equal(t, run.Results[2], r, "single fit matches the sweep row")

	_, err = p.Fit(domain.PropertyCrimeRate, 21, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.FitCache.WithLabelValues("hit")), 0)

	_, err = p.Fit(domain.PropertyCrimeRate, 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	a, err := p.Artifact(report.ReportHTML)
	require.NoError(t, err)
	assert.Equal(t, "<h1>report</h1>", string(a.Data))

	_, err = p.Artifact("nope.txt")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPipeline_EndToEnd(t *testing.T) {
	var csv bytes.Buffer
	require.NoError(t, dataset.WriteCSV(&csv, synthetic()))
	source := filepath.Join(t.TempDir(), "dst.csv")
	require.NoError(t, os.WriteFile(source, csv.Bytes(), 0o600))

	metrics := observability.NewMetricsForTesting()
	opts := testOptions()
	opts.Source = source
	opts.ReportDir = filepath.Join(t.TempDir(), "out")

	p := pipeline.New(
		dataset.NewLoader(time.Second, 1, slog.Default(), metrics),
		report.NewRenderer(slog.Default(), metrics),
		nil, nil,
		slog.Default(), metrics, opts,
	)
	run, err := p.Run(context.Background())
	require.NoError(t, err)

	for _, name := range []string{report.ReportMarkdown, report.ReportHTML, report.ResultsJSON, report.ResultsXLSX, report.EstimatesSVG, report.EstimatesPNG} {
		_, err := os.Stat(filepath.Join(opts.ReportDir, name))
		assert.NoError(t, err, name)
	}

	property := run.Results[2]
	assert.Equal(t, "property_crime_rate|21|1", property.Key())
	assert.True(t, property.Significant)
}
