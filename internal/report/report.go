// Package report renders sweep results into the artifacts of a run: a
// literate markdown report and its HTML rendering, a JSON results file, an
// xlsx workbook, and figures.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
)

// Artifact names.
const (
	ReportMarkdown = "report.md"
	ReportHTML     = "report.html"
	ResultsJSON    = "results.json"
	ResultsXLSX    = "results.xlsx"
	EstimatesSVG   = "estimates.svg"
	EstimatesPNG   = "estimates.png"
)

// ScatterName returns the figure name for an outcome's discontinuity plot.
func ScatterName(outcome domain.Outcome) string {
	return "scatter_" + string(outcome) + ".svg"
}

// Artifact is one rendered output file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Input is everything a report is rendered from.
type Input struct {
	RunID       string
	Dataset     *domain.Dataset
	Plan        domain.SweepPlan
	Covariance  domain.CovarianceType
	Results     []domain.ModelResult
	GeneratedAt time.Time
}

// Renderer produces the artifact set for a completed sweep.
type Renderer struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *slog.Logger, metrics *observability.Metrics) *Renderer {
	return &Renderer{logger: logger, metrics: metrics}
}

// Render builds all artifacts. Figures are rendered before the markdown
// so the report only links figures that exist.
func (r *Renderer) Render(in Input) ([]Artifact, error) {
	if len(in.Results) == 0 {
		return nil, errors.New("render: no results")
	}
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = domain.Now()
	}

	var artifacts []Artifact
	add := func(name, contentType string, data []byte) {
		artifacts = append(artifacts, Artifact{Name: name, ContentType: contentType, Data: data})
	}

	results, err := json.MarshalIndent(in.Results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render results: %w", err)
	}
	add(ResultsJSON, "application/json", results)

	workbook, err := Workbook(in)
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	add(ResultsXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)

	svg, png, err := EstimatesFigure(in.Results)
	if err != nil {
		return nil, fmt.Errorf("render estimates figure: %w", err)
	}
	add(EstimatesSVG, "image/svg+xml", svg)
	add(EstimatesPNG, "image/png", png)

	var scatters []string
	if in.Dataset != nil {
		for _, outcome := range in.Plan.Outcomes {
			fig, err := ScatterFigure(in.Dataset, outcome, maxOf(in.Plan.Bandwidths), minOf(in.Plan.Degrees))
			if err != nil {
				// Too few points on one side of the cutoff to draw the fit.
				r.logger.Warn("scatter figure skipped", "outcome", outcome, "error", err)
				continue
			}
			name := ScatterName(outcome)
			add(name, "image/svg+xml", fig)
			scatters = append(scatters, name)
		}
	}

	md, err := Markdown(in, scatters)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	add(ReportMarkdown, "text/markdown; charset=utf-8", md)

	html, err := HTML(md, "DST and crime: regression discontinuity estimates")
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	add(ReportHTML, "text/html; charset=utf-8", html)

	r.metrics.ArtifactsRendered.Add(float64(len(artifacts)))
	r.logger.Info("report rendered", "run_id", in.RunID, "artifacts", len(artifacts))
	return artifacts, nil
}

// WriteDir writes artifacts into dir, creating it if needed.
func WriteDir(dir string, artifacts []Artifact) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(dir, a.Name), a.Data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", a.Name, err)
		}
	}
	return nil
}

// Find returns the artifact with the given name.
func Find(artifacts []Artifact, name string) (Artifact, bool) {
	for _, a := range artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

func maxOf(xs []int) int {
	m := 0
	for _, x := range xs {
		m = max(m, x)
	}
	return m
}

func minOf(xs []int) int {
	if len(xs) == 0 {
		return 1
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = min(m, x)
	}
	return m
}
