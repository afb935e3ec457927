// Package estimator fits the regression-discontinuity model for the DST
// transition and runs it over a grid of outcomes, bandwidths, and
// polynomial degrees.
//
// The model for a window |days_from_cutoff| <= bandwidth is
//
//	y = a + Σ b_k d^k + τ·treated + Σ c_k·treated·d^k + weekday + rainfall + temperature
//
// and τ is the reported treatment effect, with heteroskedasticity-consistent
// standard errors.
package estimator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
)

// Fitter estimates the treatment effect for one (outcome, bandwidth, degree)
// combination against an immutable dataset.
type Fitter struct {
	data    *domain.Dataset
	cov     domain.CovarianceType
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFitter creates a Fitter. An empty covariance type selects HC1.
func NewFitter(data *domain.Dataset, cov domain.CovarianceType, logger *slog.Logger, metrics *observability.Metrics) *Fitter {
	if cov == "" {
		cov = domain.HC1
	}
	return &Fitter{data: data, cov: cov, logger: logger, metrics: metrics}
}

// Covariance returns the robust covariance estimator in use.
func (f *Fitter) Covariance() domain.CovarianceType { return f.cov }

// Fit runs one regression. Errors are *domain.FitError wrapping one of the
// domain error classes.
func (f *Fitter) Fit(outcome domain.Outcome, bandwidth, degree int) (domain.ModelResult, error) {
	start := time.Now()
	result, err := f.fit(outcome, bandwidth, degree)
	f.metrics.FitDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		f.metrics.Fits.WithLabelValues(string(outcome), fitStatus(err)).Inc()
		f.logger.Debug("fit failed", "outcome", outcome, "bandwidth", bandwidth, "degree", degree, "error", err)
		return domain.ModelResult{}, &domain.FitError{Outcome: outcome, Bandwidth: bandwidth, Degree: degree, Err: err}
	}

	f.metrics.Fits.WithLabelValues(string(outcome), "ok").Inc()
	f.logger.Debug("fit complete",
		"outcome", outcome,
		"bandwidth", bandwidth,
		"degree", degree,
		"estimate", result.Estimate,
		"std_err", result.StdErr,
		"n", result.Observations,
	)
	return result, nil
}

func (f *Fitter) fit(outcome domain.Outcome, bandwidth, degree int) (domain.ModelResult, error) {
	parsed, err := domain.ParseOutcome(string(outcome))
	if err != nil {
		return domain.ModelResult{}, err
	}
	if err := domain.ValidateBandwidth(bandwidth); err != nil {
		return domain.ModelResult{}, err
	}
	if err := domain.ValidateDegree(degree); err != nil {
		return domain.ModelResult{}, err
	}

	rows := f.data.Window(bandwidth)
	if err := checkIdentified(rows, parsed, bandwidth, degree); err != nil {
		return domain.ModelResult{}, err
	}
	d := buildDesign(rows, parsed, bandwidth, degree)
	ols, err := fitOLS(d, f.cov)
	if err != nil {
		return domain.ModelResult{}, err
	}

	est := ols.coef[d.treated]
	se := ols.robustSE(d.treated)
	t, p, lo, hi := inference(est, se, ols.df)

	return domain.ModelResult{
		Outcome:          parsed,
		Bandwidth:        bandwidth,
		Degree:           degree,
		FunctionalForm:   domain.FunctionalForm(degree),
		Estimate:         est,
		CILow:            lo,
		CIHigh:           hi,
		StdErr:           se,
		ClassicalStdErr:  ols.classicalSE(d.treated),
		TStat:            t,
		PValue:           p,
		Significant:      p < 0.05,
		Observations:     d.n(),
		Parameters:       d.k(),
		DegreesOfFreedom: ols.df,
		CovarianceType:   f.cov,
	}, nil
}

func fitStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrModelNotIdentified):
		return "not_identified"
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrSchemaMismatch):
		return "invalid"
	default:
		return "error"
	}
}
