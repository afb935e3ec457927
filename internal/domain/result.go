package domain

import (
	"fmt"
	"strings"
)

// CovarianceType selects the heteroskedasticity-consistent estimator used for
// robust standard errors.
//
//	HC0  White's estimator, no small-sample correction
//	HC1  HC0 scaled by n/(n-k); the "robust" option in Stata
//	HC2  residuals reweighted by 1/(1-h_ii)
//	HC3  residuals reweighted by 1/(1-h_ii)^2
type CovarianceType string

const (
	HC0 CovarianceType = "HC0"
	HC1 CovarianceType = "HC1"
	HC2 CovarianceType = "HC2"
	HC3 CovarianceType = "HC3"
)

// ParseCovarianceType parses a case-insensitive HC estimator name.
func ParseCovarianceType(s string) (CovarianceType, error) {
	switch c := CovarianceType(strings.ToUpper(strings.TrimSpace(s))); c {
	case HC0, HC1, HC2, HC3:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown covariance type %q", ErrInvalidRequest, s)
	}
}

// ModelResult is the treatment-effect estimate for one
// (outcome, bandwidth, degree) combination.
type ModelResult struct {
	Outcome        Outcome `json:"outcome_name"`
	Bandwidth      int     `json:"bandwidth"`
	Degree         int     `json:"polynomial_degree"`
	FunctionalForm string  `json:"functional_form"`

	Estimate        float64 `json:"point_estimate"`
	CILow           float64 `json:"confidence_interval_low"`
	CIHigh          float64 `json:"confidence_interval_high"`
	StdErr          float64 `json:"standard_error"`
	ClassicalStdErr float64 `json:"classical_standard_error"`
	TStat           float64 `json:"t_statistic"`
	PValue          float64 `json:"p_value"`
	Significant     bool    `json:"significant"`

	Observations     int            `json:"observations"`
	Parameters       int            `json:"parameters"`
	DegreesOfFreedom int            `json:"degrees_of_freedom"`
	CovarianceType   CovarianceType `json:"covariance_type"`
}

// Key identifies the result's (outcome, bandwidth, degree) triple.
func (r ModelResult) Key() string {
	return fmt.Sprintf("%s|%d|%d", r.Outcome, r.Bandwidth, r.Degree)
}

// FunctionalForm labels a polynomial degree for tables and figure facets.
func FunctionalForm(degree int) string {
	switch degree {
	case 1:
		return "Linear"
	case 2:
		return "Quadratic"
	case 3:
		return "Cubic"
	default:
		return fmt.Sprintf("Degree %d Polynomial", degree)
	}
}
