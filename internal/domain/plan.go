package domain

import (
	"fmt"
	"slices"
)

// SweepPlan is the grid of outcomes, bandwidths, and polynomial degrees to fit.
type SweepPlan struct {
	Outcomes   []Outcome `yaml:"outcomes" json:"outcomes"`
	Bandwidths []int     `yaml:"bandwidths" json:"bandwidths"`
	Degrees    []int     `yaml:"degrees" json:"degrees"`
}

// Normalize validates the plan and returns it in sweep order: outcomes keep
// their declared order (aliases resolved, repeats dropped), bandwidths and
// degrees are sorted ascending with duplicates removed.
func (p SweepPlan) Normalize() (SweepPlan, error) {
	if len(p.Outcomes) == 0 || len(p.Bandwidths) == 0 || len(p.Degrees) == 0 {
		return SweepPlan{}, fmt.Errorf("%w: sweep plan needs at least one outcome, bandwidth, and degree", ErrInvalidRequest)
	}

	var out SweepPlan
	for _, o := range p.Outcomes {
		parsed, err := ParseOutcome(string(o))
		if err != nil {
			return SweepPlan{}, err
		}
		if !slices.Contains(out.Outcomes, parsed) {
			out.Outcomes = append(out.Outcomes, parsed)
		}
	}

	for _, b := range p.Bandwidths {
		if err := ValidateBandwidth(b); err != nil {
			return SweepPlan{}, err
		}
	}
	for _, d := range p.Degrees {
		if err := ValidateDegree(d); err != nil {
			return SweepPlan{}, err
		}
	}

	out.Bandwidths = slices.Compact(slices.Sorted(slices.Values(p.Bandwidths)))
	out.Degrees = slices.Compact(slices.Sorted(slices.Values(p.Degrees)))
	return out, nil
}

// Size returns the number of fits the plan describes.
func (p SweepPlan) Size() int {
	return len(p.Outcomes) * len(p.Bandwidths) * len(p.Degrees)
}

// ValidateBandwidth rejects non-positive bandwidths.
func ValidateBandwidth(bandwidth int) error {
	if bandwidth <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive, got %d", ErrInvalidRequest, bandwidth)
	}
	return nil
}

// ValidateDegree rejects polynomial degrees below 1.
func ValidateDegree(degree int) error {
	if degree < 1 {
		return fmt.Errorf("%w: polynomial degree must be at least 1, got %d", ErrInvalidRequest, degree)
	}
	return nil
}
