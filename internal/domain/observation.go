package domain

import (
	"math"
	"slices"
	"time"
)

// Observation is one city-day of the crime/weather panel.
type Observation struct {
	Date               time.Time
	PropertyCrimeRate  float64
	ViolentCrimeRate   float64
	AverageTemperature float64
	RainfallMM         float64
	DaysFromCutoff     int
	Treated            bool
	DayOfWeek          time.Weekday
}

// IsTreated reports whether a day offset falls on the post-transition side.
// Day 0 is the first treated day.
func IsTreated(daysFromCutoff int) bool {
	return daysFromCutoff >= 0
}

// Value returns the observation's value for the given outcome, or NaN if the
// outcome is unknown or missing.
func (o Observation) Value(outcome Outcome) float64 {
	switch outcome {
	case PropertyCrimeRate:
		return o.PropertyCrimeRate
	case ViolentCrimeRate:
		return o.ViolentCrimeRate
	default:
		return math.NaN()
	}
}

// InWindow reports whether the observation lies within bandwidth days of the cutoff.
func (o Observation) InWindow(bandwidth int) bool {
	d := o.DaysFromCutoff
	return d >= -bandwidth && d <= bandwidth
}

// Dataset is the immutable observation table for one analysis session.
// Rows are held sorted by days_from_cutoff, then date.
type Dataset struct {
	source string
	rows   []Observation
}

// NewDataset copies rows into a Dataset ordered by the running variable.
func NewDataset(source string, rows []Observation) *Dataset {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Observation) int {
		if a.DaysFromCutoff != b.DaysFromCutoff {
			return a.DaysFromCutoff - b.DaysFromCutoff
		}
		return a.Date.Compare(b.Date)
	})
	return &Dataset{source: source, rows: sorted}
}

// Source returns the location the dataset was loaded from.
func (d *Dataset) Source() string { return d.source }

// Len returns the number of observations.
func (d *Dataset) Len() int { return len(d.rows) }

// Rows returns a copy of all observations.
func (d *Dataset) Rows() []Observation { return slices.Clone(d.rows) }

// Window returns the observations with |days_from_cutoff| <= bandwidth.
func (d *Dataset) Window(bandwidth int) []Observation {
	out := make([]Observation, 0, len(d.rows))
	for _, o := range d.rows {
		if o.InWindow(bandwidth) {
			out = append(out, o)
		}
	}
	return out
}

// OutcomeSummary holds pre/post-cutoff means for one outcome.
type OutcomeSummary struct {
	Outcome  Outcome
	PreMean  float64
	PostMean float64
	PreDays  int
	PostDays int
}

// Summary describes a dataset for the report narrative.
type Summary struct {
	Source    string
	Rows      int
	FirstDate time.Time
	LastDate  time.Time
	MinDays   int
	MaxDays   int
	Outcomes  []OutcomeSummary
}

// Summary computes row counts, date and running-variable ranges, and
// pre/post means per outcome. NaN values are skipped.
func (d *Dataset) Summary() Summary {
	s := Summary{Source: d.source, Rows: len(d.rows)}
	if len(d.rows) == 0 {
		return s
	}

	s.MinDays = d.rows[0].DaysFromCutoff
	s.MaxDays = d.rows[len(d.rows)-1].DaysFromCutoff
	s.FirstDate = d.rows[0].Date
	s.LastDate = d.rows[0].Date
	for _, o := range d.rows {
		if o.Date.Before(s.FirstDate) {
			s.FirstDate = o.Date
		}
		if o.Date.After(s.LastDate) {
			s.LastDate = o.Date
		}
	}

	for _, outcome := range Outcomes() {
		var preSum, postSum float64
		out := OutcomeSummary{Outcome: outcome}
		for _, o := range d.rows {
			v := o.Value(outcome)
			if math.IsNaN(v) {
				continue
			}
			if o.Treated {
				postSum += v
				out.PostDays++
			} else {
				preSum += v
				out.PreDays++
			}
		}
		out.PreMean = mean(preSum, out.PreDays)
		out.PostMean = mean(postSum, out.PostDays)
		s.Outcomes = append(s.Outcomes, out)
	}
	return s
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
