package estimator

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// TreatedTerm is the column name of the treatment indicator in the design.
const TreatedTerm = "treated"

// PolynomialBasis returns the raw powers d, d², …, d^degree.
func PolynomialBasis(d float64, degree int) []float64 {
	out := make([]float64, degree)
	p := 1.0
	for k := range degree {
		p *= d
		out[k] = p
	}
	return out
}

// design is the regression matrix for one (outcome, bandwidth, degree) fit.
type design struct {
	x       *mat.Dense
	y       []float64
	names   []string
	treated int // column index of the treatment indicator
	window  int // in-window rows before dropping incomplete cases
}

func (d design) n() int { return len(d.y) }
func (d design) k() int { return len(d.names) }

// complete reports whether every modeled value on the row is present.
func complete(o domain.Observation, outcome domain.Outcome) bool {
	return !math.IsNaN(o.Value(outcome)) && !math.IsNaN(o.RainfallMM) && !math.IsNaN(o.AverageTemperature)
}

// weekdayLevels returns the weekdays present in rows, ordered by name. The
// first level is the reference category and gets no dummy column.
func weekdayLevels(rows []domain.Observation) []time.Weekday {
	var levels []time.Weekday
	for _, o := range rows {
		if !slices.Contains(levels, o.DayOfWeek) {
			levels = append(levels, o.DayOfWeek)
		}
	}
	slices.SortFunc(levels, func(a, b time.Weekday) int {
		return strings.Compare(a.String(), b.String())
	})
	return levels
}

// windowRows returns the complete-case rows within bandwidth and the number
// of in-window rows before incomplete cases were dropped.
func windowRows(rows []domain.Observation, outcome domain.Outcome, bandwidth int) ([]domain.Observation, int) {
	var kept []domain.Observation
	window := 0
	for _, o := range rows {
		if !o.InWindow(bandwidth) {
			continue
		}
		window++
		if complete(o, outcome) {
			kept = append(kept, o)
		}
	}
	return kept, window
}

// parameterCount is the number of design columns for a degree and the
// number of weekday levels present.
func parameterCount(degree, levels int) int {
	return 2 + 2*degree + max(levels-1, 0) + 2
}

// checkIdentified rejects a fit with fewer complete observations than
// parameters + 1. It runs before the design is built, so the degree bounds
// the allocation only once it is known to fit the data.
func checkIdentified(rows []domain.Observation, outcome domain.Outcome, bandwidth, degree int) error {
	kept, window := windowRows(rows, outcome, bandwidth)
	n := len(kept)
	if degree >= n {
		return fmt.Errorf("%w: %d complete observations cannot carry a degree %d polynomial (%d in window)",
			domain.ErrModelNotIdentified, n, degree, window)
	}
	if k := parameterCount(degree, len(weekdayLevels(kept))); n < k+1 {
		return fmt.Errorf("%w: %d complete observations for %d parameters (%d in window)",
			domain.ErrModelNotIdentified, n, k, window)
	}
	return nil
}

// buildDesign filters rows to the bandwidth window and complete cases, then
// lays out the columns: intercept, d^1..d^p, treated, treated×d^1..d^p,
// weekday dummies, rainfall_mm, average_temperature.
func buildDesign(rows []domain.Observation, outcome domain.Outcome, bandwidth, degree int) design {
	kept, window := windowRows(rows, outcome, bandwidth)
	levels := weekdayLevels(kept)
	names := []string{"(intercept)"}
	for k := 1; k <= degree; k++ {
		names = append(names, powerName(k))
	}
	treated := len(names)
	names = append(names, TreatedTerm)
	for k := 1; k <= degree; k++ {
		names = append(names, TreatedTerm+":"+powerName(k))
	}
	if len(levels) > 1 {
		for _, l := range levels[1:] {
			names = append(names, "day_of_week"+l.String())
		}
	}
	names = append(names, "rainfall_mm", "average_temperature")

	cols := len(names)
	data := make([]float64, 0, len(kept)*cols)
	y := make([]float64, 0, len(kept))
	for _, o := range kept {
		tr := 0.0
		if o.Treated {
			tr = 1
		}
		powers := PolynomialBasis(float64(o.DaysFromCutoff), degree)

		data = append(data, 1)
		data = append(data, powers...)
		data = append(data, tr)
		for _, p := range powers {
			data = append(data, tr*p)
		}
		if len(levels) > 1 {
			for _, l := range levels[1:] {
				data = append(data, indicator(o.DayOfWeek == l))
			}
		}
		data = append(data, o.RainfallMM, o.AverageTemperature)
		y = append(y, o.Value(outcome))
	}

	d := design{y: y, names: names, treated: treated, window: window}
	if len(kept) > 0 {
		d.x = mat.NewDense(len(kept), cols, data)
	}
	return d
}

func powerName(k int) string {
	if k == 1 {
		return "days_from_cutoff"
	}
	return fmt.Sprintf("days_from_cutoff^%d", k)
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
