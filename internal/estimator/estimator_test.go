package estimator

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/dataset"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syntheticDataset(cfg dataset.SyntheticConfig) *domain.Dataset {
	return domain.NewDataset("synthetic", dataset.Synthetic(cfg))
}

func newTestFitter(ds *domain.Dataset, cov domain.CovarianceType) *Fitter {
	return NewFitter(ds, cov, discardLogger(), observability.NewMetricsForTesting())
}

func TestPolynomialBasis(t *testing.T) {
	assert.Equal(t, []float64{-3}, PolynomialBasis(-3, 1))
	assert.Equal(t, []float64{-3, 9, -27}, PolynomialBasis(-3, 3))
	assert.Empty(t, PolynomialBasis(2, 0))
}

func TestBuildDesign_ColumnLayout(t *testing.T) {
	rows := dataset.Synthetic(dataset.DefaultSyntheticConfig())
	d := buildDesign(rows, domain.PropertyCrimeRate, 14, 2)

	assert.Equal(t, []string{
		"(intercept)",
		"days_from_cutoff",
		"days_from_cutoff^2",
		"treated",
		"treated:days_from_cutoff",
		"treated:days_from_cutoff^2",
		"day_of_weekMonday",
		"day_of_weekSaturday",
		"day_of_weekSunday",
		"day_of_weekThursday",
		"day_of_weekTuesday",
		"day_of_weekWednesday",
		"rainfall_mm",
		"average_temperature",
	}, d.names, "Friday is the alphabetical reference level")
	assert.Equal(t, 3, d.treated)
	assert.Equal(t, 29, d.n())
	assert.Equal(t, 29, d.window)

	r, c := d.x.Dims()
	assert.Equal(t, 29, r)
	assert.Equal(t, 14, c)
	for i := range r {
		days := d.x.At(i, 1)
		assert.LessOrEqual(t, math.Abs(days), 14.0, "row outside the window")
		assert.InDelta(t, days*days, d.x.At(i, 2), 0)
		assert.Equal(t, indicator(days >= 0), d.x.At(i, 3))
		assert.InDelta(t, d.x.At(i, 3)*days, d.x.At(i, 4), 0)
	}
}

func TestBuildDesign_DropsIncompleteCases(t *testing.T) {
	rows := dataset.Synthetic(dataset.DefaultSyntheticConfig())
	for i := range rows {
		switch rows[i].DaysFromCutoff {
		case -5:
			rows[i].PropertyCrimeRate = math.NaN()
		case 3:
			rows[i].RainfallMM = math.NaN()
		case 40:
			rows[i].AverageTemperature = math.NaN()
		}
	}

	d := buildDesign(rows, domain.PropertyCrimeRate, 21, 1)
	assert.Equal(t, 43, d.window)
	assert.Equal(t, 41, d.n())

	d = buildDesign(rows, domain.ViolentCrimeRate, 21, 1)
	assert.Equal(t, 42, d.n(), "missing property rate does not drop the row for violent crime")
}

func TestFit_WindowContainsOnlyInBandwidthRows(t *testing.T) {
	ds := syntheticDataset(dataset.DefaultSyntheticConfig())
	for _, bw := range []int{7, 14, 21, 28} {
		want := 0
		for _, o := range ds.Rows() {
			if o.DaysFromCutoff >= -bw && o.DaysFromCutoff <= bw {
				want++
			}
		}
		r, err := newTestFitter(ds, domain.HC1).Fit(domain.PropertyCrimeRate, bw, 1)
		require.NoError(t, err)
		assert.Equal(t, want, r.Observations, "bandwidth %d", bw)
		assert.Equal(t, r.Observations-r.Parameters, r.DegreesOfFreedom)
	}
}

func TestFit_RecoversExactCoefficients(t *testing.T) {
	cutoff := time.Date(2023, time.March, 12, 0, 0, 0, 0, time.UTC)
	var rows []domain.Observation
	for d := -20; d < 20; d++ {
		date := cutoff.AddDate(0, 0, d)
		rain := float64((d*d)%7) * 1.5
		temp := 10 + 3*math.Sin(float64(d))
		treated := domain.IsTreated(d)
		y := 2 + 0.5*float64(d) + 0.1*rain + 0.2*temp
		if treated {
			y += 3 - 0.25*float64(d)
		}
		if date.Weekday() == time.Saturday {
			y += 4
		}
		rows = append(rows, domain.Observation{
			Date:               date,
			PropertyCrimeRate:  y,
			ViolentCrimeRate:   y,
			AverageTemperature: temp,
			RainfallMM:         rain,
			DaysFromCutoff:     d,
			Treated:            treated,
			DayOfWeek:          date.Weekday(),
		})
	}
	ds := domain.NewDataset("exact", rows)

	d := buildDesign(ds.Window(20), domain.PropertyCrimeRate, 20, 1)
	fit, err := fitOLS(d, domain.HC1)
	require.NoError(t, err)

	want := map[string]float64{
		"(intercept)":              2,
		"days_from_cutoff":         0.5,
		"treated":                  3,
		"treated:days_from_cutoff": -0.25,
		"day_of_weekSaturday":      4,
		"day_of_weekSunday":        0,
		"rainfall_mm":              0.1,
		"average_temperature":      0.2,
	}
	for j, name := range d.names {
		if w, ok := want[name]; ok {
			assert.InDelta(t, w, fit.coef[j], 1e-8, name)
		}
	}
}

func TestFit_RecoversInjectedJump(t *testing.T) {
	ds := syntheticDataset(dataset.DefaultSyntheticConfig())
	r, err := newTestFitter(ds, domain.HC1).Fit(domain.PropertyCrimeRate, 21, 1)
	require.NoError(t, err)

	assert.Equal(t, domain.PropertyCrimeRate, r.Outcome)
	assert.Equal(t, 21, r.Bandwidth)
	assert.Equal(t, 1, r.Degree)
	assert.Equal(t, "Linear", r.FunctionalForm)
	assert.Equal(t, domain.HC1, r.CovarianceType)
	assert.Equal(t, 43, r.Observations)
	assert.Greater(t, r.CILow, 0.0, "interval excludes zero")
	assert.True(t, r.Significant)
	assert.Less(t, r.PValue, 0.05)
	assert.InDelta(t, r.Estimate, (r.CILow+r.CIHigh)/2, 1e-9)
	assert.InDelta(t, r.Estimate/r.StdErr, r.TStat, 1e-9)
}

func TestFit_IntervalCoversTrueJump(t *testing.T) {
	covered := 0
	const seeds = 20
	for seed := range uint64(seeds) {
		cfg := dataset.DefaultSyntheticConfig()
		cfg.Seed = 1000 + seed
		r, err := newTestFitter(syntheticDataset(cfg), domain.HC1).Fit(domain.PropertyCrimeRate, 21, 1)
		require.NoError(t, err)
		if r.CILow <= 5 && 5 <= r.CIHigh {
			covered++
		}
		assert.Greater(t, r.CILow, 0.0, "seed %d", cfg.Seed)
	}
	assert.GreaterOrEqual(t, covered, 15, "95%% intervals should cover the injected jump in most draws")
}

func TestFit_NoJumpOnViolentCrime(t *testing.T) {
	covered := 0
	for seed := range uint64(20) {
		cfg := dataset.DefaultSyntheticConfig()
		cfg.Seed = 5000 + seed
		r, err := newTestFitter(syntheticDataset(cfg), domain.HC1).Fit(domain.ViolentCrimeRate, 28, 1)
		require.NoError(t, err)
		if r.CILow <= 0 && 0 <= r.CIHigh {
			covered++
		}
	}
	assert.GreaterOrEqual(t, covered, 15)
}

func TestFit_RobustDiffersFromClassical(t *testing.T) {
	cfg := dataset.DefaultSyntheticConfig()
	cfg.Heteroskedastic = true
	cfg.NoiseSD = 1
	ds := syntheticDataset(cfg)

	for _, cov := range []domain.CovarianceType{domain.HC0, domain.HC1, domain.HC2, domain.HC3} {
		r, err := newTestFitter(ds, cov).Fit(domain.PropertyCrimeRate, 28, 1)
		require.NoError(t, err)
		assert.NotEqual(t, r.ClassicalStdErr, r.StdErr, "%s", cov)
		assert.Greater(t, r.StdErr, 0.0)
		assert.Greater(t, r.ClassicalStdErr, 0.0)
	}
}

func TestFit_CovarianceOrdering(t *testing.T) {
	cfg := dataset.DefaultSyntheticConfig()
	cfg.Heteroskedastic = true
	ds := syntheticDataset(cfg)

	se := map[domain.CovarianceType]domain.ModelResult{}
	for _, cov := range []domain.CovarianceType{domain.HC0, domain.HC1, domain.HC2, domain.HC3} {
		r, err := newTestFitter(ds, cov).Fit(domain.PropertyCrimeRate, 21, 2)
		require.NoError(t, err)
		se[cov] = r
	}

	n, k := float64(se[domain.HC0].Observations), float64(se[domain.HC0].Parameters)
	assert.InDelta(t, se[domain.HC0].StdErr*math.Sqrt(n/(n-k)), se[domain.HC1].StdErr, 1e-9)
	assert.LessOrEqual(t, se[domain.HC0].StdErr, se[domain.HC2].StdErr)
	assert.LessOrEqual(t, se[domain.HC2].StdErr, se[domain.HC3].StdErr)
	for _, r := range se {
		assert.Equal(t, se[domain.HC0].Estimate, r.Estimate, "covariance choice does not move the estimate")
		assert.Equal(t, se[domain.HC0].ClassicalStdErr, r.ClassicalStdErr)
	}
}

func TestFit_Deterministic(t *testing.T) {
	ds := syntheticDataset(dataset.DefaultSyntheticConfig())
	f := newTestFitter(ds, domain.HC3)

	a, err := f.Fit(domain.ViolentCrimeRate, 28, 2)
	require.NoError(t, err)
	b, err := f.Fit(domain.ViolentCrimeRate, 28, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := newTestFitter(syntheticDataset(dataset.DefaultSyntheticConfig()), domain.HC3).Fit(domain.ViolentCrimeRate, 28, 2)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestFit_NotIdentified(t *testing.T) {
	ds := syntheticDataset(dataset.DefaultSyntheticConfig())
	f := newTestFitter(ds, domain.HC1)

	// Degree 2 has 14 parameters; bandwidth 6 leaves 13 rows and 7 leaves 15.
	for _, bw := range []int{1, 2, 3, 4, 5, 6} {
		_, err := f.Fit(domain.PropertyCrimeRate, bw, 2)
		require.Error(t, err, "bandwidth %d", bw)
		assert.ErrorIs(t, err, domain.ErrModelNotIdentified)

		var fe *domain.FitError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, domain.PropertyCrimeRate, fe.Outcome)
		assert.Equal(t, bw, fe.Bandwidth)
		assert.Equal(t, 2, fe.Degree)
	}
	assert.InDelta(t, 6.0, testutil.ToFloat64(f.metrics.Fits.WithLabelValues("property_crime_rate", "not_identified")), 0)

	r, err := f.Fit(domain.PropertyCrimeRate, 7, 2)
	require.NoError(t, err, "bandwidth 7 is the first identified quadratic")
	assert.Equal(t, 15, r.Observations)
	assert.Equal(t, 14, r.Parameters)
}

func TestFit_HugeDegreeRejectedBeforeAllocation(t *testing.T) {
	ds := syntheticDataset(dataset.DefaultSyntheticConfig())
	f := newTestFitter(ds, domain.HC1)

	for _, degree := range []int{57, 200000, 1 << 40, math.MaxInt} {
		_, err := f.Fit(domain.PropertyCrimeRate, 28, degree)
		require.Error(t, err, "degree %d", degree)
		assert.ErrorIs(t, err, domain.ErrModelNotIdentified)
	}
}

func TestCheckIdentified(t *testing.T) {
	rows := dataset.Synthetic(dataset.DefaultSyntheticConfig())

	err := checkIdentified(rows, domain.PropertyCrimeRate, 28, 1<<40)
	require.ErrorIs(t, err, domain.ErrModelNotIdentified)
	assert.Contains(t, err.Error(), "57 complete observations cannot carry a degree")

	err = checkIdentified(rows, domain.PropertyCrimeRate, 6, 2)
	require.ErrorIs(t, err, domain.ErrModelNotIdentified)
	assert.Contains(t, err.Error(), "13 complete observations for 14 parameters")

	assert.NoError(t, checkIdentified(rows, domain.PropertyCrimeRate, 7, 2))
	assert.Equal(t, 14, parameterCount(2, 7))
	assert.Equal(t, 6, parameterCount(1, 1))
}

func TestFit_RankDeficientDesign(t *testing.T) {
	rows := dataset.Synthetic(dataset.DefaultSyntheticConfig())
	for i := range rows {
		rows[i].AverageTemperature = 8 + 0.2*float64(rows[i].DaysFromCutoff)
	}
	_, err := newTestFitter(domain.NewDataset("collinear", rows), domain.HC1).Fit(domain.PropertyCrimeRate, 28, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelNotIdentified)
	assert.Contains(t, err.Error(), "rank")

	rows = dataset.Synthetic(dataset.DefaultSyntheticConfig())
	for i := range rows {
		rows[i].RainfallMM = 0
	}
	_, err = newTestFitter(domain.NewDataset("dry", rows), domain.HC1).Fit(domain.PropertyCrimeRate, 28, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelNotIdentified)
	assert.Contains(t, err.Error(), "rainfall_mm")
}

func TestFit_InvalidArguments(t *testing.T) {
	f := newTestFitter(syntheticDataset(dataset.DefaultSyntheticConfig()), domain.HC1)

	_, err := f.Fit("burglary_rate", 14, 1)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)

	_, err = f.Fit(domain.PropertyCrimeRate, 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.Fit(domain.PropertyCrimeRate, 14, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	r, err := f.Fit("property", 14, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyCrimeRate, r.Outcome, "aliases resolve to the column name")
}

func TestNewFitter_DefaultsToHC1(t *testing.T) {
	f := newTestFitter(syntheticDataset(dataset.DefaultSyntheticConfig()), "")
	assert.Equal(t, domain.HC1, f.Covariance())
}

func TestInference(t *testing.T) {
	tstat, p, lo, hi := inference(2, 1, 1_000_000)
	assert.InDelta(t, 2.0, tstat, 1e-12)
	assert.InDelta(t, 0.0455, p, 1e-3)
	assert.InDelta(t, 2-1.96, lo, 1e-3)
	assert.InDelta(t, 2+1.96, hi, 1e-3)

	_, p, _, _ = inference(0, 1, 10)
	assert.InDelta(t, 1.0, p, 1e-12)

	tstat, p, lo, hi = inference(-3, 0, 10)
	assert.True(t, math.IsInf(tstat, -1))
	assert.Zero(t, p)
	assert.Equal(t, -3.0, lo)
	assert.Equal(t, -3.0, hi)

	tstat, p, _, _ = inference(0, 0, 10)
	assert.True(t, math.IsNaN(tstat))
	assert.Equal(t, 1.0, p)
}

func TestPolyFit(t *testing.T) {
	var x, y []float64
	for d := -10; d <= 10; d++ {
		v := float64(d)
		x = append(x, v)
		y = append(y, 1.5-0.3*v+0.02*v*v)
	}
	coef, err := PolyFit(x, y, 2)
	require.NoError(t, err)
	require.Len(t, coef, 3)
	assert.InDelta(t, 1.5, coef[0], 1e-9)
	assert.InDelta(t, -0.3, coef[1], 1e-9)
	assert.InDelta(t, 0.02, coef[2], 1e-9)
	assert.InDelta(t, 1.5+0.6+0.08, EvalPoly(coef, -2), 1e-9)

	_, err = PolyFit(x[:2], y[:2], 2)
	assert.ErrorIs(t, err, domain.ErrModelNotIdentified)
	_, err = PolyFit(x, y[:3], 1)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = PolyFit(x, y, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
