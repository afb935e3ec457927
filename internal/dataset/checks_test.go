package dataset

import (
	"bytes"
	"testing"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(rows []domain.Observation) []Record {
	out := make([]Record, len(rows))
	for i, o := range rows {
		out[i] = Record{Line: i + 2, Observation: o}
	}
	return out
}

func TestGaps(t *testing.T) {
	rows := Synthetic(DefaultSyntheticConfig())
	var kept []domain.Observation
	for _, o := range rows {
		if o.DaysFromCutoff == -3 || o.DaysFromCutoff == 5 || o.DaysFromCutoff == 6 {
			continue
		}
		kept = append(kept, o)
	}

	if diff := cmp.Diff([]int{-3, 5, 6}, Gaps(records(kept))); diff != "" {
		t.Fatalf("gaps mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Gaps(records(rows)))
	assert.Nil(t, Gaps(nil))
}

func TestTreatmentViolations(t *testing.T) {
	rows := Synthetic(DefaultSyntheticConfig())
	assert.Empty(t, TreatmentViolations(records(rows), false), "generated rows satisfy the step function")

	for i := range rows {
		switch rows[i].DaysFromCutoff {
		case 0, 4:
			rows[i].Treated = false
		}
	}
	strict := TreatmentViolations(records(rows), false)
	tolerant := TreatmentViolations(records(rows), true)
	assert.Len(t, strict, 2)
	require.Len(t, tolerant, 1)
	assert.Equal(t, 4, tolerant[0].Observation.DaysFromCutoff)
}

func TestWeekdayMismatches(t *testing.T) {
	rows := Synthetic(DefaultSyntheticConfig())
	assert.Empty(t, WeekdayMismatches(records(rows)))

	rows[0].DayOfWeek = (rows[0].DayOfWeek + 1) % 7
	assert.Len(t, WeekdayMismatches(records(rows)), 1)
}

func TestDuplicateDates(t *testing.T) {
	rows := Synthetic(DefaultSyntheticConfig())[:3]
	rows = append(rows, rows[1], rows[1])
	dups := DuplicateDates(records(rows))
	require.Len(t, dups, 1, "each duplicated date reported once")
	assert.Equal(t, rows[1].Date, dups[0])
}

func TestSynthetic_Deterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	a := Synthetic(cfg)
	b := Synthetic(cfg)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different rows (-a +b):\n%s", diff)
	}

	cfg.Seed++
	c := Synthetic(cfg)
	assert.NotEqual(t, a[0].PropertyCrimeRate, c[0].PropertyCrimeRate)
}

func TestSynthetic_Shape(t *testing.T) {
	rows := Synthetic(DefaultSyntheticConfig())
	require.Len(t, rows, 60)
	assert.Equal(t, -30, rows[0].DaysFromCutoff)
	assert.Equal(t, 29, rows[59].DaysFromCutoff)
	assert.Equal(t, time.Date(2023, time.March, 12, 0, 0, 0, 0, time.UTC), rows[30].Date)
	for _, o := range rows {
		assert.GreaterOrEqual(t, o.PropertyCrimeRate, 0.0)
		assert.GreaterOrEqual(t, o.RainfallMM, 0.0)
		assert.Equal(t, o.Date.Weekday(), o.DayOfWeek)
	}
}

func TestWriteCSV_ParsesBack(t *testing.T) {
	rows := Synthetic(DefaultSyntheticConfig())
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, len(rows))
	assert.Equal(t, rows[17], parsed[17].Observation)
}
