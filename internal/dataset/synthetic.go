package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
)

// SyntheticConfig describes a generated panel around a single cutoff.
type SyntheticConfig struct {
	Cutoff     time.Time
	DaysBefore int // rows at days -DaysBefore..-1
	DaysAfter  int // rows at days 0..DaysAfter-1

	PropertyBase float64
	ViolentBase  float64
	PropertyJump float64 // injected discontinuity at day 0
	ViolentJump  float64
	Slope        float64 // linear trend in the running variable, applied to both outcomes

	NoiseSD float64
	// Heteroskedastic scales each day's noise by 1 + rainfall/5, so rainy days are noisier.
	Heteroskedastic bool
	Seed            uint64
}

// DefaultSyntheticConfig is a 60-day window (30 before, 30 after the 2023 US
// spring transition) with a +5 property-crime jump and no other signal.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Cutoff:       time.Date(2023, time.March, 12, 0, 0, 0, 0, time.UTC),
		DaysBefore:   30,
		DaysAfter:    30,
		PropertyBase: 30,
		ViolentBase:  10,
		PropertyJump: 5,
		NoiseSD:      0.5,
		Seed:         20230312,
	}
}

// Synthetic generates a deterministic panel from cfg.
func Synthetic(cfg SyntheticConfig) []domain.Observation {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	rows := make([]domain.Observation, 0, cfg.DaysBefore+cfg.DaysAfter)

	for d := -cfg.DaysBefore; d < cfg.DaysAfter; d++ {
		date := cfg.Cutoff.AddDate(0, 0, d)
		treated := domain.IsTreated(d)

		rainfall := 0.0
		if rng.Float64() < 0.4 {
			rainfall = math.Round(rng.ExpFloat64()*40) / 10
		}
		temperature := math.Round((8+0.2*float64(d)+3*rng.NormFloat64())*10) / 10

		sd := cfg.NoiseSD
		if cfg.Heteroskedastic {
			sd *= 1 + rainfall/5
		}

		trend := cfg.Slope * float64(d)
		property := cfg.PropertyBase + trend + sd*rng.NormFloat64()
		violent := cfg.ViolentBase + trend + sd*rng.NormFloat64()
		if treated {
			property += cfg.PropertyJump
			violent += cfg.ViolentJump
		}

		rows = append(rows, domain.Observation{
			Date:               date,
			PropertyCrimeRate:  math.Max(0, property),
			ViolentCrimeRate:   math.Max(0, violent),
			AverageTemperature: temperature,
			RainfallMM:         rainfall,
			DaysFromCutoff:     d,
			Treated:            treated,
			DayOfWeek:          date.Weekday(),
		})
	}
	return rows
}

// WriteCSV writes observations with the canonical header. NaN measures are written as NA.
func WriteCSV(w io.Writer, rows []domain.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range rows {
		treated := "0"
		if o.Treated {
			treated = "1"
		}
		record := []string{
			o.Date.Format(time.DateOnly),
			formatMeasure(o.PropertyCrimeRate),
			formatMeasure(o.ViolentCrimeRate),
			formatMeasure(o.AverageTemperature),
			formatMeasure(o.RainfallMM),
			strconv.Itoa(o.DaysFromCutoff),
			treated,
			o.DayOfWeek.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s: %w", o.Date.Format(time.DateOnly), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatMeasure(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
