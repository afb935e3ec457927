// Command genmock writes a synthetic daily crime and weather panel around a
// DST cutoff. The rows are generated by the same package the tests use, so the
// fixture and the test data never drift apart.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/dst_crime_weather.csv \
//	  -property-jump 5 -violent-jump 0 -seed 20230312
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/dataset"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := dataset.DefaultSyntheticConfig()

	out := flag.String("out", "", "output path for the CSV fixture")
	cutoff := flag.String("cutoff", def.Cutoff.Format(time.DateOnly), "date of the spring transition (day 0)")
	flag.IntVar(&def.DaysBefore, "days-before", def.DaysBefore, "rows before the cutoff")
	flag.IntVar(&def.DaysAfter, "days-after", def.DaysAfter, "rows from the cutoff onward")
	flag.Float64Var(&def.PropertyBase, "property-base", def.PropertyBase, "baseline property crime rate")
	flag.Float64Var(&def.ViolentBase, "violent-base", def.ViolentBase, "baseline violent crime rate")
	flag.Float64Var(&def.PropertyJump, "property-jump", def.PropertyJump, "discontinuity injected into property crime")
	flag.Float64Var(&def.ViolentJump, "violent-jump", def.ViolentJump, "discontinuity injected into violent crime")
	flag.Float64Var(&def.Slope, "slope", def.Slope, "linear trend per day")
	flag.Float64Var(&def.NoiseSD, "noise", def.NoiseSD, "noise standard deviation")
	flag.BoolVar(&def.Heteroskedastic, "heteroskedastic", def.Heteroskedastic, "scale noise with rainfall")
	flag.Uint64Var(&def.Seed, "seed", def.Seed, "random seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if def.DaysBefore < 1 || def.DaysAfter < 1 {
		return fmt.Errorf("-days-before and -days-after must be positive")
	}

	var err error
	if def.Cutoff, err = time.Parse(time.DateOnly, *cutoff); err != nil {
		return fmt.Errorf("invalid -cutoff: %w", err)
	}

	rows := dataset.Synthetic(def)

	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, rows); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	log.Printf("wrote %d rows to %s", len(rows), *out)

	printStats(domain.NewDataset(*out, rows))
	return nil
}

func printStats(ds *domain.Dataset) {
	s := ds.Summary()
	fmt.Println()
	fmt.Printf("=== Synthetic panel: %d days, %s to %s ===\n", s.Rows, s.FirstDate.Format(time.DateOnly), s.LastDate.Format(time.DateOnly))
	fmt.Printf("  %-22s %10s %10s\n", "Outcome", "Pre mean", "Post mean")
	for _, o := range s.Outcomes {
		fmt.Printf("  %-22s %10.2f %10.2f\n", o.Outcome.Label(), o.PreMean, o.PostMean)
	}
}
