// Command validate checks a crime and weather panel before it is used for
// estimation: the schema parses, dates are unique, the treatment flag agrees
// with the running variable, weekdays match their dates, and every model in
// the sweep plan is identified on the data.
//
// Usage:
//
//	go run ./cmd/validate -data data/dst_crime_weather.csv
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/dataset"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/estimator"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"github.com/fatih/color"
)

// phase tracks pass/fail for a validation phase. Notes are informational
// and never fail the phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	data := flag.String("data", "", "path to the panel CSV")
	bandwidths := flag.String("bandwidths", "14,21,28", "bandwidths to check for identifiability")
	degrees := flag.String("degrees", "1,2", "polynomial degrees to check for identifiability")
	flag.Parse()

	if *data == "" {
		flag.Usage()
		os.Exit(1)
	}

	plan, err := parsePlan(*bandwidths, *degrees)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(*data, plan))
}

func run(path string, plan domain.SweepPlan) int {
	fmt.Println("=== DST Panel Integrity Validation ===")
	fmt.Println()

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open %s: %v\n", path, err)
		return 1
	}
	defer f.Close()

	records, err := dataset.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse %s: %v\n", path, err)
		return 1
	}

	phases := []*phase{
		validateDates(records),
		validateTreatment(records),
		validateCoverage(records),
		validateIdentification(path, records, plan),
	}

	pass := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := pass("PASS")
		if !p.passed() {
			status = fail(fmt.Sprintf("FAIL (%d errors)", len(p.errors)))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d rows, plan of %d fits\n", len(records), plan.Size())

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.notes) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		printCapped(p.errors, "")
		printCapped(p.notes, "note: ")
	}

	if !allPassed {
		return 1
	}
	fmt.Println()
	color.New(color.FgGreen, color.Bold).Println("All checks passed.")
	return 0
}

func printCapped(lines []string, prefix string) {
	const limit = 20
	for i, l := range lines {
		if i == limit {
			fmt.Printf("  ... and %d more\n", len(lines)-limit)
			return
		}
		fmt.Printf("  %s%s\n", prefix, l)
	}
}

// validateDates checks date uniqueness and weekday labels.
func validateDates(records []dataset.Record) *phase {
	p := &phase{name: "Dates unique, weekdays consistent"}
	for _, d := range dataset.DuplicateDates(records) {
		p.errorf("duplicate date %s", d.Format(time.DateOnly))
	}
	for _, r := range dataset.WeekdayMismatches(records) {
		o := r.Observation
		p.errorf("line %d: %s is a %s, labelled %s", r.Line, o.Date.Format(time.DateOnly), o.Date.Weekday(), o.DayOfWeek)
	}
	return p
}

// validateTreatment checks the treated flag against days_from_cutoff. Day 0
// disagreements are corrected on load, so they are reported as notes.
func validateTreatment(records []dataset.Record) *phase {
	p := &phase{name: "Treatment matches running variable"}
	for _, r := range dataset.TreatmentViolations(records, true) {
		o := r.Observation
		p.errorf("line %d: treated=%t with days_from_cutoff=%d", r.Line, o.Treated, o.DaysFromCutoff)
	}
	strict := dataset.TreatmentViolations(records, false)
	if n := len(strict) - len(dataset.TreatmentViolations(records, true)); n > 0 {
		p.notef("%d day-0 row(s) marked untreated; the loader assigns them to the treated side", n)
	}
	return p
}

// validateCoverage requires observations on both sides of the cutoff and
// lists gaps in the running variable.
func validateCoverage(records []dataset.Record) *phase {
	p := &phase{name: "Both sides of the cutoff covered"}
	var pre, post int
	for _, r := range records {
		if domain.IsTreated(r.Observation.DaysFromCutoff) {
			post++
		} else {
			pre++
		}
	}
	if pre == 0 {
		p.errorf("no observations before the cutoff")
	}
	if post == 0 {
		p.errorf("no observations at or after the cutoff")
	}
	if gaps := dataset.Gaps(records); len(gaps) > 0 {
		p.notef("%d missing day(s) in days_from_cutoff: %s", len(gaps), joinInts(gaps))
	}
	return p
}

// validateIdentification fits every model in the plan and records those
// that cannot be estimated.
func validateIdentification(source string, records []dataset.Record, plan domain.SweepPlan) *phase {
	p := &phase{name: "Sweep plan identified"}
	rows, _, err := dataset.Reconcile(records)
	if err != nil {
		p.errorf("dataset rejected: %v", err)
		return p
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fitter := estimator.NewFitter(domain.NewDataset(source, rows), domain.HC1, logger, observability.NewMetricsForTesting())
	for _, o := range plan.Outcomes {
		for _, b := range plan.Bandwidths {
			for _, d := range plan.Degrees {
				if _, err := fitter.Fit(o, b, d); err != nil {
					p.errorf("%v", err)
				}
			}
		}
	}
	return p
}

func parsePlan(bandwidths, degrees string) (domain.SweepPlan, error) {
	plan := domain.SweepPlan{Outcomes: domain.Outcomes()}
	var err error
	if plan.Bandwidths, err = parseInts(bandwidths); err != nil {
		return domain.SweepPlan{}, fmt.Errorf("invalid -bandwidths: %w", err)
	}
	if plan.Degrees, err = parseInts(degrees); err != nil {
		return domain.SweepPlan{}, fmt.Errorf("invalid -degrees: %w", err)
	}
	return plan.Normalize()
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(part, "%d", &n); err != nil {
			return nil, fmt.Errorf("%q is not an integer", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
