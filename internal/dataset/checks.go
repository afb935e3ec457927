package dataset

import (
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
)

// DuplicateDates returns each date that appears on more than one record.
func DuplicateDates(records []Record) []time.Time {
	seen := make(map[time.Time]int, len(records))
	var dups []time.Time
	for _, r := range records {
		seen[r.Observation.Date]++
		if seen[r.Observation.Date] == 2 {
			dups = append(dups, r.Observation.Date)
		}
	}
	return dups
}

// TreatmentViolations returns records whose treated flag disagrees with the
// sign of days_from_cutoff. Day 0 is excluded when boundaryTolerant is set.
func TreatmentViolations(records []Record, boundaryTolerant bool) []Record {
	var out []Record
	for _, r := range records {
		o := r.Observation
		if o.Treated == domain.IsTreated(o.DaysFromCutoff) {
			continue
		}
		if boundaryTolerant && o.DaysFromCutoff == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Gaps returns the day offsets missing between the smallest and largest
// days_from_cutoff present in the source.
func Gaps(records []Record) []int {
	if len(records) == 0 {
		return nil
	}
	days := make([]int, 0, len(records))
	for _, r := range records {
		days = append(days, r.Observation.DaysFromCutoff)
	}
	slices.Sort(days)
	days = slices.Compact(days)

	var gaps []int
	for i := 1; i < len(days); i++ {
		for d := days[i-1] + 1; d < days[i]; d++ {
			gaps = append(gaps, d)
		}
	}
	return gaps
}

// WeekdayMismatches returns records whose day_of_week does not match the
// calendar weekday of their date.
func WeekdayMismatches(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if r.Observation.Date.Weekday() != r.Observation.DayOfWeek {
			out = append(out, r)
		}
	}
	return out
}

// Reconcile enforces the dataset invariants on parsed records: unique dates
// and treatment consistent with the running variable. Day-0 records are
// assigned the treated side; it returns how many were corrected.
func Reconcile(records []Record) ([]domain.Observation, int, error) {
	if dups := DuplicateDates(records); len(dups) > 0 {
		return nil, 0, fmt.Errorf("%w: duplicate date %s", domain.ErrDataUnavailable, dups[0].Format(time.DateOnly))
	}
	if bad := TreatmentViolations(records, true); len(bad) > 0 {
		o := bad[0].Observation
		return nil, 0, fmt.Errorf("%w: line %d: treated=%t inconsistent with days_from_cutoff=%d",
			domain.ErrDataUnavailable, bad[0].Line, o.Treated, o.DaysFromCutoff)
	}

	corrected := 0
	rows := make([]domain.Observation, len(records))
	for i, r := range records {
		o := r.Observation
		if treated := domain.IsTreated(o.DaysFromCutoff); o.Treated != treated {
			o.Treated = treated
			corrected++
		}
		rows[i] = o
	}
	return rows, corrected, nil
}
