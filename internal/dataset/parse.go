package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
)

// Column names expected in the source header.
const (
	ColDate               = "date"
	ColPropertyCrimeRate  = "property_crime_rate"
	ColViolentCrimeRate   = "violent_crime_rate"
	ColAverageTemperature = "average_temperature"
	ColRainfallMM         = "rainfall_mm"
	ColDaysFromCutoff     = "days_from_cutoff"
	ColTreated            = "treated"
	ColDayOfWeek          = "day_of_week"
)

// Columns lists the required columns in canonical order.
var Columns = []string{
	ColDate,
	ColPropertyCrimeRate,
	ColViolentCrimeRate,
	ColAverageTemperature,
	ColRainfallMM,
	ColDaysFromCutoff,
	ColTreated,
	ColDayOfWeek,
}

// dateLayouts are tried in order; R's write.csv emits the first.
var dateLayouts = []string{"2006-01-02", "1/2/2006", "2006/01/02"}

// weekdays maps lowercase full names and three-letter abbreviations.
var weekdays = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 14)
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		m[name] = d
		m[name[:3]] = d
	}
	return m
}()

// Record is a parsed source row. Treated holds the source's own flag; callers
// reconcile it with the running variable (see Reconcile).
type Record struct {
	Line        int
	Observation domain.Observation
}

// Parse reads the CSV header and rows. Header matching is case-insensitive;
// extra columns are ignored. A missing column is ErrSchemaMismatch; any
// unparseable value is ErrDataUnavailable.
func Parse(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty source", domain.ErrDataUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrDataUnavailable, err)
	}

	idx, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}

		o, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrDataUnavailable, line, err)
		}
		records = append(records, Record{Line: line, Observation: o})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no data rows", domain.ErrDataUnavailable)
	}
	return records, nil
}

func indexColumns(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	var missing []string
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseRow(row []string, idx map[string]int) (domain.Observation, error) {
	field := func(col string) string {
		if i := idx[col]; i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var o domain.Observation
	var err error

	if o.Date, err = parseDate(field(ColDate)); err != nil {
		return o, err
	}
	if o.DaysFromCutoff, err = parseDays(field(ColDaysFromCutoff)); err != nil {
		return o, err
	}
	if o.PropertyCrimeRate, err = parseMeasure(ColPropertyCrimeRate, field(ColPropertyCrimeRate), true); err != nil {
		return o, err
	}
	if o.ViolentCrimeRate, err = parseMeasure(ColViolentCrimeRate, field(ColViolentCrimeRate), true); err != nil {
		return o, err
	}
	if o.AverageTemperature, err = parseMeasure(ColAverageTemperature, field(ColAverageTemperature), false); err != nil {
		return o, err
	}
	if o.RainfallMM, err = parseMeasure(ColRainfallMM, field(ColRainfallMM), true); err != nil {
		return o, err
	}
	if o.Treated, err = parseTreated(field(ColTreated)); err != nil {
		return o, err
	}
	if o.DayOfWeek, err = parseWeekday(field(ColDayOfWeek)); err != nil {
		return o, err
	}
	return o, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: invalid date %q", ColDate, s)
}

// maxDayOffset bounds days_from_cutoff; larger offsets cannot be calendar days
// around a single transition.
const maxDayOffset = math.MaxInt32

// parseDays accepts integers and integral floats ("12.0") within
// ±maxDayOffset.
func parseDays(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: invalid day offset %q", ColDaysFromCutoff, s)
	}
	if math.Abs(f) > maxDayOffset {
		return 0, fmt.Errorf("%s: day offset %q out of range", ColDaysFromCutoff, s)
	}
	return int(f), nil
}

// parseMeasure returns NaN for missing values ("", "NA", "NaN").
func parseMeasure(col, s string, nonNegative bool) (float64, error) {
	switch strings.ToUpper(s) {
	case "", "NA", "NAN":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: invalid number %q", col, s)
	}
	if nonNegative && v < 0 {
		return 0, fmt.Errorf("%s: negative value %v", col, v)
	}
	return v, nil
}

func parseTreated(s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: invalid indicator %q", ColTreated, s)
	}
	return b, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("%s: unknown weekday %q", ColDayOfWeek, s)
	}
	return d, nil
}
