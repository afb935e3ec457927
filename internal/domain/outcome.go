package domain

import (
	"fmt"
	"strings"
)

// Outcome names a crime-rate column that can be used as a regression outcome.
type Outcome string

const (
	PropertyCrimeRate Outcome = "property_crime_rate"
	ViolentCrimeRate  Outcome = "violent_crime_rate"
)

// Outcomes returns every supported outcome in declaration order.
func Outcomes() []Outcome {
	return []Outcome{PropertyCrimeRate, ViolentCrimeRate}
}

// ParseOutcome accepts a column name or its short alias ("property", "violent").
// Unknown names are a schema mismatch: the requested column does not exist.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "property", string(PropertyCrimeRate):
		return PropertyCrimeRate, nil
	case "violent", string(ViolentCrimeRate):
		return ViolentCrimeRate, nil
	default:
		return "", fmt.Errorf("%w: unknown outcome %q", ErrSchemaMismatch, s)
	}
}

// Label returns a human-readable name for tables and figures.
func (o Outcome) Label() string {
	switch o {
	case PropertyCrimeRate:
		return "Property Crime Rate"
	case ViolentCrimeRate:
		return "Violent Crime Rate"
	default:
		return string(o)
	}
}
