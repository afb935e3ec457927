// Package domain models the daily crime and weather panel used to estimate
// the effect of the Daylight Savings Time (DST) transition on crime.
//
// # Data Source
//
// The dataset is a single pre-merged, pre-cleaned CSV with one row per
// city-day: police-reported crime counts converted to rates per 100,000
// residents, joined with the day's weather observations. The file is fetched
// in full at report time from a fixed location (local path or URL).
//
// # Column Conventions
//
//	date                 calendar date, ISO 8601 ("2023-03-12"); unique per row
//	property_crime_rate  property crimes per 100,000 population, >= 0
//	violent_crime_rate   violent crimes per 100,000 population, >= 0
//	average_temperature  daily mean temperature (source units, not converted)
//	rainfall_mm          daily precipitation in millimetres, >= 0
//	days_from_cutoff     signed day offset from the DST transition date
//	treated              0/1 (or TRUE/FALSE) post-transition indicator
//	day_of_week          weekday name ("Monday") or three-letter abbreviation
//
// Measure columns may contain "NA" or be empty; those values load as NaN and
// the affected rows are excluded from any fit that needs them (complete
// cases only).
//
// # Boundary Day
//
// The transition day itself (days_from_cutoff == 0) is the first treated day:
// clocks move forward at 02:00, so every evening hour of that day is already
// observed under DST. Treatment is therefore
//
//	treated = days_from_cutoff >= 0
//
// See [IsTreated]. A source whose treated column disagrees with this rule only
// on day 0 is corrected on load; disagreement on any other day is malformed
// input.
//
// # Regression Discontinuity
//
// The running variable is days_from_cutoff and the threshold is 0. For an
// outcome y, bandwidth h and polynomial degree p the model fitted on
// |days_from_cutoff| <= h is
//
//	y = a + Σ b_k d^k + τ·treated + Σ c_k (treated · d^k)
//	      + day-of-week effects + rainfall_mm + average_temperature + e
//
// where τ is the treatment effect reported in a [ModelResult]. Inference on τ
// uses heteroskedasticity-consistent (HC) standard errors; see
// [CovarianceType].
package domain
