package report

import (
	"fmt"
	"math"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet = "Estimates"
	datasetSheet = "Dataset"
)

// Workbook renders the results and a dataset description as an xlsx file.
func Workbook(in Input) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:       "DST regression discontinuity estimates",
		Subject:     "Treatment effect of the spring DST transition on crime rates",
		Creator:     "rdd",
		Description: fmt.Sprintf("Run %s, %s standard errors", in.RunID, in.Covariance),
		Created:     in.GeneratedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("set doc props: %w", err)
	}

	if err := writeResultsSheet(f, in); err != nil {
		return nil, fmt.Errorf("results sheet: %w", err)
	}
	if err := writeDatasetSheet(f, in); err != nil {
		return nil, fmt.Errorf("dataset sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeResultsSheet(f *excelize.File, in Input) error {
	idx, err := f.NewSheet(resultsSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	headers := []any{
		"Outcome", "Bandwidth (days)", "Degree", "Functional form", "Estimate", "Std. error",
		"Classical std. error", "CI low", "CI high", "t", "p-value", "Significant", "N", "df", "Covariance",
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &headers); err != nil {
		return err
	}

	for i, r := range in.Results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			string(r.Outcome), r.Bandwidth, r.Degree, r.FunctionalForm, cellNumber(r.Estimate), cellNumber(r.StdErr),
			cellNumber(r.ClassicalStdErr), cellNumber(r.CILow), cellNumber(r.CIHigh), cellNumber(r.TStat), cellNumber(r.PValue), r.Significant,
			r.Observations, r.DegreesOfFreedom, string(r.CovarianceType),
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(resultsSheet, "A1", lastHeader, bold); err != nil {
		return err
	}

	if len(in.Results) > 0 {
		numFmt := "0.0000"
		numeric, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
		if err != nil {
			return err
		}
		last, _ := excelize.CoordinatesToCellName(11, len(in.Results)+1)
		if err := f.SetCellStyle(resultsSheet, "E2", last, numeric); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(resultsSheet, "A", "A", 22); err != nil {
		return err
	}
	return f.SetColWidth(resultsSheet, "B", "O", 14)
}

func writeDatasetSheet(f *excelize.File, in Input) error {
	if _, err := f.NewSheet(datasetSheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Run ID", in.RunID},
		{"Generated", in.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Covariance", string(in.Covariance)},
	}
	if in.Dataset != nil {
		s := in.Dataset.Summary()
		rows = append(rows,
			[]any{"Source", s.Source},
			[]any{"Rows", s.Rows},
			[]any{"First date", s.FirstDate.Format(time.DateOnly)},
			[]any{"Last date", s.LastDate.Format(time.DateOnly)},
			[]any{"Days from cutoff", fmt.Sprintf("%d to %d", s.MinDays, s.MaxDays)},
			[]any{},
			[]any{"Outcome", "Pre-cutoff mean", "Post-cutoff mean", "Pre days", "Post days"},
		)
		for _, o := range s.Outcomes {
			rows = append(rows, []any{o.Outcome.Label(), cellNumber(o.PreMean), cellNumber(o.PostMean), o.PreDays, o.PostDays})
		}
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(datasetSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(datasetSheet, "A", "E", 18)
}

// cellNumber writes non-finite values as "n/a" so numeric cells stay valid.
func cellNumber(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return v
}
