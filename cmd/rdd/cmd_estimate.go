package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/estimator"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	"github.com/spf13/cobra"
)

var (
	fitBandwidth int
	fitDegree    int
	jsonOutput   bool
	sweepGrid    planFlags
)

// fitCmd fits a single model
var fitCmd = &cobra.Command{
	Use:   "fit <outcome>",
	Short: "Fit one model and print the treatment effect",
	Long: `Fits the discontinuity model for one outcome at one bandwidth and
polynomial degree. The outcome is a column name or its short alias
("property", "violent").

Example:
  rdd fit property --bandwidth 21 --degree 1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outcome, err := domain.ParseOutcome(args[0])
		if err != nil {
			return err
		}
		ds, err := loadDataset(cmd.Context())
		if err != nil {
			return err
		}
		result, err := estimator.NewFitter(ds, cfg.CovarianceType, logger, metrics).Fit(outcome, fitBandwidth, fitDegree)
		if err != nil {
			return err
		}
		return printResults([]domain.ModelResult{result})
	},
}

// sweepCmd fits the full grid
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fit every outcome, bandwidth, and degree in the plan",
	Long: `Fits the sweep plan in parallel and prints one row per model in plan
order: outcomes as declared, then bandwidths and degrees ascending.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := sweepGrid.plan()
		if err != nil {
			return err
		}
		ds, err := loadDataset(cmd.Context())
		if err != nil {
			return err
		}
		runner := estimator.NewSweepRunner(
			estimator.NewFitter(ds, cfg.CovarianceType, logger, metrics),
			cfg.SweepWorkers, logger, metrics,
		)
		results, err := runner.Sweep(cmd.Context(), plan.Outcomes, plan.Bandwidths, plan.Degrees)
		if err != nil {
			return err
		}
		return printResults(results)
	},
}

func init() {
	fitCmd.Flags().IntVar(&fitBandwidth, "bandwidth", 21, "days on each side of the cutoff")
	fitCmd.Flags().IntVar(&fitDegree, "degree", 1, "polynomial degree in the running variable")
	fitCmd.Flags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	sweepGrid.register(sweepCmd)
	sweepCmd.Flags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func printResults(results []domain.ModelResult) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		return nil
	}
	report.WriteTerminalTable(os.Stdout, results)
	return nil
}
