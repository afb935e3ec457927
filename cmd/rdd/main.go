// Command rdd estimates the effect of the daylight saving time transition on
// daily crime rates with a regression discontinuity design.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/dst-crime-rdd/internal/adapter/kafka"
	"github.com/couchcryptid/dst-crime-rdd/internal/adapter/objectstore"
	"github.com/couchcryptid/dst-crime-rdd/internal/config"
	"github.com/couchcryptid/dst-crime-rdd/internal/dataset"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
	"github.com/couchcryptid/dst-crime-rdd/internal/pipeline"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	sourceFlag     string
	covarianceFlag string

	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "rdd",
	Short: "Regression discontinuity estimates of the DST effect on crime",
	Long: `rdd fits local polynomial regressions on either side of the spring
daylight saving time transition and reports the discontinuity in daily
property and violent crime rates.

Settings come from the environment (and a .env file when present); flags
override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if sourceFlag != "" {
			cfg.DataSource = sourceFlag
		}
		if covarianceFlag != "" {
			if cfg.CovarianceType, err = domain.ParseCovarianceType(covarianceFlag); err != nil {
				return err
			}
		}
		logger = observability.NewLogger(cfg)
		metrics = observability.NewMetrics()
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "data file path or http(s) URL (overrides DATA_SOURCE)")
	rootCmd.PersistentFlags().StringVar(&covarianceFlag, "se-type", "", "robust covariance estimator: HC0, HC1, HC2, HC3 (overrides ROBUST_SE_TYPE)")
	rootCmd.AddCommand(fitCmd, sweepCmd, reportCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLoader() *dataset.Loader {
	return dataset.NewLoader(cfg.FetchTimeout, cfg.FetchAttempts, logger, metrics)
}

// newPipeline wires the pipeline with the destinations enabled in config.
// The returned func releases them.
func newPipeline(plan domain.SweepPlan, reportDir string) (*pipeline.Pipeline, func(), error) {
	var (
		publisher pipeline.ResultsPublisher
		store     pipeline.ArtifactStore
		cleanup   = func() {}
	)

	if cfg.ResultsKafkaEnabled {
		writer := kafka.NewWriter(cfg, logger)
		publisher = writer
		cleanup = func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}
		logger.Info("results publishing enabled", "topic", cfg.KafkaResultsTopic)
	}

	if cfg.ArtifactStoreEnabled {
		s, err := objectstore.NewStore(cfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = s
		logger.Info("artifact upload enabled", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	}

	p := pipeline.New(newLoader(), report.NewRenderer(logger, metrics), publisher, store, logger, metrics, pipeline.Options{
		Source:     cfg.DataSource,
		Plan:       plan,
		Covariance: cfg.CovarianceType,
		Workers:    cfg.SweepWorkers,
		CacheSize:  cfg.FitCacheSize,
		ReportDir:  reportDir,
	})
	return p, cleanup, nil
}

// planFlags are the sweep-grid overrides shared by sweep, report, and serve.
type planFlags struct {
	outcomes   []string
	bandwidths []int
	degrees    []int
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.outcomes, "outcomes", nil, "outcomes to fit (overrides OUTCOMES)")
	cmd.Flags().IntSliceVar(&f.bandwidths, "bandwidths", nil, "bandwidths in days (overrides BANDWIDTHS)")
	cmd.Flags().IntSliceVar(&f.degrees, "degrees", nil, "polynomial degrees (overrides DEGREES)")
}

func (f *planFlags) plan() (domain.SweepPlan, error) {
	plan := cfg.Plan
	if len(f.outcomes) > 0 {
		plan.Outcomes = nil
		for _, o := range f.outcomes {
			plan.Outcomes = append(plan.Outcomes, domain.Outcome(o))
		}
	}
	if len(f.bandwidths) > 0 {
		plan.Bandwidths = f.bandwidths
	}
	if len(f.degrees) > 0 {
		plan.Degrees = f.degrees
	}
	return plan.Normalize()
}

func loadDataset(ctx context.Context) (*domain.Dataset, error) {
	ds, err := newLoader().Load(ctx, cfg.DataSource)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.DataSource, err)
	}
	return ds, nil
}
