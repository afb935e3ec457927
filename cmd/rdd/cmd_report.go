package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/adapter/httpadapter"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	"github.com/spf13/cobra"
)

var (
	reportGrid   planFlags
	reportOut    string
	reportWidth  int
	previewFlag  bool
	serveGrid    planFlags
	serveRefresh time.Duration
)

// reportCmd runs the pipeline once
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Sweep the plan and write the report and its figures",
	Long: `Loads the data, sweeps the plan, and writes report.md, report.html,
results.json, results.xlsx, and the figures to the output directory. Results
and artifacts are also published to Kafka and object storage when enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := reportGrid.plan()
		if err != nil {
			return err
		}
		out := reportOut
		if out == "" {
			out = cfg.ReportDir
		}

		p, cleanup, err := newPipeline(plan, out)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}

		if previewFlag {
			md, _ := report.Find(run.Artifacts, report.ReportMarkdown)
			rendered, err := report.Preview(md.Data, reportWidth)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, rendered)
			return nil
		}
		fmt.Fprintf(os.Stdout, "run %s: %d results, report written to %s\n", run.ID, len(run.Results), out)
		return nil
	},
}

// serveCmd runs the pipeline and serves its results over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the latest report, results, and on-demand fits over HTTP",
	Long: `Runs the pipeline at startup (and every --refresh interval when set) and
serves the latest run:

  GET /            report.html
  GET /results     results.json
  GET /{artifact}  any report artifact, e.g. /estimates.svg
  GET /fit         ?outcome=&bandwidth=&degree= single fit as JSON
  GET /healthz, /readyz, /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := serveGrid.plan()
		if err != nil {
			return err
		}
		p, cleanup, err := newPipeline(plan, "")
		if err != nil {
			return err
		}
		defer cleanup()

		srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Start HTTP server.
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
				stop()
			}
		}()

		// Run the pipeline, then refresh on the interval.
		go func() {
			runOnce := func() {
				if _, err := p.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("pipeline error", "error", err)
				}
			}
			runOnce()
			if serveRefresh <= 0 {
				return
			}
			ticker := time.NewTicker(serveRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runOnce()
				}
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	reportGrid.register(reportCmd)
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "output directory (overrides REPORT_DIR)")
	reportCmd.Flags().BoolVar(&previewFlag, "preview", false, "render the markdown report in the terminal")
	reportCmd.Flags().IntVar(&reportWidth, "width", 100, "terminal width for --preview")

	serveGrid.register(serveCmd)
	serveCmd.Flags().DurationVar(&serveRefresh, "refresh", 0, "re-run the pipeline on this interval; 0 runs it once")
}
