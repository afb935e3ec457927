package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/pipeline"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Estimates is the subset of the pipeline the server reads from.
type Estimates interface {
	sharedobs.ReadinessChecker
	Artifact(name string) (report.Artifact, error)
	Fit(outcome domain.Outcome, bandwidth, degree int) (domain.ModelResult, error)
}

// Server exposes the latest report, its artifacts, on-demand fits, and the
// health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	estimates  Estimates
	logger     *slog.Logger
}

// NewServer creates an HTTP server backed by the given estimates.
func NewServer(addr string, estimates Estimates, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		estimates: estimates,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(estimates))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /{$}", s.serveArtifact(report.ReportHTML))
	mux.HandleFunc("GET /results", s.serveArtifact(report.ResultsJSON))
	mux.HandleFunc("GET /fit", s.handleFit)
	mux.HandleFunc("GET /{name}", func(w http.ResponseWriter, r *http.Request) {
		s.serveArtifact(r.PathValue("name"))(w, r)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) serveArtifact(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		a, err := s.estimates.Artifact(name)
		if err != nil {
			status := statusFor(err)
			if errors.Is(err, domain.ErrInvalidRequest) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(a.Data) //nolint:errcheck // client disconnects are not actionable
	}
}

// handleFit serves GET /fit?outcome=&bandwidth=&degree=.
func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome, err := domain.ParseOutcome(q.Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bandwidth, err := strconv.Atoi(q.Get("bandwidth"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bandwidth must be an integer"))
		return
	}
	degree := 1
	if v := q.Get("degree"); v != "" {
		if degree, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("degree must be an integer"))
			return
		}
	}

	result, err := s.estimates.Fit(outcome, bandwidth, degree)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("fit failed", "outcome", outcome, "bandwidth", bandwidth, "degree", degree, "error", err)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrModelNotIdentified):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
