package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/observability"
)

// maxSourceBytes bounds a remote download; a multi-year daily panel is well under this.
const maxSourceBytes = 32 << 20

// Loader reads the observation table from a local path or an HTTP(S) URL.
type Loader struct {
	httpClient *http.Client
	attempts   uint
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewLoader creates a Loader. Remote sources get up to attempts tries on
// transient failures (network errors, 429, 5xx).
func NewLoader(timeout time.Duration, attempts uint, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	if attempts == 0 {
		attempts = 1
	}
	return &Loader{
		httpClient: &http.Client{Timeout: timeout},
		attempts:   attempts,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
		metrics:    metrics,
	}
}

// Load retrieves, parses, and validates the full observation table.
func (l *Loader) Load(ctx context.Context, source string) (*domain.Dataset, error) {
	ds, err := l.load(ctx, source)
	if err != nil {
		l.metrics.SourceFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	l.metrics.SourceFetches.WithLabelValues("success").Inc()
	l.metrics.ObservationsLoaded.Set(float64(ds.Len()))
	return ds, nil
}

func (l *Loader) load(ctx context.Context, source string) (*domain.Dataset, error) {
	data, err := l.read(ctx, source)
	if err != nil {
		return nil, err
	}

	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}

	rows, corrected, err := Reconcile(records)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	if corrected > 0 {
		l.logger.Warn("treated flag on the cutoff day reassigned to the treated side",
			"source", source, "rows", corrected)
	}
	if gaps := Gaps(records); len(gaps) > 0 {
		l.logger.Warn("running variable has gaps in the source",
			"source", source, "missing_days", len(gaps), "first_missing", gaps[0])
	}

	ds := domain.NewDataset(source, rows)
	summary := ds.Summary()
	l.logger.Info("dataset loaded",
		"source", source,
		"rows", ds.Len(),
		"first_date", summary.FirstDate.Format(time.DateOnly),
		"last_date", summary.LastDate.Format(time.DateOnly),
	)
	return ds, nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if isRemote(source) {
		return l.fetch(ctx, source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrDataUnavailable, source, err)
	}
	return data, nil
}

func isRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// statusError is a non-200 response from the source.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func (e *statusError) transient() bool {
	return e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			body, err := l.get(ctx, url)
			if err != nil {
				return err
			}
			data = body
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.retryDelay),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.transient()
			}
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Warn("retrying dataset fetch", "attempt", n+1, "url", url, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrDataUnavailable, url, err)
	}
	return data, nil
}

func (l *Loader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxSourceBytes {
		return nil, fmt.Errorf("source exceeds %d bytes", maxSourceBytes)
	}
	return data, nil
}
