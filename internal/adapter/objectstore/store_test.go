package objectstore

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/couchcryptid/dst-crime-rdd/internal/config"
	"github.com/couchcryptid/dst-crime-rdd/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "dst-rdd/run-1/report.html", objectKey("dst-rdd", "run-1", "report.html"))
	assert.Equal(t, "run-1/estimates.svg", objectKey("", "run-1", "estimates.svg"))
	assert.Equal(t, "a/b/run-1/x.json", objectKey("a/b/", "run-1", "x.json"))
}

func TestNewStore_InvalidEndpoint(t *testing.T) {
	_, err := NewStore(&config.Config{S3Endpoint: "localhost:9000/with/path"}, discardLogger())
	assert.Error(t, err)
}

// fakeS3 answers just enough of the S3 API for bucket checks and single-part puts.
type fakeS3 struct {
	mu           sync.Mutex
	bucketExists bool
	requests     []string
	contentTypes map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch r.Method {
	case http.MethodHead:
		if !f.bucketExists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if strings.Count(strings.Trim(r.URL.Path, "/"), "/") == 0 {
			f.bucketExists = true
		} else {
			f.contentTypes[r.URL.Path] = r.Header.Get("Content-Type")
			io.Copy(io.Discard, r.Body) //nolint:errcheck // test server
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewStore(&config.Config{
		S3Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		S3AccessKey: "access",
		S3SecretKey: "secret",
		S3Bucket:    "reports",
		S3Region:    "us-east-1",
		S3Prefix:    "dst-rdd",
	}, discardLogger())
	require.NoError(t, err)
	return store
}

func TestUpload(t *testing.T) {
	fake := &fakeS3{bucketExists: true, contentTypes: map[string]string{}}
	store := newFakeStore(t, fake)

	err := store.Upload(t.Context(), "run-1", []report.Artifact{
		{Name: report.ReportHTML, ContentType: "text/html; charset=utf-8", Data: []byte("<h1>report</h1>")},
		{Name: report.EstimatesSVG, ContentType: "image/svg+xml", Data: []byte("<svg/>")},
	})
	require.NoError(t, err)

	assert.Equal(t, "text/html; charset=utf-8", fake.contentTypes["/reports/dst-rdd/run-1/report.html"])
	assert.Equal(t, "image/svg+xml", fake.contentTypes["/reports/dst-rdd/run-1/estimates.svg"])
	assert.NotContains(t, fake.requests, "PUT /reports/", "existing bucket is not recreated")
}

func TestUpload_CreatesBucket(t *testing.T) {
	fake := &fakeS3{contentTypes: map[string]string{}}
	store := newFakeStore(t, fake)

	require.NoError(t, store.Upload(t.Context(), "run-2", []report.Artifact{
		{Name: report.ResultsJSON, ContentType: "application/json", Data: []byte("[]")},
	}))

	assert.True(t, fake.bucketExists)
	assert.Contains(t, fake.contentTypes, "/reports/dst-rdd/run-2/results.json")
}
