package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Config holds all estimator and service settings, populated from environment variables.
type Config struct {
	DataSource    string
	FetchTimeout  time.Duration
	FetchAttempts uint

	Plan           domain.SweepPlan
	CovarianceType domain.CovarianceType
	SweepWorkers   int
	FitCacheSize   int

	ReportDir       string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Kafka results publisher.
	ResultsKafkaEnabled bool
	KafkaBrokers        []string
	KafkaResultsTopic   string

	// S3-compatible artifact store.
	ArtifactStoreEnabled bool
	S3Endpoint           string
	S3AccessKey          string
	S3SecretKey          string
	S3Bucket             string
	S3Region             string
	S3Prefix             string
	S3UseSSL             bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_TIMEOUT", "30s"))
	if err != nil || fetchTimeout <= 0 {
		return nil, errors.New("invalid FETCH_TIMEOUT")
	}

	fetchAttempts, err := parsePositiveInt("FETCH_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("SWEEP_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	covariance, err := domain.ParseCovarianceType(sharedcfg.EnvOrDefault("ROBUST_SE_TYPE", string(domain.HC1)))
	if err != nil {
		return nil, fmt.Errorf("invalid ROBUST_SE_TYPE: %w", err)
	}

	plan, err := loadPlan()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataSource:     sharedcfg.EnvOrDefault("DATA_SOURCE", "data/dst_crime_weather.csv"),
		FetchTimeout:   fetchTimeout,
		FetchAttempts:  uint(fetchAttempts),
		Plan:           plan,
		CovarianceType: covariance,
		SweepWorkers:   workers,
		FitCacheSize:   parseFitCacheSize(),

		ReportDir:       sharedcfg.EnvOrDefault("REPORT_DIR", "out"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ResultsKafkaEnabled: os.Getenv("RESULTS_KAFKA_ENABLED") == "true",
		KafkaBrokers:        sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaResultsTopic:   sharedcfg.EnvOrDefault("KAFKA_RESULTS_TOPIC", "dst-rdd-results"),

		ArtifactStoreEnabled: os.Getenv("ARTIFACT_STORE_ENABLED") == "true",
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             sharedcfg.EnvOrDefault("S3_BUCKET", "reports"),
		S3Region:             sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3Prefix:             sharedcfg.EnvOrDefault("S3_PREFIX", "dst-rdd"),
		S3UseSSL:             sharedcfg.EnvOrDefault("S3_USE_SSL", "true") == "true",
	}

	if cfg.DataSource == "" {
		return nil, errors.New("DATA_SOURCE is required")
	}
	if cfg.ResultsKafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("RESULTS_KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.ResultsKafkaEnabled && cfg.KafkaResultsTopic == "" {
		return nil, errors.New("KAFKA_RESULTS_TOPIC is required")
	}
	if cfg.ArtifactStoreEnabled && cfg.S3Endpoint == "" {
		return nil, errors.New("ARTIFACT_STORE_ENABLED is true but S3_ENDPOINT is not set")
	}

	return cfg, nil
}

// loadPlan reads the sweep grid from SWEEP_PLAN (a YAML file) when set,
// otherwise from OUTCOMES, BANDWIDTHS, and DEGREES.
func loadPlan() (domain.SweepPlan, error) {
	var plan domain.SweepPlan

	if path := os.Getenv("SWEEP_PLAN"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.SweepPlan{}, fmt.Errorf("read SWEEP_PLAN: %w", err)
		}
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return domain.SweepPlan{}, fmt.Errorf("parse SWEEP_PLAN: %w", err)
		}
	} else {
		for _, o := range splitList(sharedcfg.EnvOrDefault("OUTCOMES", "property_crime_rate,violent_crime_rate")) {
			plan.Outcomes = append(plan.Outcomes, domain.Outcome(o))
		}
		var err error
		if plan.Bandwidths, err = parseIntList("BANDWIDTHS", "14,21,28"); err != nil {
			return domain.SweepPlan{}, err
		}
		if plan.Degrees, err = parseIntList("DEGREES", "1,2"); err != nil {
			return domain.SweepPlan{}, err
		}
	}

	normalized, err := plan.Normalize()
	if err != nil {
		return domain.SweepPlan{}, fmt.Errorf("invalid sweep plan: %w", err)
	}
	return normalized, nil
}

func parseIntList(key, fallback string) ([]int, error) {
	var out []int
	for _, s := range splitList(sharedcfg.EnvOrDefault(key, fallback)) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q is not an integer", key, s)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseFitCacheSize() int {
	if s := os.Getenv("FIT_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 256
}
