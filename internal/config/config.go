package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr    = ":8080"
	defaultMetricsAddr = ":9090"

	defaultScanInterval = 15 * time.Minute
	defaultScanWorkers  = 8
	defaultQueryTimeout = 30 * time.Second

	defaultScoreWindow   = 7 * 24 * time.Hour
	defaultScoreCacheTTL = 60 * time.Second

	defaultAnomalySensitivity = 2.0
	defaultAnomalyMinSamples  = 10

	defaultConfigFailureLimit = 3

	defaultCostDailyBudget   = 100.0
	defaultCostMonthlyBudget = 2000.0

	defaultComplianceWindows = 30

	defaultQueryRateLimit     = 50.0
	defaultWebhookMinSeverity = "high"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	MetricsAddr string

	RedisAddr     string
	ScoreCacheTTL time.Duration

	ScanInterval time.Duration
	ScanWorkers  int
	QueryTimeout time.Duration
	// QueryRateLimit caps rule queries per second across all sources.
	QueryRateLimit float64

	// AlertWebhookURL enables the webhook notification channel when set.
	AlertWebhookURL         string
	AlertWebhookMinSeverity string

	ScoreWindow time.Duration

	AnomalySensitivity float64
	AnomalyMinSamples  int

	// ConfigFailureLimit is the number of consecutive configuration failures
	// after which a rule is auto-disabled.
	ConfigFailureLimit int

	CostDailyBudget   float64
	CostMonthlyBudget float64

	ComplianceWindows int
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		HTTPAddr:                getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:             getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		ScoreCacheTTL:           getenvDurationDefault("SCORE_CACHE_TTL", defaultScoreCacheTTL),
		ScanInterval:            getenvDurationDefault("SCAN_INTERVAL", defaultScanInterval),
		ScanWorkers:             getenvIntDefault("SCAN_WORKERS", defaultScanWorkers),
		QueryTimeout:            getenvDurationDefault("QUERY_TIMEOUT", defaultQueryTimeout),
		QueryRateLimit:          getenvFloatDefault("QUERY_RATE_LIMIT", defaultQueryRateLimit),
		AlertWebhookURL:         os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookMinSeverity: getenvDefault("ALERT_WEBHOOK_MIN_SEVERITY", defaultWebhookMinSeverity),
		ScoreWindow:             getenvDurationDefault("SCORE_WINDOW", defaultScoreWindow),
		AnomalySensitivity:      getenvFloatDefault("ANOMALY_SENSITIVITY", defaultAnomalySensitivity),
		AnomalyMinSamples:       getenvIntDefault("ANOMALY_MIN_SAMPLES", defaultAnomalyMinSamples),
		ConfigFailureLimit:      getenvIntDefault("CONFIG_FAILURE_LIMIT", defaultConfigFailureLimit),
		CostDailyBudget:         getenvFloatDefault("COST_DAILY_BUDGET", defaultCostDailyBudget),
		CostMonthlyBudget:       getenvFloatDefault("COST_MONTHLY_BUDGET", defaultCostMonthlyBudget),
		ComplianceWindows:       getenvIntDefault("COMPLIANCE_WINDOWS", defaultComplianceWindows),
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
