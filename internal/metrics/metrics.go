package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "opendqm"
)

var (
	scanDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600}

	// Scan metrics
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Time taken for a quality scan to complete.",
		Buckets:   scanDurationBuckets,
	}, []string{"schedule"})

	ScanRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_runs_total",
		Help:      "Count of scan executions.",
	}, []string{"schedule", "status"})

	ScanLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful scan.",
	}, []string{"schedule"})

	// Rule evaluation metrics
	RuleEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_evaluations_total",
		Help:      "Number of individual rule evaluations performed.",
	}, []string{"dimension", "status"})

	RuleEvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rule_evaluation_duration_seconds",
		Help:      "Time taken for a single rule evaluation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"dimension"})

	RuleEvaluationsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_evaluations_skipped_total",
		Help:      "Number of rule evaluations skipped before execution.",
	}, []string{"reason"})

	// Alert metrics
	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_raised_total",
		Help:      "Number of alerts raised from failing results.",
	}, []string{"dimension", "severity"})

	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_suppressed_total",
		Help:      "Number of alerts suppressed, by winning rule condition.",
	}, []string{"condition"})

	// SLA metrics
	SLABreachesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sla_breaches_total",
		Help:      "Number of contract breaches detected.",
	}, []string{"contract"})

	// Cost governor metrics
	CostDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cost_denials_total",
		Help:      "Number of rule executions denied by the cost governor.",
	}, []string{"window"})

	CostSpend = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cost_spend",
		Help:      "Running spend against the budget window.",
	}, []string{"window"})

	// Score cache metrics
	ScoreCacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "score_cache_requests_total",
		Help:      "Score cache lookups by outcome.",
	}, []string{"outcome"})
)
