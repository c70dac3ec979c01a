// Package store holds the persisted engine state: rules, results, issues,
// alerts, groups, contracts, anomaly models, cost records, and scan runs.
package store

import (
	"encoding/json"
	"time"
)

// Quality dimensions.
const (
	DimCompleteness = "completeness"
	DimAccuracy     = "accuracy"
	DimConsistency  = "consistency"
	DimValidity     = "validity"
	DimFreshness    = "freshness"
	DimUniqueness   = "uniqueness"
)

// Dimensions lists the six quality dimensions in canonical order.
var Dimensions = []string{
	DimCompleteness,
	DimAccuracy,
	DimConsistency,
	DimValidity,
	DimFreshness,
	DimUniqueness,
}

// Severities, lowest to highest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityRank orders severities for comparisons. Unknown severities rank
// below low.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Rule kinds.
const (
	RuleKindThreshold  = "threshold"
	RuleKindExpression = "expression"
	RuleKindPattern    = "pattern"
	RuleKindFreshness  = "freshness"
	RuleKindAnomaly    = "anomaly"
)

// Rule scopes.
const (
	ScopeAsset      = "asset"
	ScopeColumn     = "column"
	ScopeDataSource = "data_source"
	ScopeGlobal     = "global"
)

// Result statuses.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultError  = "error"
)

// Issue statuses. open -> acknowledged/in_progress -> resolved, with
// false_positive and wont_fix as sticky terminal exits.
const (
	IssueOpen          = "open"
	IssueAcknowledged  = "acknowledged"
	IssueInProgress    = "in_progress"
	IssueResolved      = "resolved"
	IssueFalsePositive = "false_positive"
	IssueWontFix       = "wont_fix"
)

// Group statuses.
const (
	GroupActive   = "active"
	GroupResolved = "resolved"
	GroupSnoozed  = "snoozed"
)

// Trend directions.
const (
	TrendWorsening = "worsening"
	TrendStable    = "stable"
	TrendImproving = "improving"
)

// DataSource is a registered external database the query executor can reach.
type DataSource struct {
	ID       string
	Name     string
	Driver   string // postgres | mysql | sqlserver
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	// CostPerQuery is the estimated compute cost of one rule execution
	// against this source, in budget units.
	CostPerQuery float64
	CreatedAt    time.Time
}

// Asset is the catalog read model for a table/view the engine targets.
type Asset struct {
	ID           string
	DataSourceID string
	Schema       string
	Table        string
	RowCount     int64
	LastModified time.Time
	// Business impact metadata feeding criticality scoring.
	RevenueImpact       float64
	AffectedUsers       int64
	ComplianceTags      []string
	DownstreamConsumers int
	CreatedAt           time.Time
}

// Rule is a versioned quality rule definition.
type Rule struct {
	ID           string
	Name         string
	Scope        string // asset | column | data_source | global
	AssetID      string
	ColumnName   string
	DataSourceID string
	Dimension    string
	Kind         string // threshold | expression | pattern | freshness | anomaly
	// Config holds structured parameters: threshold+operator, expression,
	// pattern+tolerance, max_age, sensitivity.
	Config   json.RawMessage
	Severity string
	Enabled  bool
	Schedule string
	// Template rules carry ${...} placeholders in their expression and are
	// expanded per asset/column rather than executed directly.
	Template bool
	// ConfigFailures counts consecutive configuration failures; the rule is
	// auto-disabled once the limit is reached.
	ConfigFailures int
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Result is one immutable evaluation outcome.
type Result struct {
	ID             string
	RuleID         string
	AssetID        string
	ScanID         string
	Status         string // passed | failed | error
	MetricValue    float64
	ThresholdValue float64
	RowsChecked    int64
	RowsFailed     int64
	Duration       time.Duration
	ErrorDetail    string
	RunAt          time.Time
}

// Issue is the stateful aggregate of repeated failures for one (rule, asset).
type Issue struct {
	ID              string
	RuleID          string
	AssetID         string
	Dimension       string
	Severity        string
	Status          string
	FirstSeen       time.Time
	LastSeen        time.Time
	OccurrenceCount int
	ImpactScore     float64
	// LastSeverityChange backs the low-impact-and-stable suppression check.
	LastSeverityChange time.Time
}

// CriticalityScore is the component breakdown of an alert's 0-100 score.
type CriticalityScore struct {
	BaseSeverity     int
	FinancialImpact  int
	UserImpact       int
	ComplianceRisk   int
	Trend            int
	DownstreamImpact int
	// TrendDirection is the observed metric trend behind the Trend points.
	TrendDirection string
	Total          int
}

// Alert is the outward-facing record of a failing result, carrying its
// criticality breakdown and suppression/grouping state.
type Alert struct {
	ID              string
	IssueID         string
	RuleID          string
	AssetID         string
	Category        string
	Dimension       string
	Severity        string
	Title           string
	Description     string
	CurrentValue    float64
	ThresholdValue  float64
	RevenueAtRisk   float64
	AffectedUsers   int64
	Trend           string
	Criticality     CriticalityScore
	Recommendations []string
	Suppressed      bool
	GroupID         string
	Resolved        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SuppressionRule is an ordered, named predicate; lower priority wins.
type SuppressionRule struct {
	ID        string
	Name      string
	Condition string // empty_table | test_name_pattern | system_schema | low_impact_stable
	Params    json.RawMessage
	Priority  int
	Enabled   bool
	CreatedAt time.Time
}

// Suppression records the winning rule applied to one alert at evaluation
// time. It is never retroactively mutated.
type Suppression struct {
	ID                string
	AlertID           string
	SuppressionRuleID string
	Condition         string
	AppliedAt         time.Time
}

// AlertGroup clusters related alerts under a deterministic key.
type AlertGroup struct {
	ID          string
	GroupKey    string
	Category    string
	AssetID     string
	Dimension   string
	Status      string
	Severity    string
	SnoozeUntil time.Time
	FirstSeen   time.Time
	LastUpdated time.Time
}

// Contract enforcement actions.
const (
	EnforceBlock = "block"
	EnforceAlert = "alert"
	EnforceLog   = "log"
)

// ContractThreshold is one dimension commitment on a contract.
type ContractThreshold struct {
	Dimension string  `json:"dimension"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
}

// Contract is an owner-defined quality commitment over a set of tables.
type Contract struct {
	ID          string
	Name        string
	Owner       string
	AssetIDs    []string
	Thresholds  []ContractThreshold
	Enforcement string // block | alert | log
	Penalty     float64
	Enabled     bool
	CreatedAt   time.Time
}

// Violation is one detected contract breach. ResolvedAt, once set, is never
// cleared.
type Violation struct {
	ID         string
	ContractID string
	AssetID    string
	Metric     string
	Expected   float64
	Actual     float64
	Deviation  float64
	Severity   string
	DetectedAt time.Time
	ResolvedAt time.Time
	Open       bool
}

// AnomalyModel holds the trained rolling baseline for one (asset, metric).
type AnomalyModel struct {
	ID          string
	AssetID     string
	Metric      string
	Version     int
	SampleCount int64
	Mean        float64
	M2          float64 // running sum of squared deviations (Welford)
	UpdatedAt   time.Time
}

// AnomalyEvent is a detection pinned to the model version that produced it.
type AnomalyEvent struct {
	ID           string
	AssetID      string
	Metric       string
	ModelVersion int
	Value        float64
	Score        float64
	ModelMean    float64
	ModelStdDev  float64
	Resolved     bool
	DetectedAt   time.Time
}

// CostRecord is the per-execution compute cost ledger entry.
type CostRecord struct {
	ID         string
	RuleID     string
	AssetID    string
	ScanID     string
	Cost       float64
	RecordedAt time.Time
}

// Scan phases.
const (
	ScanPhasePending    = "pending"
	ScanPhaseEvaluating = "evaluating"
	ScanPhaseScoring    = "scoring"
	ScanPhaseCompleted  = "completed"
	ScanPhaseFailed     = "failed"
	ScanPhaseCanceled   = "canceled"
)

// ScanRun tracks one scan's progress for the status API.
type ScanRun struct {
	ID             string
	Schedule       string
	Phase          string
	AssetsTotal    int
	AssetsScanned  int
	RulesEvaluated int
	RulesFailed    int
	RulesErrored   int
	RulesSkipped   int
	Errors         []string
	StartedAt      time.Time
	FinishedAt     time.Time
}
