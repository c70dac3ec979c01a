// Package notify routes unsuppressed alerts to delivery channels based on
// category, table and severity matching.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/open-dqm/open-dqm/internal/store"
)

// Payload is the wire form of a routed alert.
type Payload struct {
	AlertID         string         `json:"alert_id"`
	GroupID         string         `json:"group_id,omitempty"`
	Category        string         `json:"category"`
	Dimension       string         `json:"dimension"`
	Severity        string         `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	CurrentValue    float64        `json:"current_value"`
	ThresholdValue  float64        `json:"threshold_value"`
	Criticality     map[string]int `json:"criticality"`
	Trend           string         `json:"trend"`
	RevenueAtRisk   float64        `json:"revenue_at_risk,omitempty"`
	AffectedUsers   int64          `json:"affected_users,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	RaisedAt        time.Time      `json:"raised_at"`
}

// Channel delivers one payload. Implementations must be safe for
// concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// Route binds a match expression to channels. Empty fields match anything;
// MinSeverity is a floor, not an exact match. TablePattern supports a
// trailing * wildcard.
type Route struct {
	Category     string
	TablePattern string
	MinSeverity  string
	Channels     []string
}

// Router fans alerts out to every channel of every matching route. Delivery
// failures are logged and do not block other channels.
type Router struct {
	routes   []Route
	channels map[string]Channel
	logger   *slog.Logger
}

func NewRouter(routes []Route, channels []Channel, logger *slog.Logger) *Router {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Router{routes: routes, channels: byName, logger: logger}
}

// Dispatch sends the payload to each channel matched by at least one route.
// A channel named by several routes receives the payload once.
func (r *Router) Dispatch(ctx context.Context, p Payload) {
	sent := make(map[string]bool)
	for _, route := range r.routes {
		if !route.matches(p) {
			continue
		}
		for _, name := range route.Channels {
			if sent[name] {
				continue
			}
			sent[name] = true
			ch, ok := r.channels[name]
			if !ok {
				r.log("unknown notification channel", "channel", name)
				continue
			}
			if err := ch.Send(ctx, p); err != nil {
				r.log("notification delivery failed",
					"channel", name, "alert_id", p.AlertID, "error", err)
			}
		}
	}
}

func (rt Route) matches(p Payload) bool {
	if rt.Category != "" && rt.Category != p.Category {
		return false
	}
	if rt.TablePattern != "" && !matchTable(rt.TablePattern, p.Table) {
		return false
	}
	if rt.MinSeverity != "" && store.SeverityRank(p.Severity) < store.SeverityRank(rt.MinSeverity) {
		return false
	}
	return true
}

func matchTable(pattern, table string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(table, prefix)
	}
	return pattern == table
}

func (r *Router) log(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

// BuildPayload assembles the wire form from domain records.
func BuildPayload(alert store.Alert, asset store.Asset) Payload {
	return Payload{
		AlertID:        alert.ID,
		GroupID:        alert.GroupID,
		Category:       alert.Category,
		Dimension:      alert.Dimension,
		Severity:       alert.Severity,
		Title:          alert.Title,
		Description:    alert.Description,
		Schema:         asset.Schema,
		Table:          asset.Table,
		CurrentValue:   alert.CurrentValue,
		ThresholdValue: alert.ThresholdValue,
		Criticality: map[string]int{
			"base_severity":     alert.Criticality.BaseSeverity,
			"financial_impact":  alert.Criticality.FinancialImpact,
			"user_impact":       alert.Criticality.UserImpact,
			"compliance_risk":   alert.Criticality.ComplianceRisk,
			"trend":             alert.Criticality.Trend,
			"downstream_impact": alert.Criticality.DownstreamImpact,
			"total":             alert.Criticality.Total,
		},
		Trend:           alert.Trend,
		RevenueAtRisk:   alert.RevenueAtRisk,
		AffectedUsers:   alert.AffectedUsers,
		Recommendations: alert.Recommendations,
		RaisedAt:        alert.CreatedAt,
	}
}
