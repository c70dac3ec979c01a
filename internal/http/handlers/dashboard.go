package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-dqm/open-dqm/internal/store"
)

const dashboardAlertsLimit = 50

type assetScoresView struct {
	AssetID    string             `json:"asset_id"`
	Schema     string             `json:"schema"`
	Table      string             `json:"table"`
	Dimensions map[string]float64 `json:"dimensions"`
	Overall    float64            `json:"overall"`
	Trend      string             `json:"trend"`
}

// HandleDashboardScores serves the latest dimension scores for every asset
// of one data source. Scores come from the trailing result window, so the
// most recent successful numbers are shown even when the latest scan failed;
// the stale flag tells the caller which case they are in.
func (h *Handlers) HandleDashboardScores(c *echo.Context) error {
	dsID := strings.TrimSpace(c.Param("datasourceID"))
	if dsID == "" {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "data source id is required")
	}
	ctx := c.Request().Context()

	ds, err := h.Store.GetDataSource(ctx, dsID)
	if err != nil {
		return h.RenderError(c, err)
	}

	assets, err := h.Store.ListAssets(ctx)
	if err != nil {
		return h.RenderError(c, err)
	}

	views := make([]assetScoresView, 0)
	for _, asset := range assets {
		if asset.DataSourceID != ds.ID {
			continue
		}
		scores, err := h.Scores.Score(ctx, asset.ID)
		if err != nil {
			return h.RenderError(c, err)
		}
		views = append(views, assetScoresView{
			AssetID:    asset.ID,
			Schema:     asset.Schema,
			Table:      asset.Table,
			Dimensions: scores.Dimensions,
			Overall:    scores.Overall,
			Trend:      scores.Trend,
		})
	}

	stale := true
	lastScanAt := ""
	if last, err := h.Store.LastCompletedScan(ctx, store.ScanPhaseCompleted); err == nil {
		stale = false
		lastScanAt = last.FinishedAt.UTC().Format(time.RFC3339)
		if failed, err := h.Store.LastCompletedScan(ctx, store.ScanPhaseFailed); err == nil && failed.FinishedAt.After(last.FinishedAt) {
			stale = true
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return h.RenderError(c, err)
	}

	return OK(c, http.StatusOK, map[string]any{
		"data_source_id":  ds.ID,
		"assets":          views,
		"stale":           stale,
		"last_successful": lastScanAt,
	})
}

type alertView struct {
	ID              string         `json:"id"`
	IssueID         string         `json:"issue_id"`
	Category        string         `json:"category"`
	Dimension       string         `json:"dimension"`
	Severity        string         `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	CurrentValue    float64        `json:"current_value"`
	ThresholdValue  float64        `json:"threshold_value"`
	RevenueAtRisk   float64        `json:"revenue_at_risk"`
	AffectedUsers   int64          `json:"affected_users"`
	Trend           string         `json:"trend"`
	Priority        int            `json:"priority"`
	Criticality     map[string]int `json:"criticality"`
	Recommendations []string       `json:"recommendations"`
	Suppressed      bool           `json:"suppressed"`
	GroupID         string         `json:"group_id,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

// HandleDashboardAlerts lists active alerts, non-suppressed first in
// descending priority order.
func (h *Handlers) HandleDashboardAlerts(c *echo.Context) error {
	alerts, err := h.Store.ListActiveAlerts(c.Request().Context(), dashboardAlertsLimit)
	if err != nil {
		return h.RenderError(c, err)
	}

	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		recs := a.Recommendations
		if recs == nil {
			recs = []string{}
		}
		views = append(views, alertView{
			ID:             a.ID,
			IssueID:        a.IssueID,
			Category:       a.Category,
			Dimension:      a.Dimension,
			Severity:       a.Severity,
			Title:          a.Title,
			Description:    a.Description,
			CurrentValue:   a.CurrentValue,
			ThresholdValue: a.ThresholdValue,
			RevenueAtRisk:  a.RevenueAtRisk,
			AffectedUsers:  a.AffectedUsers,
			Trend:          a.Trend,
			Priority:       a.Criticality.Total,
			Criticality: map[string]int{
				"base_severity":     a.Criticality.BaseSeverity,
				"financial_impact":  a.Criticality.FinancialImpact,
				"user_impact":       a.Criticality.UserImpact,
				"compliance_risk":   a.Criticality.ComplianceRisk,
				"trend":             a.Criticality.Trend,
				"downstream_impact": a.Criticality.DownstreamImpact,
				"total":             a.Criticality.Total,
			},
			Recommendations: recs,
			Suppressed:      a.Suppressed,
			GroupID:         a.GroupID,
			CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return OK(c, http.StatusOK, map[string]any{"alerts": views})
}

type contractComplianceView struct {
	ContractID     string  `json:"contract_id"`
	Name           string  `json:"name"`
	Owner          string  `json:"owner"`
	Enforcement    string  `json:"enforcement"`
	ComplianceRate float64 `json:"compliance_rate"`
	OpenViolations int     `json:"open_violations"`
}

// HandleDashboardSLA summarizes contract compliance.
func (h *Handlers) HandleDashboardSLA(c *echo.Context) error {
	ctx := c.Request().Context()
	contracts, err := h.Store.ListContracts(ctx, true)
	if err != nil {
		return h.RenderError(c, err)
	}

	views := make([]contractComplianceView, 0, len(contracts))
	for _, contract := range contracts {
		rate, err := h.Compliance.Compliance(ctx, contract.ID)
		if err != nil {
			return h.RenderError(c, err)
		}
		open, err := h.Store.CountOpenViolations(ctx, contract.ID)
		if err != nil {
			return h.RenderError(c, err)
		}
		views = append(views, contractComplianceView{
			ContractID:     contract.ID,
			Name:           contract.Name,
			Owner:          contract.Owner,
			Enforcement:    contract.Enforcement,
			ComplianceRate: rate,
			OpenViolations: open,
		})
	}
	return OK(c, http.StatusOK, map[string]any{"contracts": views})
}
