package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-dqm/open-dqm/internal/rules"
	"github.com/open-dqm/open-dqm/internal/store"
)

const (
	rulesDefaultPerPage = 50
	rulesMaxPerPage     = 200
)

type ruleView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Scope          string          `json:"scope"`
	AssetID        string          `json:"asset_id,omitempty"`
	ColumnName     string          `json:"column_name,omitempty"`
	DataSourceID   string          `json:"data_source_id,omitempty"`
	Dimension      string          `json:"dimension"`
	Kind           string          `json:"kind"`
	Config         json.RawMessage `json:"config"`
	Severity       string          `json:"severity"`
	Enabled        bool            `json:"enabled"`
	Schedule       string          `json:"schedule,omitempty"`
	Template       bool            `json:"template"`
	ConfigFailures int             `json:"config_failures"`
	Version        int             `json:"version"`
}

func ruleToView(r store.Rule) ruleView {
	cfg := r.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	return ruleView{
		ID:             r.ID,
		Name:           r.Name,
		Scope:          r.Scope,
		AssetID:        r.AssetID,
		ColumnName:     r.ColumnName,
		DataSourceID:   r.DataSourceID,
		Dimension:      r.Dimension,
		Kind:           r.Kind,
		Config:         cfg,
		Severity:       r.Severity,
		Enabled:        r.Enabled,
		Schedule:       r.Schedule,
		Template:       r.Template,
		ConfigFailures: r.ConfigFailures,
		Version:        r.Version,
	}
}

type paginationView struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// HandleRulesList lists quality rules with pagination and an optional
// enabled filter.
func (h *Handlers) HandleRulesList(c *echo.Context) error {
	filter := store.RuleFilter{Limit: rulesDefaultPerPage}

	if raw := strings.TrimSpace(c.QueryParam("enabled")); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "enabled must be true or false")
		}
		filter.Enabled = &enabled
	}
	if raw := strings.TrimSpace(c.QueryParam("per_page")); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 1 {
			return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "per_page must be a positive integer")
		}
		if perPage > rulesMaxPerPage {
			perPage = rulesMaxPerPage
		}
		filter.Limit = perPage
	}
	page := parsePageParam(c)
	filter.Offset = (page - 1) * filter.Limit

	ruleRows, total, err := h.Store.ListRules(c.Request().Context(), filter)
	if err != nil {
		return h.RenderError(c, err)
	}

	views := make([]ruleView, 0, len(ruleRows))
	for _, r := range ruleRows {
		views = append(views, ruleToView(r))
	}
	totalPages := (total + filter.Limit - 1) / filter.Limit
	if totalPages < 1 {
		totalPages = 1
	}
	return OK(c, http.StatusOK, map[string]any{
		"rules": views,
		"pagination": paginationView{
			Page:       page,
			PerPage:    filter.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

type ruleCreateRequest struct {
	Name         string          `json:"name"`
	Scope        string          `json:"scope"`
	AssetID      string          `json:"asset_id"`
	ColumnName   string          `json:"column_name"`
	DataSourceID string          `json:"data_source_id"`
	Dimension    string          `json:"dimension"`
	Kind         string          `json:"kind"`
	Config       json.RawMessage `json:"config"`
	Severity     string          `json:"severity"`
	Enabled      *bool           `json:"enabled"`
	Schedule     string          `json:"schedule"`
	Template     bool            `json:"template"`
}

// HandleRuleCreate persists a new quality rule after validating its
// structured config.
func (h *Handlers) HandleRuleCreate(c *echo.Context) error {
	var req ruleCreateRequest
	if err := c.Bind(&req); err != nil {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "name is required")
	}
	if !validDimension(req.Dimension) {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "unknown dimension "+strconv.Quote(req.Dimension))
	}
	if !validSeverity(req.Severity) {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "unknown severity "+strconv.Quote(req.Severity))
	}
	if !validScope(req.Scope) {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "unknown scope "+strconv.Quote(req.Scope))
	}
	// Template rules keep their placeholders unexpanded, so the config is
	// validated at evaluation time instead.
	if !req.Template {
		if _, err := rules.ParseConfig(req.Kind, req.Config); err != nil {
			return h.RenderError(c, err)
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := store.Rule{
		Name:         req.Name,
		Scope:        req.Scope,
		AssetID:      strings.TrimSpace(req.AssetID),
		ColumnName:   strings.TrimSpace(req.ColumnName),
		DataSourceID: strings.TrimSpace(req.DataSourceID),
		Dimension:    req.Dimension,
		Kind:         req.Kind,
		Config:       req.Config,
		Severity:     req.Severity,
		Enabled:      enabled,
		Schedule:     strings.TrimSpace(req.Schedule),
		Template:     req.Template,
	}
	if err := h.Store.CreateRule(c.Request().Context(), &rule); err != nil {
		return h.RenderError(c, err)
	}
	return OK(c, http.StatusCreated, map[string]any{"rule": ruleToView(rule)})
}

type rulePatchRequest struct {
	Name     *string         `json:"name"`
	Config   json.RawMessage `json:"config"`
	Severity *string         `json:"severity"`
	Enabled  *bool           `json:"enabled"`
	Schedule *string         `json:"schedule"`
}

// HandleRulePatch applies a partial update; any edit bumps the rule version.
func (h *Handlers) HandleRulePatch(c *echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "rule id is required")
	}

	var req rulePatchRequest
	if err := c.Bind(&req); err != nil {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
	}
	if req.Severity != nil && !validSeverity(*req.Severity) {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "unknown severity "+strconv.Quote(*req.Severity))
	}

	ctx := c.Request().Context()
	// A config edit must still parse for the rule's kind.
	if len(req.Config) > 0 {
		current, err := h.Store.GetRule(ctx, id)
		if err != nil {
			return h.RenderError(c, err)
		}
		if !current.Template {
			if _, err := rules.ParseConfig(current.Kind, req.Config); err != nil {
				return h.RenderError(c, err)
			}
		}
	}

	rule, err := h.Store.UpdateRule(ctx, id, store.RulePatch{
		Name:     req.Name,
		Config:   req.Config,
		Severity: req.Severity,
		Enabled:  req.Enabled,
		Schedule: req.Schedule,
	})
	if err != nil {
		return h.RenderError(c, err)
	}
	return OK(c, http.StatusOK, map[string]any{"rule": ruleToView(*rule)})
}

func validDimension(dimension string) bool {
	for _, d := range store.Dimensions {
		if d == dimension {
			return true
		}
	}
	return false
}

func validSeverity(severity string) bool {
	return store.SeverityRank(severity) > 0
}

func validScope(scope string) bool {
	switch scope {
	case store.ScopeAsset, store.ScopeColumn, store.ScopeDataSource, store.ScopeGlobal:
		return true
	default:
		return false
	}
}
