package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-dqm/open-dqm/internal/store"
)

type issueTransitionRequest struct {
	Status string `json:"status"`
}

var issueStatuses = map[string]bool{
	store.IssueAcknowledged:  true,
	store.IssueInProgress:    true,
	store.IssueResolved:      true,
	store.IssueFalsePositive: true,
	store.IssueWontFix:       true,
}

// HandleIssueTransition applies a user-driven issue status change.
func (h *Handlers) HandleIssueTransition(c *echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "issue id is required")
	}

	var req issueTransitionRequest
	if err := c.Bind(&req); err != nil {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
	}
	req.Status = strings.TrimSpace(req.Status)
	if !issueStatuses[req.Status] {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "unknown status "+req.Status)
	}

	issue, err := h.Store.TransitionIssue(c.Request().Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return h.RenderError(c, err)
		}
		// The store rejects transitions the state machine does not allow.
		return Fail(c, http.StatusConflict, CodeInvalidRequest, err.Error())
	}

	return OK(c, http.StatusOK, map[string]any{"issue": map[string]any{
		"id":               issue.ID,
		"rule_id":          issue.RuleID,
		"asset_id":         issue.AssetID,
		"dimension":        issue.Dimension,
		"severity":         issue.Severity,
		"status":           issue.Status,
		"occurrence_count": issue.OccurrenceCount,
		"impact_score":     issue.ImpactScore,
		"first_seen":       issue.FirstSeen.UTC().Format(time.RFC3339),
		"last_seen":        issue.LastSeen.UTC().Format(time.RFC3339),
	}})
}
