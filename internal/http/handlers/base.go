// Package handlers contains the JSON API handler logic split by domain.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-dqm/open-dqm/internal/rules"
	"github.com/open-dqm/open-dqm/internal/scoring"
	"github.com/open-dqm/open-dqm/internal/store"
)

// Stable error codes safe to return to clients.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeScanRunning    = "SCAN_ALREADY_RUNNING"
	CodeInternalError  = "INTERNAL_ERROR"
)

// Store is the persistence surface the API reads and writes.
type Store interface {
	GetScanRun(ctx context.Context, id string) (*store.ScanRun, error)
	GetRunningScan(ctx context.Context) (*store.ScanRun, error)
	LastCompletedScan(ctx context.Context, phase string) (*store.ScanRun, error)

	ListRules(ctx context.Context, f store.RuleFilter) ([]store.Rule, int, error)
	GetRule(ctx context.Context, id string) (*store.Rule, error)
	CreateRule(ctx context.Context, r *store.Rule) error
	UpdateRule(ctx context.Context, id string, p store.RulePatch) (*store.Rule, error)

	GetDataSource(ctx context.Context, id string) (*store.DataSource, error)
	ListAssets(ctx context.Context) ([]store.Asset, error)
	ListActiveAlerts(ctx context.Context, limit int) ([]store.Alert, error)
	ListContracts(ctx context.Context, enabledOnly bool) ([]store.Contract, error)
	CountOpenViolations(ctx context.Context, contractID string) (int, error)
	TransitionIssue(ctx context.Context, id, to string) (*store.Issue, error)
}

// ScanTrigger starts a scan pass.
type ScanTrigger interface {
	RunOnce(ctx context.Context) error
}

// ScoreReader serves dimension scores, possibly from cache.
type ScoreReader interface {
	Score(ctx context.Context, assetID string) (scoring.ScoreSet, error)
}

// ComplianceReader reports the rolling compliance rate of a contract.
type ComplianceReader interface {
	Compliance(ctx context.Context, contractID string) (float64, error)
}

// GroupSnoozer silences an alert group until a deadline.
type GroupSnoozer interface {
	Snooze(ctx context.Context, groupID string, until time.Time) error
}

// Handlers groups all HTTP handlers and shared dependencies.
type Handlers struct {
	Store      Store
	Scanner    ScanTrigger
	Scores     ScoreReader
	Compliance ComplianceReader
	Groups     GroupSnoozer
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

// OK writes a success envelope.
func OK(c *echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

// Fail writes a failure envelope with a stable error code.
func Fail(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

// RenderError maps domain errors to HTTP responses. Unrecognized errors are
// logged and hidden behind a 500.
func (h *Handlers) RenderError(c *echo.Context, err error) error {
	var cfgErr rules.ConfigError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Fail(c, http.StatusNotFound, CodeNotFound, "not found")
	case errors.As(err, &cfgErr):
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, cfgErr.Error())
	default:
		c.Logger().Error("http error",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
		return Fail(c, http.StatusInternalServerError, CodeInternalError, "internal server error")
	}
}

// HandleHealthz reports liveness.
func (h *Handlers) HandleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
