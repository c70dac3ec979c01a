package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-dqm/open-dqm/internal/store"
)

type groupSnoozeRequest struct {
	// Until is an RFC 3339 deadline. Duration ("24h") is the alternative;
	// Until wins when both are set.
	Until    string `json:"until"`
	Duration string `json:"duration"`
}

// HandleGroupSnooze silences an alert group until the requested deadline.
func (h *Handlers) HandleGroupSnooze(c *echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "group id is required")
	}

	var req groupSnoozeRequest
	if err := c.Bind(&req); err != nil {
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
	}

	var until time.Time
	switch {
	case strings.TrimSpace(req.Until) != "":
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Until))
		if err != nil {
			return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "until must be an RFC 3339 timestamp")
		}
		until = parsed
	case strings.TrimSpace(req.Duration) != "":
		dur, err := time.ParseDuration(strings.TrimSpace(req.Duration))
		if err != nil || dur <= 0 {
			return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "duration must be a positive Go duration")
		}
		until = time.Now().Add(dur)
	default:
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, "until or duration is required")
	}

	if err := h.Groups.Snooze(c.Request().Context(), id, until); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return h.RenderError(c, err)
		}
		// Past deadlines are rejected by the grouper.
		return Fail(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}
	return OK(c, http.StatusOK, map[string]any{
		"group_id":     id,
		"snooze_until": until.UTC().Format(time.RFC3339),
	})
}
