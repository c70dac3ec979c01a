package httpapp

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/open-dqm/open-dqm/internal/http/handlers"
)

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h   *handlers.Handlers
	e   *echo.Echo
	srv *http.Server
}

// NewEchoServer creates a new HTTP server.
func NewEchoServer(h *handlers.Handlers) (*EchoServer, error) {
	es := &EchoServer{h: h, e: echo.New()}
	es.e.Use(middleware.Recover())
	es.registerRoutes()
	return es, nil
}

func (es *EchoServer) registerRoutes() {
	es.e.GET("/healthz", es.h.HandleHealthz)

	api := es.e.Group("/api")
	api.POST("/scans", es.h.HandleScanTrigger)
	api.GET("/scans/:id", es.h.HandleScanStatus)

	api.GET("/quality/rules", es.h.HandleRulesList)
	api.POST("/quality/rules", es.h.HandleRuleCreate)
	api.PATCH("/quality/rules/:id", es.h.HandleRulePatch)

	api.GET("/dashboard/scores/:datasourceID", es.h.HandleDashboardScores)
	api.GET("/dashboard/alerts", es.h.HandleDashboardAlerts)
	api.GET("/dashboard/sla", es.h.HandleDashboardSLA)

	api.POST("/issues/:id/transition", es.h.HandleIssueTransition)
	api.POST("/alert-groups/:id/snooze", es.h.HandleGroupSnooze)
}

// Start starts the HTTP server.
func (es *EchoServer) Start(addr string) error {
	return es.e.Start(addr)
}

// StartServer starts the HTTP server with a custom http.Server.
func (es *EchoServer) StartServer(server *http.Server) error {
	server.Handler = es.e
	es.srv = server
	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (es *EchoServer) Shutdown(ctx context.Context) error {
	if es.srv == nil {
		return nil
	}
	return es.srv.Shutdown(ctx)
}
