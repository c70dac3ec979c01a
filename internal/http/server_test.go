package httpapp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/open-dqm/open-dqm/internal/http/handlers"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	es, err := NewEchoServer(&handlers.Handlers{})
	if err != nil {
		t.Fatalf("NewEchoServer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	es.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	es, err := NewEchoServer(&handlers.Handlers{})
	if err != nil {
		t.Fatalf("NewEchoServer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	es.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
