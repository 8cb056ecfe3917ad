package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"fleet-monitor/monitor/internal/metrics"
)

type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingFn(ctx)
}

func up() *mockPinger {
	return &mockPinger{pingFn: func(context.Context) error { return nil }}
}

func setupRouter(deps map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(NewHealthChecker(deps))
}

func TestHealthz_AllUp(t *testing.T) {
	r := setupRouter(map[string]Pinger{"postgres": up(), "redis": up()})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status       string                       `json:"status"`
		Dependencies map[string]map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.Dependencies["redis"]["status"] != "up" {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestHealthz_DependencyDown(t *testing.T) {
	down := &mockPinger{pingFn: func(context.Context) error { return errors.New("connection refused") }}
	r := setupRouter(map[string]Pinger{"postgres": down, "redis": up()})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("expected the ping error in the body, got %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.FixesReceived.Add(3)
	r := setupRouter(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "monitor_fixes_received_total") {
		t.Errorf("missing counter in %s", w.Body.String())
	}
}
