package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
	httproutes "github.com/hoale240803/kaopiz-sub000/internal/transport/http/routes"
)

type staticKeySet struct{}

func (staticKeySet) JWKS() ([]byte, error) { return []byte(`{"keys":[]}`), nil }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newEngine(t *testing.T, deps httproutes.Dependencies) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps.Config = &config.AppConfig{App: config.AppSettings{Env: "test"}}
	deps.Logger = zaptest.NewLogger(t)
	deps.Registry = prometheus.NewRegistry()
	return httproutes.Register(deps)
}

func TestHealthEndpoint(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{Database: failingPinger{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("readiness body must not leak error text: %s", w.Body.String())
	}
}

func TestJWKSAndMetricsEndpoints(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{KeySet: staticKeySet{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"keys":[]}` {
		t.Fatalf("unexpected jwks response %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Fatal("expected jwks to be cacheable")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected metrics status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "auth_http_requests_total") {
		t.Fatalf("expected http request metrics to be exposed")
	}
}
