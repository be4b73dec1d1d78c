package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"go.uber.org/zap"
)

// mockModuleSource satisfies the ModuleSource interface for testing.
type mockModuleSource struct {
	modules []plugin.Plugin
	routes  map[string][]plugin.Route
}

func (m *mockModuleSource) AllRoutes() map[string][]plugin.Route {
	if m.routes != nil {
		return m.routes
	}
	return map[string][]plugin.Route{}
}

func (m *mockModuleSource) All() []plugin.Plugin {
	return m.modules
}

// stubModule satisfies plugin.Plugin for testing.
type stubModule struct {
	info plugin.PluginInfo
}

func (s *stubModule) Info() plugin.PluginInfo                          { return s.info }
func (s *stubModule) Init(_ context.Context, _ plugin.Dependencies) error { return nil }
func (s *stubModule) Start(_ context.Context) error                    { return nil }
func (s *stubModule) Stop(_ context.Context) error                     { return nil }

func newTestServer(ready ReadinessChecker, routes map[string][]plugin.Route) *Server {
	logger, _ := zap.NewDevelopment()
	modules := &mockModuleSource{
		modules: []plugin.Plugin{
			&stubModule{info: plugin.PluginInfo{
				Name:        "rollout",
				Version:     "0.1.0",
				Description: "Firmware release catalog",
			}},
		},
		routes: routes,
	}
	return New("127.0.0.1:0", modules, logger, ready, nil, false)
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(nil, nil)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "alive" {
		t.Errorf("status = %q, want %q", body["status"], "alive")
	}
}

func TestHandleReadyz_Healthy(t *testing.T) {
	ready := ReadinessChecker(func(_ context.Context) error {
		return nil
	})
	srv := newTestServer(ready, nil)

	req := httptest.NewRequest("GET", "/readyz", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ready" {
		t.Errorf("status = %q, want %q", body["status"], "ready")
	}
}

func TestHandleReadyz_Unhealthy(t *testing.T) {
	ready := ReadinessChecker(func(_ context.Context) error {
		return errors.New("database unreachable")
	})
	srv := newTestServer(ready, nil)

	req := httptest.NewRequest("GET", "/readyz", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "not ready" {
		t.Errorf("status = %q, want %q", body["status"], "not ready")
	}
	if !strings.Contains(body["error"], "database unreachable") {
		t.Errorf("error = %q, want it to contain %q", body["error"], "database unreachable")
	}
}

func TestHandleModules(t *testing.T) {
	srv := newTestServer(nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/modules", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body []ModuleResponse
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 1 || body[0].Name != "rollout" {
		t.Errorf("modules = %+v, want [rollout]", body)
	}
}

func TestModuleRoutesMounted(t *testing.T) {
	called := false
	routes := map[string][]plugin.Route{
		"fleet": {
			{Method: "GET", Path: "/devices", Handler: func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}},
		},
	}
	srv := newTestServer(nil, routes)

	req := httptest.NewRequest("GET", "/api/v1/fleet/devices", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if !called {
		t.Error("module route handler not invoked")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv := newTestServer(nil, nil)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	if w.Header().Get("X-FleetWarden-Version") == "" {
		t.Error("X-FleetWarden-Version header missing")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestMetricPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/api/v1/fleet/devices", "/api/v1/fleet/devices"},
		{"/api/v1/fleet/devices/dev-42", "/api/v1/fleet/devices/:id"},
		{"/api/v1/fleet/devices/dev-42/measurements", "/api/v1/fleet/devices/:id/measurements"},
		{"/api/v1/shadow/devices/dev-42/diff", "/api/v1/shadow/devices/:id/diff"},
		{"/api/v1/rollout/releases/1.3.0/rollback", "/api/v1/rollout/releases/:id/rollback"},
		{"/api/v1/rollout/next", "/api/v1/rollout/next"},
		{"/healthz", "/healthz"},
	}
	for _, tc := range cases {
		if got := metricPath(tc.in); got != tc.want {
			t.Errorf("metricPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	routes := map[string][]plugin.Route{
		"fleet": {
			{Method: "GET", Path: "/panic", Handler: func(_ http.ResponseWriter, _ *http.Request) {
				panic("boom")
			}},
		},
	}
	srv := newTestServer(nil, routes)

	req := httptest.NewRequest("GET", "/api/v1/fleet/panic", http.NoBody)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d after panic", w.Code, http.StatusInternalServerError)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want problem+json", ct)
	}
}
