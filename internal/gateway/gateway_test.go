package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"baton/internal/resilience"
)

func newTestBackend(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listener not permitted in this environment: %v", err)
	}
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(backends map[string]string) *Gateway {
	policy := resilience.DefaultPolicy()
	policy.Timeout = 0
	policy.MaxAttempts = 1
	pipeline := resilience.NewPipeline(resilience.NewRegistry(policy))
	return New(pipeline, backends, nil)
}

func TestGatewayForwardsToBackend(t *testing.T) {
	backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products" || r.URL.RawQuery != "page=2" {
			t.Errorf("unexpected backend request: %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization not forwarded: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	}))

	gw := newTestGateway(map[string]string{"catalog": backend.URL})

	req := httptest.NewRequest("GET", "/api/catalog/products?page=2", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `[{"id":"p1"}]` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
}

func TestGatewayServesFallbackWhenBackendFails(t *testing.T) {
	backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))

	gw := newTestGateway(map[string]string{"catalog": backend.URL})

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "/api/catalog/products", nil))

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := rec.Header().Get("X-Fallback-Response"); got != "true" {
		t.Fatalf("X-Fallback-Response = %q, want true", got)
	}

	var problem resilience.Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if !strings.HasSuffix(problem.Type, "catalog-unavailable") {
		t.Fatalf("problem type = %q", problem.Type)
	}
}

func TestGatewayUnknownService(t *testing.T) {
	gw := newTestGateway(map[string]string{"catalog": "http://127.0.0.1:1"})

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "/api/warehouse/bins", nil))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Fatalf("content type = %q", got)
	}

	var problem resilience.Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if !strings.HasSuffix(problem.Type, "unknown-service") {
		t.Fatalf("problem type = %q", problem.Type)
	}
}

func TestGatewayNonAPIPath(t *testing.T) {
	gw := newTestGateway(map[string]string{})

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSplitAPIPath(t *testing.T) {
	cases := []struct {
		path    string
		service string
		rest    string
		ok      bool
	}{
		{"/api/catalog/products", "catalog", "/products", true},
		{"/api/cart/items/42", "cart", "/items/42", true},
		{"/api/session", "session", "/", true},
		{"/api/", "", "", false},
		{"/healthz", "", "", false},
	}
	for _, tc := range cases {
		service, rest, ok := splitAPIPath(tc.path)
		if service != tc.service || rest != tc.rest || ok != tc.ok {
			t.Errorf("splitAPIPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.path, service, rest, ok, tc.service, tc.rest, tc.ok)
		}
	}
}
