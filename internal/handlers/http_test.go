package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/testhelpers"
)

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	s.do(http.MethodGet, "/health", "", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&body)
	if body["status"] != "ok" || body["database"] != "ok" || body["version"] != Version {
		t.Errorf("health = %v", body)
	}
}

func TestHealth_DatabaseUnreachable(t *testing.T) {
	s := newTestServer(t)
	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	_ = sqlDB.Close()

	var body map[string]string
	s.do(http.MethodGet, "/health", "", nil).
		AssertStatus(http.StatusServiceUnavailable).
		DecodeJSON(&body)
	if body["status"] != "degraded" || body["database"] != "unreachable" {
		t.Errorf("health = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodPost, "/api/events", s.token("analyst1"), api.CreateEventRequest{
		SourceName: "IDS-1", EventType: "MALWARE", Severity: "HIGH", Description: "dropper",
	}).AssertStatus(http.StatusCreated)

	ctx := s.do(http.MethodGet, "/metrics", "", nil).AssertStatus(http.StatusOK)
	body := ctx.Recorder.Body.String()
	for _, want := range []string{
		"threatwatch_events_ingested_total",
		"threatwatch_alerts_created_total",
		"threatwatch_http_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestDocs(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodGet, "/api/openapi.yaml", "", nil).
		AssertStatus(http.StatusOK).
		AssertHeader("Content-Type", "application/yaml").
		AssertBodyContains("openapi: 3.0.3")

	ctx := s.do(http.MethodGet, "/api/openapi.json", "", nil).
		AssertStatus(http.StatusOK).
		AssertHeader("Content-Type", "application/json")
	var doc map[string]interface{}
	if err := json.Unmarshal(ctx.Recorder.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi.json is not JSON: %v", err)
	}
	paths, ok := doc["paths"].(map[string]interface{})
	if !ok {
		t.Fatalf("openapi.json has no paths object")
	}
	for _, p := range []string{"/api/events", "/api/alerts", "/api/alerts/{id}/status", "/api/accounts/analysts"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi.json missing path %s", p)
		}
	}

	s.do(http.MethodGet, "/api/docs", "", nil).
		AssertStatus(http.StatusOK).
		AssertBodyContains("ThreatWatch API Docs")
}

func TestYAMLToJSON(t *testing.T) {
	out, err := yamlToJSON([]byte("a: 1\nb:\n  \"200\": ok\nc: [x, y]\n"))
	if err != nil {
		t.Fatalf("yamlToJSON: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out)
	}
	if got["a"] != float64(1) {
		t.Errorf("a = %v", got["a"])
	}
	if b, ok := got["b"].(map[string]interface{}); !ok || b["200"] != "ok" {
		t.Errorf("b = %v", got["b"])
	}

	if _, err := yamlToJSON([]byte("a: [unclosed")); err == nil {
		t.Error("expected an error for invalid YAML")
	}
}

func TestRouter_UnknownPathIsJSON404(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodGet, "/api/nothing-here", s.token("admin"), nil).
		AssertStatus(http.StatusNotFound).
		AssertErrorCode(api.CodeNotFound).
		AssertHeader("Content-Type", "application/json")
}

func TestRouter_RequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	ctx := testhelpers.NewHTTPTestContext(t, http.MethodGet, "/health", nil).
		WithHeader("X-Request-ID", "trace-abc-123").
		Execute(s.handler)
	ctx.AssertHeader("X-Request-ID", "trace-abc-123")
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	ctx := testhelpers.NewHTTPTestContext(t, http.MethodOptions, "/api/events", nil).
		WithHeader("Origin", "https://soc.example.com").
		WithHeader("Access-Control-Request-Method", "POST").
		WithHeader("Access-Control-Request-Headers", "Authorization, Content-Type").
		Execute(s.handler)

	if ctx.Recorder.Code >= 300 {
		t.Errorf("preflight status = %d", ctx.Recorder.Code)
	}
	if got := ctx.Recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	s := newTestServer(t, withRateLimits(2, 3))

	// anonymous callers are keyed by address
	s.do(http.MethodGet, "/api/alerts", "", nil).AssertStatus(http.StatusUnauthorized)
	s.do(http.MethodGet, "/api/alerts", "", nil).AssertStatus(http.StatusUnauthorized)
	s.do(http.MethodGet, "/api/alerts", "", nil).
		AssertStatus(http.StatusTooManyRequests).
		AssertErrorCode(api.CodeRateLimited)

	// an authenticated user has a separate budget
	token := s.token("analyst1")
	for i := 0; i < 3; i++ {
		s.do(http.MethodGet, "/api/alerts", token, nil).
			AssertStatus(http.StatusOK).
			AssertHeader("X-RateLimit-Limit", "3")
	}
	ctx := s.do(http.MethodGet, "/api/alerts", token, nil).AssertStatus(http.StatusTooManyRequests)
	if ctx.Recorder.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}

	// health is never throttled
	for i := 0; i < 5; i++ {
		s.do(http.MethodGet, "/health", "", nil).AssertStatus(http.StatusOK)
	}

	metrics := s.do(http.MethodGet, "/metrics", "", nil).Recorder.Body.String()
	if !strings.Contains(metrics, "threatwatch_rate_limited_requests_total") {
		t.Error("rate limit rejections not counted")
	}
}

// loginAttempt posts bad credentials from remoteAddr with the given X-Forwarded-For
func (s *testServer) loginAttempt(remoteAddr, forwardedFor string) int {
	s.t.Helper()
	ctx := testhelpers.NewHTTPTestContext(s.t, http.MethodPost, "/api/auth/token", nil).
		WithJSONBody(api.TokenRequest{Username: "analyst1", Password: "guess-guess"}).
		WithRemoteAddr(remoteAddr)
	if forwardedFor != "" {
		ctx.WithHeader("X-Forwarded-For", forwardedFor)
	}
	return ctx.Execute(s.handler).Recorder.Code
}

func TestRouter_RateLimitIgnoresForwardedForFromClients(t *testing.T) {
	s := newTestServer(t, withRateLimits(2, 100))

	throttled := 0
	for i := 1; i <= 20; i++ {
		code := s.loginAttempt("198.51.100.20:4000", fmt.Sprintf("10.0.0.%d", i))
		if i <= 2 && code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i, code)
		}
		if code == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled != 18 {
		t.Errorf("throttled = %d of 20, want 18", throttled)
	}

	// X-Real-IP is no better
	ctx := testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/auth/token", nil).
		WithJSONBody(api.TokenRequest{Username: "analyst1", Password: "guess-guess"}).
		WithRemoteAddr("198.51.100.20:4001").
		WithHeader("X-Real-IP", "10.9.9.9").
		Execute(s.handler)
	ctx.AssertStatus(http.StatusTooManyRequests)
}

func TestRouter_RateLimitBehindTrustedProxy(t *testing.T) {
	s := newTestServer(t, withRateLimits(2, 100), withTrustedProxies("203.0.113.0/24"))
	const proxy = "203.0.113.5:443"

	// clients behind the proxy each get their own budget
	for i := 1; i <= 5; i++ {
		if code := s.loginAttempt(proxy, fmt.Sprintf("198.51.100.%d", i)); code != http.StatusUnauthorized {
			t.Errorf("client %d first attempt = %d, want 401", i, code)
		}
	}

	// a client prepending its own hops is still keyed by the address the proxy saw
	codes := make([]int, 0, 4)
	for i := 1; i <= 4; i++ {
		codes = append(codes, s.loginAttempt(proxy, fmt.Sprintf("10.1.1.%d, 198.51.100.77", i)))
	}
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized ||
		codes[2] != http.StatusTooManyRequests || codes[3] != http.StatusTooManyRequests {
		t.Errorf("spoofed-hop attempts = %v, want [401 401 429 429]", codes)
	}

	// a direct caller outside the trusted range cannot use the header
	for i := 1; i <= 3; i++ {
		code := s.loginAttempt("192.0.2.50:5000", fmt.Sprintf("198.51.100.%d", 100+i))
		if i == 3 && code != http.StatusTooManyRequests {
			t.Errorf("untrusted third attempt = %d, want 429", code)
		}
	}
}
