package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/database"
	"github.com/threatwatch/threatwatch/internal/metrics"
	"github.com/threatwatch/threatwatch/internal/middleware"
	"github.com/threatwatch/threatwatch/internal/ratelimit"
	"github.com/threatwatch/threatwatch/internal/services"
	"github.com/threatwatch/threatwatch/internal/testhelpers"
)

const testPassword = "Tr1age-Passw0rd"

// captureSink collects audit records
type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Record(_ context.Context, rec audit.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureSink) all() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Record(nil), c.records...)
}

// testServer is the full HTTP stack over an in-memory database
type testServer struct {
	t        *testing.T
	db       *gorm.DB
	handler  http.Handler
	jwtAuth  *middleware.JWTAuthMiddleware
	metrics  *metrics.Metrics
	hub      *StreamHub
	sink     *captureSink
	admin    *database.User
	analyst  *database.User
	accounts *services.AccountService
}

// serverSettings are the knobs a test can turn on the router
type serverSettings struct {
	rateLimit      middleware.RateLimitConfig
	trustedProxies []netip.Prefix
}

type serverOption func(*serverSettings)

func withRateLimits(anon, user int) serverOption {
	return func(c *serverSettings) {
		c.rateLimit.AnonPerMinute = anon
		c.rateLimit.UserPerMinute = user
	}
}

func withTrustedProxies(prefixes ...string) serverOption {
	return func(c *serverSettings) {
		for _, p := range prefixes {
			c.trustedProxies = append(c.trustedProxies, netip.MustParsePrefix(p))
		}
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	log := zap.NewNop()

	m := metrics.New()
	hub := NewStreamHub([]string{"*"}, log)
	t.Cleanup(hub.Close)
	sink := &captureSink{}
	recorder := audit.NewRecorder(log, m, hub, sink)

	engine := services.NewAlertEngine(db, recorder, log)
	events := services.NewEventService(db, engine, log)
	events.SetObserver(m)
	alerts := services.NewAlertService(db, recorder, log)
	accounts := services.NewAccountService(db, services.PasswordPolicy{MinLength: 8}, log)

	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		JWTSecret:  "handler-test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, accounts, log)

	settings := serverSettings{
		rateLimit: middleware.RateLimitConfig{AnonPerMinute: 1000, UserPerMinute: 1000, SkipPaths: []string{"/health", "/metrics"}},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	limiter := middleware.NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(), settings.rateLimit, m, log)

	handler := NewRouter(RouterConfig{
		Routes: []RouteRegistrar{
			NewAuthHandler(accounts, jwtAuth, log),
			NewEventHandler(events, api.PageLimits{Default: 20, Max: 100}, log),
			NewAlertHandler(alerts, api.PageLimits{Default: 10, Max: 100}, log),
			NewAccountHandler(accounts, log),
			NewDemoHandler(events, log),
			hub,
			NewHTTPHandler(db, m.Handler(), log),
			NewDocsHandler(log),
		},
		JWTAuth:        jwtAuth,
		RateLimit:      limiter,
		Metrics:        m,
		CORSOrigins:    []string{"*"},
		TrustedProxies: settings.trustedProxies,
		Log:            log,
	})

	hash, err := services.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin := testhelpers.NewUserBuilder().WithUsername("admin").WithPasswordHash(hash).AsAdmin().Create(t, db)
	analyst := testhelpers.NewUserBuilder().WithUsername("analyst1").WithPasswordHash(hash).Create(t, db)

	return &testServer{
		t:        t,
		db:       db,
		handler:  handler,
		jwtAuth:  jwtAuth,
		metrics:  m,
		hub:      hub,
		sink:     sink,
		admin:    admin,
		analyst:  analyst,
		accounts: accounts,
	}
}

// token issues an access token for username
func (s *testServer) token(username string) string {
	s.t.Helper()
	pair, err := s.jwtAuth.GenerateTokenPair(username)
	if err != nil {
		s.t.Fatalf("GenerateTokenPair(%s): %v", username, err)
	}
	return pair.Access
}

// do runs a request through the full stack. token may be empty.
func (s *testServer) do(method, path, token string, body interface{}) *testhelpers.HTTPTestContext {
	s.t.Helper()
	ctx := testhelpers.NewHTTPTestContext(s.t, method, path, nil)
	if token != "" {
		ctx.WithBearerToken(token)
	}
	if body != nil {
		ctx.WithJSONBody(body)
	}
	return ctx.Execute(s.handler)
}

func (s *testServer) alertCount() int64 {
	s.t.Helper()
	var n int64
	if err := s.db.Model(&database.Alert{}).Count(&n).Error; err != nil {
		s.t.Fatalf("count alerts: %v", err)
	}
	return n
}

func (s *testServer) reloadAlert(id uint) database.Alert {
	s.t.Helper()
	var alert database.Alert
	if err := s.db.First(&alert, id).Error; err != nil {
		s.t.Fatalf("reload alert %d: %v", id, err)
	}
	return alert
}

// alertListResponse mirrors the paginated alert listing
type alertListResponse struct {
	Data       []api.AlertResponse `json:"data"`
	Pagination api.PaginationMeta  `json:"pagination"`
}

type eventListResponse struct {
	Data       []api.EventResponse `json:"data"`
	Pagination api.PaginationMeta  `json:"pagination"`
}
