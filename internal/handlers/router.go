package handlers

import (
	"net/http"
	"net/netip"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/metrics"
	"github.com/threatwatch/threatwatch/internal/middleware"
	"go.uber.org/zap"
)

// RouteRegistrar is implemented by every handler group
type RouteRegistrar interface {
	SetupRoutes(mux *http.ServeMux)
}

// RouterConfig gathers the handler groups and the middleware they run behind
type RouterConfig struct {
	Routes         []RouteRegistrar
	JWTAuth        *middleware.JWTAuthMiddleware
	RateLimit      *middleware.RateLimitMiddleware // optional
	Metrics        *metrics.Metrics                // optional
	CORSOrigins    []string
	TrustedProxies []netip.Prefix // may set X-Forwarded-For; others are keyed by socket address
	Log            *zap.Logger
}

// NewRouter builds the mux and wraps it in the middleware chain, outermost first:
// client address, request id, request log, panic recovery, metrics, CORS, identity,
// rate limit.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	for _, r := range cfg.Routes {
		r.SetupRoutes(mux)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.RespondNotFound(w, "Not found")
	})

	var handler http.Handler = mux
	if cfg.RateLimit != nil {
		handler = cfg.RateLimit.Wrap(handler)
	}
	handler = cfg.JWTAuth.Wrap(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	if cfg.Metrics != nil {
		handler = cfg.Metrics.Middleware(handler)
	}
	handler = chimw.Recoverer(handler)
	handler = middleware.RequestLogger(cfg.Log)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RealIP(cfg.TrustedProxies)(handler)
	return handler
}
