package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/threatwatch/threatwatch/internal/api"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint
var Version = "dev"

// HTTPHandler handles the operational endpoints
type HTTPHandler struct {
	db      *gorm.DB
	metrics http.Handler
	log     *zap.Logger
}

// NewHTTPHandler creates a new HTTP handler. metricsHandler may be nil.
func NewHTTPHandler(db *gorm.DB, metricsHandler http.Handler, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		db:      db,
		metrics: metricsHandler,
		log:     log.Named("http"),
	}
}

// SetupRoutes configures the operational routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
}

// handleHealth reports liveness and database reachability
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	response := map[string]string{
		"status":   "ok",
		"version":  Version,
		"database": "ok",
	}
	status := http.StatusOK

	if err := h.pingDatabase(r.Context()); err != nil {
		h.log.Warn("Health check: database unreachable", zap.Error(err))
		response["status"] = "degraded"
		response["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	api.RespondJSON(w, status, response)
}

func (h *HTTPHandler) pingDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
