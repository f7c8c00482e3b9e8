package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request once the response is written.
// Behind RequestIDMiddleware the line carries the request id, and the user
// once the auth middleware has resolved one.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := r.Context()
			scope := scopeFrom(ctx)
			if scope == nil {
				scope = &requestScope{}
				ctx = context.WithValue(ctx, requestScopeKey{}, scope)
			}
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if scope.username != "" {
				fields = append(fields, zap.String("user", scope.username))
			}

			reqLog := LoggerFor(ctx, log)
			switch {
			case status >= 500:
				reqLog.Error("Request failed", fields...)
			case status >= 400:
				reqLog.Info("Request rejected", fields...)
			default:
				reqLog.Info("Request completed", fields...)
			}
		})
	}
}
