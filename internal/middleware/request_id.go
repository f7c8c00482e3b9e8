package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the correlation id in both directions
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

// requestScope is hung on the context once per request. Inner middleware
// fill in what they learn so the access log can report it afterwards.
type requestScope struct {
	id       string
	username string
}

type requestScopeKey struct{}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(requestScopeKey{}).(*requestScope)
	return s
}

// RequestIDMiddleware tags the request with a correlation id and echoes it
// back. A client id is kept only when it is a short token, since it is
// copied into log lines verbatim.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		scope := &requestScope{id: id}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestScopeKey{}, scope)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// GetRequestID returns the request's correlation id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.id
	}
	return ""
}

// LoggerFor returns log tagged with the request id, so handler log lines
// join up with the access log entry.
func LoggerFor(ctx context.Context, log *zap.Logger) *zap.Logger {
	if id := GetRequestID(ctx); id != "" {
		return log.With(zap.String("request_id", id))
	}
	return log
}

// noteIdentity records the authenticated username for the access log
func noteIdentity(ctx context.Context, username string) {
	if s := scopeFrom(ctx); s != nil {
		s.username = username
	}
}
