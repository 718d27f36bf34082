package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gtg-gateway/pkg/logging/logging"
)

// SessionHeader carries the browsing session id. Requests without it share the "anon" session.
const SessionHeader = "X-Session-ID"

// LoggingContext attaches a request-scoped logger and the session id to the context.
func LoggingContext(baseLogger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			reqLogger := baseLogger.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			if reqID := chimw.GetReqID(ctx); reqID != "" {
				reqLogger = reqLogger.With(zap.String("request_id", reqID))
			}
			if r.RemoteAddr != "" {
				reqLogger = reqLogger.With(zap.String("remote_ip", r.RemoteAddr))
			}

			ctx = logging.WithLogger(ctx, reqLogger)

			sessionID := r.Header.Get(SessionHeader)
			if sessionID == "" {
				sessionID = "anon"
			}
			ctx = logging.WithSession(ctx, sessionID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
