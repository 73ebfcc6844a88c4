package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/vsinha/costing/pkg/domain/operator"
	"go.uber.org/zap"
)

// OperatorHeader names the acting user for audit attribution
const OperatorHeader = "X-Operator"

// LoggingMiddleware logs HTTP requests and responses
func LoggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info(
				"HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.String("operator", operator.FromContext(r.Context())),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// OperatorMiddleware attaches the X-Operator header to the request context
func OperatorMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if name := r.Header.Get(OperatorHeader); name != "" {
				r = r.WithContext(operator.WithOperator(r.Context(), name))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader records the status before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
